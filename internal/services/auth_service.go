package services

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"clinic-phone/config"
	phone_errors "clinic-phone/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthService signs in the front desk operator. The phone line has a single
// operator account configured through the environment.
type AuthService struct {
	operatorID   string
	passwordHash []byte
	jwtSecret    []byte
	accessTTL    time.Duration
	now          func() time.Time
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		operatorID:   cfg.OperatorID,
		passwordHash: []byte(cfg.OperatorPasswordHash),
		jwtSecret:    []byte(cfg.JWTSecret),
		accessTTL:    time.Duration(cfg.JWTExpiryMin) * time.Minute,
		now:          time.Now,
	}
}

type LoginInput struct {
	OperatorID string `json:"operator_id"`
	Password   string `json:"password"`
}

type AuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	OperatorID  string `json:"operator_id"`
}

type AccessClaims struct {
	OperatorID string `json:"sub"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// Enabled reports whether login is configured. When it is not, the phone
// routes are open.
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0 && len(s.passwordHash) > 0
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResponse, error) {
	if err := ctx.Err(); err != nil {
		return AuthResponse{}, err
	}
	if err := validateLogin(in); err != nil {
		return AuthResponse{}, err
	}
	if !s.Enabled() {
		return AuthResponse{}, phone_errors.ErrServiceUnavailable
	}
	if subtle.ConstantTimeCompare([]byte(in.OperatorID), []byte(s.operatorID)) != 1 {
		return AuthResponse{}, phone_errors.ErrUnauthorized
	}
	if err := comparePassword(s.passwordHash, in.Password); err != nil {
		return AuthResponse{}, phone_errors.ErrUnauthorized
	}

	sessionID := uuid.NewString()
	token, expiresIn, err := s.newAccessToken(s.operatorID, sessionID)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		SessionID:   sessionID,
		OperatorID:  s.operatorID,
	}, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, phone_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, phone_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return AccessClaims{}, phone_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.OperatorID != s.operatorID {
		return AccessClaims{}, phone_errors.ErrUnauthorized
	}

	return *claims, nil
}

func (s *AuthService) newAccessToken(operatorID, sessionID string) (string, int64, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	claims := AccessClaims{
		OperatorID: operatorID,
		SessionID:  sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

type ctxKey string

var operatorIDKey ctxKey = "operator_id"
var sessionIDKey ctxKey = "session_id"

func WithOperatorContext(ctx context.Context, operatorID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, operatorIDKey, operatorID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return ctx
}

func OperatorIDFromContext(ctx context.Context) (string, bool) {
	operatorID, ok := ctx.Value(operatorIDKey).(string)
	return operatorID, ok
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok
}

func validateLogin(in LoginInput) error {
	if strings.TrimSpace(in.OperatorID) == "" || in.Password == "" {
		return phone_errors.ErrInvalidInput
	}
	return nil
}

// HashPassword produces the value expected in OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func comparePassword(hash []byte, password string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(password))
}
