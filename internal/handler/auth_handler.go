// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"context"
	"net/http"

	"clinic-phone/internal/services"
	"clinic-phone/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// AuthResetter clears the login attempt counter of a client after success.
type AuthResetter interface {
	ResetAuth(ctx context.Context, ip string) error
}

// AuthHandler handles operator login.
type AuthHandler struct {
	service *services.AuthService
	limiter AuthResetter
}

func NewAuthHandler(service *services.AuthService, limiter AuthResetter) *AuthHandler {
	return &AuthHandler{service: service, limiter: limiter}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req httpdto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.Login(c.Request.Context(), services.LoginInput{
		OperatorID: req.OperatorID,
		Password:   req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.limiter != nil {
		_ = h.limiter.ResetAuth(c.Request.Context(), c.ClientIP())
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.AuthResponse{
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
		SessionID:   res.SessionID,
		OperatorID:  res.OperatorID,
	}))
}

// Me echoes the operator bound to the request token.
func (h *AuthHandler) Me(c *gin.Context) {
	operatorID, _ := services.OperatorIDFromContext(c.Request.Context())
	sessionID, _ := services.SessionIDFromContext(c.Request.Context())
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"operator_id":  operatorID,
		"session_id":   sessionID,
		"auth_enabled": h.service.Enabled(),
	}))
}
