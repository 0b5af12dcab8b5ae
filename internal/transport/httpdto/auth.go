package httpdto

// LoginRequest is used for POST /v1/auth/login
type LoginRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// AuthResponse is returned after a successful login
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	OperatorID  string `json:"operator_id"`
}
