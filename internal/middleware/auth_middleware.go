package middleware

import (
	"net/http"
	"strings"

	"clinic-phone/internal/services"
	"clinic-phone/internal/transport/httpdto"
	"clinic-phone/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a valid operator token. When login is not
// configured every request passes.
func AuthMiddleware(service *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !service.Enabled() {
			c.Next()
			return
		}

		token := extractBearer(c)
		if token == "" {
			// browsers cannot set headers on a websocket upgrade
			token = c.Query("access_token")
		}
		claims, err := service.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		ctx := services.WithOperatorContext(c.Request.Context(), claims.OperatorID, claims.SessionID)
		ctx = logger.WithOperator(ctx, claims.OperatorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
