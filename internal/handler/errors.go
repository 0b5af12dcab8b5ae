package handler

import (
	"errors"
	"net/http"

	"clinic-phone/internal/transport/httpdto"
	phone_errors "clinic-phone/pkg/errors"

	"github.com/gin-gonic/gin"
)

// HTTPStatus maps service and provider errors to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, phone_errors.ErrInvalidInput),
		errors.Is(err, phone_errors.ErrInvalidTarget),
		errors.Is(err, phone_errors.ErrInvalidDigits):
		return http.StatusBadRequest
	case errors.Is(err, phone_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, phone_errors.ErrNotFound),
		errors.Is(err, phone_errors.ErrCallNotFound),
		errors.Is(err, phone_errors.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, phone_errors.ErrInvalidState),
		errors.Is(err, phone_errors.ErrNotRegistered),
		errors.Is(err, phone_errors.ErrNoLastNumber),
		errors.Is(err, phone_errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, phone_errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, phone_errors.ErrNotInitialized),
		errors.Is(err, phone_errors.ErrProviderClosed),
		errors.Is(err, phone_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, phone_errors.ErrNetwork),
		errors.Is(err, phone_errors.ErrRegistrationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode prefers the taxonomy code carried by err.
func errorCode(err error, status int) string {
	if code, ok := phone_errors.CodeOf(err); ok {
		return string(code)
	}
	if errors.Is(err, phone_errors.ErrNoLastNumber) {
		return "NO_LAST_NUMBER"
	}
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

func writeError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	c.JSON(status, httpdto.NewErrorResponse(err.Error(), errorCode(err, status)))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "INVALID_REQUEST"))
}
