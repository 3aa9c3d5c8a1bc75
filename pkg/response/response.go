package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/payrelay/internal/gateway"
	"github.com/ksred/payrelay/internal/ledger"
	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/ksred/payrelay/internal/signature"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeRateLimited       = "RATE_LIMITED"

	// Payment verification codes
	ErrCodeMissingFields       = "MISSING_FIELDS"
	ErrCodeInvalidSignature    = "INVALID_SIGNATURE"
	ErrCodeOrderNotFound       = "ORDER_NOT_FOUND"
	ErrCodeMissingSignature    = "MISSING_SIGNATURE"
	ErrCodeServerMisconfigured = "SERVER_MISCONFIGURATION"
	ErrCodeGatewayError        = "GATEWAY_ERROR"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, signature.ErrMissingFields):
		Fail(c, http.StatusBadRequest, ErrCodeMissingFields, err.Error())
	case errors.Is(err, signature.ErrSignatureInvalid):
		Fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "Invalid signature")
	case errors.Is(err, signature.ErrMissingSignature):
		Fail(c, http.StatusBadRequest, ErrCodeMissingSignature, err.Error())
	case errors.Is(err, signature.ErrServerMisconfigured):
		Fail(c, http.StatusInternalServerError, ErrCodeServerMisconfigured, "Webhook verification is not configured")
	case errors.Is(err, reconcile.ErrOrderNotFound):
		Fail(c, http.StatusNotFound, ErrCodeOrderNotFound, "Order not found")
	case errors.Is(err, ledger.ErrNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, ledger.ErrDuplicateKey):
		Conflict(c, "Resource already exists")
	case errors.Is(err, gateway.ErrRejected), errors.Is(err, gateway.ErrUnavailable):
		Fail(c, http.StatusBadGateway, ErrCodeGatewayError, "Payment gateway could not create the order")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// OK sends a 200 response regardless of method, for acknowledgments
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Fail sends an error response with an explicit status and code
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationFailed sends a 422 response
func ValidationFailed(c *gin.Context, message string) {
	Fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}
