package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Claude 错误类型
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypePermission     = "permission_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeOverloaded     = "overloaded_error"
)

// ErrorResponse 管理接口的错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondClaudeError 返回 Claude API 格式的错误响应
func respondClaudeError(c *gin.Context, status int, errorType, message string) {
	c.JSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errorType,
			"message": message,
		},
	})
}

// claudeErrorType 按上游状态码选择 Claude 错误类型
func claudeErrorType(status int) string {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrorTypeInvalidRequest
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypePermission
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable, status == 529:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeAPI
	}
}
