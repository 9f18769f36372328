package errs

import (
	"encoding/json"
	"net/http"
)

// ErrorType 定义标准错误类型
type ErrorType string

const (
	ErrorTypeAuth       ErrorType = "AUTH_ERROR"       // 认证错误
	ErrorTypePermission ErrorType = "PERMISSION_ERROR" // 权限错误
	ErrorTypeResource   ErrorType = "RESOURCE_ERROR"   // 资源未找到
	ErrorTypeInput      ErrorType = "INPUT_ERROR"      // 输入错误
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"   // 内部服务器错误
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR" // 字段校验失败
)

// APIError 是 API 路由返回给调用方的统一错误结构
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// ToJSON 将APIError转换为JSON格式
func (e *APIError) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"INTERNAL_ERROR","code":500,"message":"Error serializing error response"}`)
	}
	return data
}

func NewAuthError(message string) *APIError {
	return &APIError{Type: ErrorTypeAuth, Code: http.StatusUnauthorized, Message: message}
}

func NewPermissionError(message string) *APIError {
	return &APIError{Type: ErrorTypePermission, Code: http.StatusForbidden, Message: message}
}

func NewInputError(message string) *APIError {
	return &APIError{Type: ErrorTypeInput, Code: http.StatusBadRequest, Message: message}
}

// NewValidationError 的 details 通常是字段到错误消息列表的映射
func NewValidationError(details any) *APIError {
	return &APIError{
		Type:    ErrorTypeValidation,
		Code:    http.StatusUnprocessableEntity,
		Message: "The given data was invalid.",
		Details: details,
	}
}

func NewResourceNotFoundError(resource string) *APIError {
	return &APIError{Type: ErrorTypeResource, Code: http.StatusNotFound, Message: resource + " not found"}
}

func NewInternalError(message string) *APIError {
	if message == "" {
		message = "Internal Server Error"
	}
	return &APIError{Type: ErrorTypeInternal, Code: http.StatusInternalServerError, Message: message}
}

// NewErrorFromStatus 根据HTTP状态码挑选错误类型
func NewErrorFromStatus(statusCode int, message string) *APIError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	var t ErrorType
	switch {
	case statusCode == http.StatusUnauthorized:
		t = ErrorTypeAuth
	case statusCode == http.StatusForbidden:
		t = ErrorTypePermission
	case statusCode == http.StatusNotFound:
		t = ErrorTypeResource
	case statusCode >= 400 && statusCode < 500:
		t = ErrorTypeInput
	default:
		t = ErrorTypeInternal
	}
	return &APIError{Type: t, Code: statusCode, Message: message}
}
