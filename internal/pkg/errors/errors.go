package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code and message so copies made by WithDetails
// still compare equal to the package-level value.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails returns a copy of the error carrying details
func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Common errors
var (
	// 400 Bad Request
	ErrBadRequest   = New(http.StatusBadRequest, "請求格式錯誤")
	ErrValidation   = New(http.StatusBadRequest, "驗證失敗")
	ErrInvalidInput = New(http.StatusBadRequest, "無效的輸入資料")

	// 401 Unauthorized
	ErrUnauthorized = New(http.StatusUnauthorized, "未授權的請求")
	ErrInvalidToken = New(http.StatusUnauthorized, "無效的 Token")
	ErrTokenExpired = New(http.StatusUnauthorized, "Token 已過期")

	// 403 Forbidden
	ErrForbidden = New(http.StatusForbidden, "禁止存取")

	// 404 Not Found
	ErrNotFound     = New(http.StatusNotFound, "資源不存在")
	ErrRoomNotFound = New(http.StatusNotFound, "放映室不存在")

	// 409 Conflict
	ErrConflict      = New(http.StatusConflict, "資源衝突")
	ErrAlreadyMember = New(http.StatusConflict, "已經是放映室成員")
	ErrStaleUpdate   = New(http.StatusConflict, "播放狀態已被更新，請重新取得後再送出")

	// 422 Unprocessable Entity
	ErrRoomFull = New(http.StatusUnprocessableEntity, "放映室已滿")

	// 429 Too Many Requests
	ErrTooManyRequests = New(http.StatusTooManyRequests, "請求過於頻繁，請稍後再試")

	// 500 Internal Server Error
	ErrInternal = New(http.StatusInternalServerError, "伺服器內部錯誤")

	// 503 Service Unavailable
	ErrUnavailable = New(http.StatusServiceUnavailable, "服務暫時無法使用，請稍後再試")
)

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// GetMessage returns the error message
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "伺服器內部錯誤"
}
