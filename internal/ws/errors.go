package ws

import "fmt"

// 稳定的机器可读错误码，随 error 事件下发给出错的会话。
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeValidation       = "VALIDATION"
	CodeEncryptionFailed = "ENCRYPTION_FAILED"
	CodeDecryptionFailed = "DECRYPTION_FAILED"
	CodeSendFailed       = "SEND_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL"
)

// Error 携带错误码与人类可读信息，只发送给出错的会话，绝不广播。
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func accessDenied(msg string) *Error  { return NewError(CodeAccessDenied, msg) }
func validation(msg string) *Error    { return NewError(CodeValidation, msg) }
func notFound(msg string) *Error      { return NewError(CodeNotFound, msg) }
func sendFailed(msg string) *Error    { return NewError(CodeSendFailed, msg) }
func internalError(msg string) *Error { return NewError(CodeInternal, msg) }
