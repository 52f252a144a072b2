package protocol

import "errors"

// ErrorCode 错误码，随错误响应返回给客户端
type ErrorCode string

const (
	CodeNotRegistered         ErrorCode = "NotRegistered"
	CodeDuplicateRegistration ErrorCode = "DuplicateRegistration"
	CodeRoleMismatch          ErrorCode = "RoleMismatch"
	CodeUnauthorized          ErrorCode = "Unauthorized"
	CodeInvalidIndex          ErrorCode = "InvalidIndex"
	CodeAlreadyActive         ErrorCode = "AlreadyActive"
	CodeNotActive             ErrorCode = "NotActive"
	CodeResourceExhausted     ErrorCode = "ResourceExhausted"
	CodeTakeoverInProgress    ErrorCode = "TakeoverInProgress"
	CodeAlreadyOwned          ErrorCode = "AlreadyOwned"
	CodeStreamFailed          ErrorCode = "StreamFailed"
	CodeUnknownCommand        ErrorCode = "UnknownCommand"
)

// CommandError 携带机器可读错误码的命令错误
type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// NewCommandError 创建命令错误
func NewCommandError(code ErrorCode, message string) *CommandError {
	return &CommandError{Code: code, Message: message}
}

// AsCommandError 解包命令错误
func AsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// HasCode 判断错误是否携带指定错误码
func HasCode(err error, code ErrorCode) bool {
	if ce, ok := AsCommandError(err); ok {
		return ce.Code == code
	}
	return false
}
