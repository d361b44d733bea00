package errors

import (
	"errors"
)

type Code string

const (
	CodeInvalidArgument     Code = "invalid_argument"
	CodeAuthentication      Code = "authentication_failed"
	CodeLogout              Code = "logout_failed"
	CodeRetryBudgetExceeded Code = "retry_budget_exceeded"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

var (
	ErrMissingAuthenticator = errors.New("sessionguard: authenticator is required")
	ErrMissingStubProvider  = errors.New("sessionguard: stub provider is required")
)

// Coder is implemented by errors that carry a Code without being an *Error.
type Coder interface {
	ErrorCode() Code
}

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) ErrorCode() Code {
	if e == nil {
		return ""
	}
	return e.Code
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

func IsCode(err error, code Code) bool {
	var coder Coder
	if !errors.As(err, &coder) {
		return false
	}
	return coder.ErrorCode() == code
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeNotImplemented)
}
