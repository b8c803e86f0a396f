package utils

import "fmt"

// AppError is the boundary error for calls that leave the process. Op is
// a dotted operation name ("cache.connect"), Msg is safe to surface to an
// operator, Err carries the transport-level cause for errors.Is/As.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err as an AppError. A nil err is allowed; the message
// then stands on its own.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
