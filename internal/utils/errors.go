package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// CustomError is an error carrying the HTTP status it should be reported
// with. Code 0 means the error is not tied to a response.
type CustomError struct {
	Code    int
	Message string
	Err     error
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Err
}

func New(code int, message string) error {
	return &CustomError{
		Code:    code,
		Message: message,
	}
}

// Wrap attaches a status code and message to err.
func Wrap(code int, message string, err error) error {
	return &CustomError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// StatusCode returns the HTTP status for err: the Code of the first
// CustomError in its chain, or 500.
func StatusCode(err error) int {
	var ce *CustomError
	if errors.As(err, &ce) && ce.Code != 0 {
		return ce.Code
	}
	return http.StatusInternalServerError
}
