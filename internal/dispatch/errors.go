package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags the outcome of a dispatch.
type Kind int

const (
	KindOK Kind = iota
	KindMissingParameter
	KindTemplate
	KindForbidden
	KindExecution
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindMissingParameter:
		return "missing_parameter"
	case KindTemplate:
		return "template"
	case KindForbidden:
		return "forbidden"
	case KindExecution:
		return "execution"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrForbiddenCharacters is returned when a rendered command contains a
// denylisted shell metacharacter.
var ErrForbiddenCharacters = errors.New("Command contains forbidden shell characters.")

// MissingParameterError is returned when a placeholder names a parameter
// the caller did not supply.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return "Missing parameter: " + e.Name
}

// TemplateError reports a malformed command template.
type TemplateError struct {
	Message string
}

func (e *TemplateError) Error() string {
	return e.Message
}

// TimeoutError is returned when a command outlives the configured timeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.After)
}

// kindOf maps an error produced while preparing or running a command to its Kind.
func kindOf(err error) Kind {
	var (
		missing  *MissingParameterError
		tmpl     *TemplateError
		deadline *TimeoutError
	)
	switch {
	case err == nil:
		return KindOK
	case errors.As(err, &missing):
		return KindMissingParameter
	case errors.As(err, &tmpl):
		return KindTemplate
	case errors.Is(err, ErrForbiddenCharacters):
		return KindForbidden
	case errors.As(err, &deadline):
		return KindTimeout
	default:
		return KindExecution
	}
}
