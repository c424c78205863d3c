package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials   = errors.New("missing LMS credentials")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrExternalAPIError     = errors.New("external API error")
	ErrExternalAPITimeout   = errors.New("external API timeout")
	ErrNotFound             = errors.New("resource not found")
	ErrTermNotFound         = errors.New("term not found")
	ErrInvalidGradeRules    = errors.New("invalid grade rule table")
	ErrRunInProgress        = errors.New("a sync run is already in progress")
	ErrInvalidFileFormat    = errors.New("invalid file format")
	ErrSchemaValidation     = errors.New("schema validation failed")
)

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{
		Err:     err,
		Message: message,
	}
}

// IsRetryable reports whether err carries a RetryableError anywhere in its chain.
func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}

// FatalError aborts a whole run: missing credentials, an unreachable
// database or a grade rule table without a fallback rule.
type FatalError struct {
	Err error
}

func (e FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e FatalError) Unwrap() error {
	return e.Err
}

func NewFatalError(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return FatalError{Err: err}
}

func IsFatal(err error) bool {
	var fe FatalError
	return errors.As(err, &fe)
}
