package amstate

import (
	"errors"
	"fmt"
)

// ValidationError is bad input, detected before anything is persisted
type ValidationError struct {
	msg string
}

func (v *ValidationError) Error() string {
	return v.msg
}

func validationErr(format string, args ...interface{}) error {
	return &ValidationError{fmt.Sprintf(format, args...)}
}

// IsValidationError is true if err is (or wraps) a *ValidationError. for a joined error
// (errors.Join) every one of the errors must be a validation error.
func IsValidationError(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		for _, e := range errs {
			if !IsValidationError(e) {
				return false
			}
		}
		return len(errs) > 0
	}

	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// data read back from redis that we can't reconstruct an entity from
type corruptRecordError struct {
	key string
	err error
}

func (c *corruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", c.key, c.err)
}

func (c *corruptRecordError) Unwrap() error {
	return c.err
}

// EndHandlerError means the window was deleted, but the maintenance end handler failed
type EndHandlerError struct {
	Key string
	Err error
}

func (e *EndHandlerError) Error() string {
	return fmt.Sprintf("maintenance end handler for %s: %v", e.Key, e.Err)
}

func (e *EndHandlerError) Unwrap() error {
	return e.Err
}

func IsEndHandlerError(err error) bool {
	var handlerErr *EndHandlerError
	return errors.As(err, &handlerErr)
}

func NewValidationError(format string, args ...interface{}) error {
	return validationErr(format, args...)
}
