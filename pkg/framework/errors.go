package framework

import (
	"errors"
	"fmt"
	"strings"
)

// AggregatedError collects the errors of tasks stopped together, such as the
// pumps of a port or the ports of a registry.
type AggregatedError struct {
	Errors []error
}

// Error implements error
func (e *AggregatedError) Error() string {
	switch len(e.Errors) {
	case 0:
		return ""
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for n, err := range e.Errors {
		msgs[n] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Is reports whether any collected error matches target.
func (e *AggregatedError) Is(target error) bool {
	for _, err := range e.Errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// As finds the first collected error assignable to target.
func (e *AggregatedError) As(target interface{}) bool {
	for _, err := range e.Errors {
		if errors.As(err, target) {
			return true
		}
	}
	return false
}

// Add collects errs, skipping nil. Nested aggregates are flattened.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		switch v := err.(type) {
		case nil:
		case *AggregatedError:
			e.Errors = append(e.Errors, v.Errors...)
		default:
			e.Errors = append(e.Errors, err)
		}
	}
	return e
}

// Aggregate returns nil when nothing was collected, the only error when one
// was, and e otherwise.
func (e *AggregatedError) Aggregate() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	}
	return e
}
