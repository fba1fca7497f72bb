package uart

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialised indicates the port has no active Transport.
	ErrNotInitialised = errors.New("uart not initialised")
	// ErrBufferFull indicates a ring buffer reached its capacity.
	ErrBufferFull = errors.New("buffer full")
	// ErrBufferEmpty indicates a ring buffer has nothing to read.
	ErrBufferEmpty = errors.New("buffer empty")
	// ErrChunkTooLarge indicates a chunk exceeds the ring buffer capacity.
	ErrChunkTooLarge = errors.New("chunk exceeds buffer capacity")
	// ErrMessageBoxOverfill indicates the oldest unread message was evicted.
	ErrMessageBoxOverfill = errors.New("message box overfill")
	// ErrNoPendingMessages indicates the queried queue is empty.
	ErrNoPendingMessages = errors.New("no pending messages")
	// ErrInvalidConfig indicates a port configuration is unusable.
	ErrInvalidConfig = errors.New("invalid config")
)

// DriverError reports a failure in the hardware layer.
type DriverError struct {
	Port PortID
	Op   string
	Err  error
}

// Error implements error.
func (e *DriverError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Port, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// IsWarning reports whether err is an informational status that leaves the
// transport fully operational.
func IsWarning(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrMessageBoxOverfill),
		errors.Is(err, ErrBufferFull),
		errors.Is(err, ErrNoPendingMessages):
		return true
	}
	return false
}
