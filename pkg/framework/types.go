package framework

import "context"

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Routine is one bounded, non-blocking step of a periodic task.
type Routine interface {
	Routine() error
}

// RoutineFunc is the func form of Routine.
type RoutineFunc func() error

// Routine implements Routine.
func (f RoutineFunc) Routine() error {
	return f()
}
