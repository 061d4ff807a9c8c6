// Package venue runs a single operation invocation in the place its affinity
// requires: the caller's goroutine ([Inline]), a bounded worker goroutine
// ([Pool]) or a separate worker process ([Isolated]).
//
// Every venue blocks until the invocation has finished. Errors returned by the
// operation, including recovered panics, are returned as-is. Failures to obtain
// the venue itself are returned as *[SpawnError] and match [ErrVenueSpawn].
package venue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/semaphore"

	"batchpipe/internal/operation"
)

// ErrVenueSpawn matches every [SpawnError].
var ErrVenueSpawn = errors.New("venue spawn failed")

// ErrPoolExhausted is the cause of a [SpawnError] from a full [Pool].
var ErrPoolExhausted = errors.New("worker pool exhausted")

// SpawnError reports that a venue could not be obtained.
type SpawnError struct {
	Venue string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s venue: %v", e.Venue, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrVenueSpawn) succeed.
func (e *SpawnError) Is(target error) bool { return target == ErrVenueSpawn }

// Venue executes one operation invocation and waits for it.
type Venue interface {
	Run(ctx context.Context, spec operation.Spec, sc operation.StepContext) error
}

// PanicError is returned when an operation panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Invoke calls spec.Func and converts a panic into a *[PanicError].
func Invoke(ctx context.Context, spec operation.Spec, sc operation.StepContext) (err error) {
	if spec.Func == nil {
		return fmt.Errorf("operation %s has no implementation", spec.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return spec.Func(ctx, sc)
}

// Inline runs operations on the calling goroutine.
type Inline struct{}

// Run implements [Venue].
func (Inline) Run(ctx context.Context, spec operation.Spec, sc operation.StepContext) error {
	return Invoke(ctx, spec, sc)
}

// Pool runs operations on a bounded set of worker goroutines. Run blocks until
// the worker finishes; it fails with [ErrPoolExhausted] instead of queueing
// when every slot is taken.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool creates a pool with size slots. Sizes below 1 mean 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Run implements [Venue].
func (p *Pool) Run(ctx context.Context, spec operation.Spec, sc operation.StepContext) error {
	if !p.sem.TryAcquire(1) {
		return &SpawnError{Venue: string(operation.Concurrent), Err: ErrPoolExhausted}
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- Invoke(ctx, spec, sc)
	}()
	return <-done
}
