package pipeline

import (
	"context"
	"errors"
)

// ErrorKind tags the outcome of a boundary call.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNetwork
	KindCanceled
	KindFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindCanceled:
		return "canceled"
	}
	return "failure"
}

// Result is the tagged outcome of a task: a value or an error kind.
type Result[T any] struct {
	Value T
	Err   error
}

// Kind classifies r.Err.
func (r Result[T]) Kind() ErrorKind {
	switch {
	case r.Err == nil:
		return KindNone
	case errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(r.Err, ErrNetwork):
		return KindNetwork
	}
	return KindFailure
}

// Go runs fn in its own goroutine and delivers its result on the returned
// channel. Cancelling ctx resolves the task with ctx.Err() without waiting
// for fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	inner := make(chan Result[T], 1)
	go func() {
		v, err := fn(ctx)
		inner <- Result[T]{Value: v, Err: err}
	}()
	go func() {
		select {
		case r := <-inner:
			out <- r
		case <-ctx.Done():
			out <- Result[T]{Err: ctx.Err()}
		}
	}()
	return out
}

// Await runs fn as a task and waits for its result.
func Await[T any](ctx context.Context, fn func(context.Context) (T, error)) Result[T] {
	return <-Go(ctx, fn)
}
