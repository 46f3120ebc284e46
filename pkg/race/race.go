// Package race runs candidate tasks through a fixed-width sliding window and
// returns the first one that succeeds.
package race

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned when every task failed.
var ErrExhausted = errors.New("race: every candidate failed")

// DefaultWidth is the default number of concurrently running tasks.
const DefaultWidth = 2

// Task is one candidate branch.
type Task[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	index int
	value T
	err   error
}

// FirstSuccess runs tasks in order with at most width running at a time.
// Each time a task settles another one is launched, until one succeeds.
// The first success is returned immediately: tasks not yet started never
// launch, and tasks still running are left to finish with their results
// discarded. When all tasks fail the error wraps ErrExhausted and each
// task error. Panics inside a task count as failures.
func FirstSuccess[T any](ctx context.Context, width int, tasks []Task[T]) (T, error) {
	var zero T
	if len(tasks) == 0 {
		return zero, ErrExhausted
	}
	if width <= 0 {
		width = DefaultWidth
	}

	// Buffered so abandoned branches never block on send.
	results := make(chan outcome[T], len(tasks))

	next := 0
	launch := func() {
		i := next
		next++
		go run(ctx, i, tasks[i], results)
	}

	active := 0
	for active < width && next < len(tasks) {
		launch()
		active++
	}

	errs := make([]error, len(tasks))
	for active > 0 {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("race: %w", ctx.Err())
		case res := <-results:
			active--
			if res.err == nil {
				return res.value, nil
			}
			errs[res.index] = fmt.Errorf("candidate %d: %w", res.index, res.err)
			if next < len(tasks) && ctx.Err() == nil {
				launch()
				active++
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("race: %w", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

func run[T any](ctx context.Context, index int, task Task[T], results chan<- outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			results <- outcome[T]{index: index, err: fmt.Errorf("panic: %v", r)}
		}
	}()
	value, err := task(ctx)
	results <- outcome[T]{index: index, value: value, err: err}
}
