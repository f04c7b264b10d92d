package tasks

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many tasks of one kind run at once.
//
// Waiters are admitted in the order they called Acquire.
type Limiter struct {
	sem *semaphore.Weighted
	n   int
}

// NewLimiter creates a limiter admitting n concurrent holders. n < 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), n: n}
}

// Size returns the number of concurrent holders.
func (l *Limiter) Size() int { return l.n }

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot and admits the next waiter.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Do runs fn holding a slot. The slot is released however fn returns; a panic is
// converted into an error.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return safely(ctx, fn)
}

// ForEach launches fn for every item under l, acquiring slots in item order.
//
// Before each acquire stop is consulted; once it returns true no further items are launched and
// stopped is reported. Launched tasks always finish before ForEach returns. The first task error is
// returned; tasks record their per-item failures themselves.
func ForEach[T any](ctx context.Context, l *Limiter, items []T, stop func() bool, fn func(context.Context, int, T) error) (stopped bool, err error) {
	var g errgroup.Group
	for i, item := range items {
		if stop != nil && stop() {
			stopped = true
			break
		}
		if err := l.Acquire(ctx); err != nil {
			_ = g.Wait()
			return false, err
		}
		g.Go(func() error {
			defer l.Release()
			return safely(ctx, func(ctx context.Context) error { return fn(ctx, i, item) })
		})
	}
	return stopped, g.Wait()
}

// safely runs fn and turns a panic into an error.
func safely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
