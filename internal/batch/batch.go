// Package batch runs per-item work where one failing item never aborts the rest.
package batch

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item of a best-effort batch.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// BestEffort applies fn to every item with at most limit calls in flight
// (limit <= 0 means unbounded). Results keep input order. Errors are
// recorded per item, and the context passed to fn is never cancelled
// because of a sibling failure.
func BestEffort[In, Out any](ctx context.Context, items []In, limit int, fn func(context.Context, In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			value, err := fn(ctx, item)
			results[i] = Result[Out]{Index: i, Value: value, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Values returns the successful values in input order.
func Values[T any](results []Result[T]) []T {
	values := make([]T, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			values = append(values, r.Value)
		}
	}
	return values
}

// Errors joins every item error, or returns nil when all items succeeded.
func Errors[T any](results []Result[T]) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Failed counts the items that returned an error.
func Failed[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
