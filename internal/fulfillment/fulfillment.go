// Package fulfillment runs the side effects of a placed order: payment
// confirmation, inventory decrement and customer notification. Every step
// is keyed by order id, so running a chain again for the same order leaves
// the same final state as running it once.
package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"brewstore/internal/order"
)

type Step interface {
	Name() string
	Run(ctx context.Context, o *order.Order) error
}

// Error is a side-effect failure attributed to one step.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fulfillment step %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type Chain struct {
	steps []Step
}

func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

func (c *Chain) Fulfill(ctx context.Context, o *order.Order) error {
	for _, s := range c.steps {
		if err := ctx.Err(); err != nil {
			return &Error{Step: s.Name(), Err: err}
		}
		if err := s.Run(ctx, o); err != nil {
			return &Error{Step: s.Name(), Err: err}
		}
	}
	return nil
}
