package fulfillment

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

var (
	ErrLockContention      = errors.New("order is being processed by another worker")
	ErrUpstreamDataMissing = errors.New("upstream data missing")
	ErrNotConfirmed        = errors.New("order is not confirmed")
	ErrNotServiceable      = errors.New("pincode not serviceable")
	ErrNoRates             = errors.New("no shipping rate available")
)

// Kind is the single category a failed job is reported under.
type Kind string

const (
	KindTransientGateway    Kind = "transient_gateway"
	KindLockContention      Kind = "lock_contention"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindUpstreamDataMissing Kind = "upstream_data_missing"
	KindOrderCancelled      Kind = "order_cancelled"
	KindInsufficientStock   Kind = "insufficient_stock"
	KindInternal            Kind = "internal"
)

// JobError is what a worker returns at its outer boundary. The queue asks it
// whether another attempt makes sense.
type JobError struct {
	Kind Kind
	Err  error
}

func (e *JobError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *JobError) Unwrap() error { return e.Err }

func (e *JobError) Retryable() bool {
	switch e.Kind {
	case KindUpstreamDataMissing, KindOrderCancelled, KindInsufficientStock:
		return false
	}
	return true
}

// classify maps any step error onto exactly one Kind.
func classify(err error) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	var ge *shipping.GatewayError
	switch {
	case errors.Is(err, ErrLockContention):
		return &JobError{Kind: KindLockContention, Err: err}
	case errors.Is(err, ErrUpstreamDataMissing),
		errors.Is(err, shipping.ErrIncompleteResponse),
		errors.Is(err, redisx.ErrCourierIDMissing),
		errors.Is(err, orders.ErrNotFound):
		return &JobError{Kind: KindUpstreamDataMissing, Err: err}
	case errors.Is(err, orders.ErrAlreadyCancelled):
		return &JobError{Kind: KindOrderCancelled, Err: err}
	case errors.Is(err, orders.ErrInsufficientStock):
		return &JobError{Kind: KindInsufficientStock, Err: err}
	case errors.Is(err, orders.ErrConcurrencyConflict):
		return &JobError{Kind: KindConcurrencyConflict, Err: err}
	case errors.As(err, &ge):
		return &JobError{Kind: KindTransientGateway, Err: err}
	}
	return &JobError{Kind: KindInternal, Err: err}
}
