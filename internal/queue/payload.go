package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Payload is one queue's job schema. Kind tags the variant so a job can never
// be decoded as another queue's payload.
type Payload interface {
	Kind() string
	Validate() error
}

// ErrMalformedPayload marks a job that failed schema checks. It is rejected
// before any handler attempt is charged.
var ErrMalformedPayload = errors.New("malformed job payload")

// Typed binds a Queue to a single payload variant and validates on enqueue.
type Typed[T Payload] struct {
	Q *Queue
}

func NewTyped[T Payload](q *Queue) Typed[T] { return Typed[T]{Q: q} }

func (t Typed[T]) Add(ctx context.Context, p T, opts Options) (string, bool, error) {
	b, err := encode(p)
	if err != nil {
		return "", false, err
	}
	return t.Q.Add(ctx, p.Kind(), b, opts)
}

func (t Typed[T]) Schedule(ctx context.Context, key string, p T, every time.Duration, opts Options) error {
	b, err := encode(p)
	if err != nil {
		return err
	}
	return t.Q.Schedule(ctx, key, p.Kind(), b, every, opts)
}

func (t Typed[T]) RemoveSchedule(ctx context.Context, key string) (bool, error) {
	return t.Q.RemoveSchedule(ctx, key)
}

func (t Typed[T]) HasSchedule(ctx context.Context, key string) (bool, error) {
	return t.Q.HasSchedule(ctx, key)
}

func encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, p.Kind(), err)
	}
	return json.Marshal(p)
}

// Decode checks the job's tag, decodes strictly and validates.
func Decode[T Payload](j *Job) (T, error) {
	var p T
	if j.Name != p.Kind() {
		return p, fmt.Errorf("%w: job %s is %q, want %q", ErrMalformedPayload, j.ID, j.Name, p.Kind())
	}
	dec := json.NewDecoder(bytes.NewReader(j.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%w: job %s: %v", ErrMalformedPayload, j.ID, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: job %s: %v", ErrMalformedPayload, j.ID, err)
	}
	return p, nil
}

// Handle adapts a typed handler to the Runner.
func Handle[T Payload](fn func(ctx context.Context, j *Job, p T) error) Handler {
	return func(ctx context.Context, j *Job) error {
		p, err := Decode[T](j)
		if err != nil {
			return err
		}
		return fn(ctx, j, p)
	}
}
