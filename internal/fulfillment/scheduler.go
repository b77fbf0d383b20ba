package fulfillment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
)

// TrackingScheduler owns the one recurring tracking job per order. Keys are
// deterministic, so scheduling twice replaces rather than duplicates.
type TrackingScheduler struct {
	q     queue.Typed[TrackingJob]
	every time.Duration
}

func NewTrackingScheduler(q *queue.Queue, every time.Duration) *TrackingScheduler {
	if every <= 0 {
		every = DefaultTrackingInterval
	}
	return &TrackingScheduler{q: queue.NewTyped[TrackingJob](q), every: every}
}

func (s *TrackingScheduler) Schedule(ctx context.Context, job TrackingJob) error {
	return s.q.Schedule(ctx, TrackingKey(job.OrderID), job, s.every, TrackingOptions())
}

func (s *TrackingScheduler) Remove(ctx context.Context, orderID string) (bool, error) {
	return s.q.RemoveSchedule(ctx, TrackingKey(orderID))
}

func (s *TrackingScheduler) Active(ctx context.Context, orderID string) (bool, error) {
	return s.q.HasSchedule(ctx, TrackingKey(orderID))
}
