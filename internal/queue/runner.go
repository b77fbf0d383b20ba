package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Handler returns nil only when the job is done and may be acknowledged.
type Handler func(ctx context.Context, j *Job) error

// Observer receives one call per finished attempt.
type Observer interface {
	JobFinished(queue string, outcome Outcome, took time.Duration)
}

type RunnerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	Observer     Observer
	Logger       zerolog.Logger
}

// Runner pulls jobs from one queue with a fixed number of workers.
type Runner struct {
	q      *Queue
	h      Handler
	cfg    RunnerConfig
	log    zerolog.Logger
	tracer trace.Tracer
}

func NewRunner(q *Queue, h Handler, cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Runner{
		q:      q,
		h:      h,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("queue", q.Name()).Logger(),
		tracer: otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/queue"),
	}
}

// Run blocks until ctx is done. Each worker claims and processes jobs in a
// loop; one extra goroutine requeues stalled jobs.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				ok, err := r.RunOnce(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					r.log.Error().Err(err).Msg("claim failed")
				}
				if ok {
					continue
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(r.cfg.PollInterval):
				}
			}
		})
	}
	g.Go(func() error {
		t := time.NewTicker(r.q.stall / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				n, err := r.q.RecoverStalled(ctx)
				if err != nil && ctx.Err() == nil {
					r.log.Error().Err(err).Msg("stalled recovery failed")
				}
				if n > 0 {
					r.log.Warn().Int("jobs", n).Msg("requeued stalled jobs")
				}
			}
		}
	})
	r.log.Info().Int("concurrency", r.cfg.Concurrency).Msg("queue runner started")
	return g.Wait()
}

// RunOnce claims and processes at most one job. ok is false when the queue
// had nothing ready.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	j, err := r.q.Claim(ctx)
	if err != nil || j == nil {
		return false, err
	}
	r.process(ctx, j)
	return true, nil
}

func (r *Runner) process(ctx context.Context, j *Job) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "job "+r.q.Name(), trace.WithAttributes(
		attribute.String("queue", r.q.Name()),
		attribute.String("job.id", j.ID),
		attribute.Int("job.attempt", j.Attempt()),
	))
	defer span.End()
	log := r.log.With().Str("job_id", j.ID).Int("attempt", j.Attempt()).Logger()
	ctx = log.WithContext(ctx)

	stop := r.heartbeat(ctx, j)
	herr := r.h(ctx, j)
	stop()

	// Acknowledge even if the worker context is shutting down.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var (
		outcome Outcome
		err     error
	)
	switch {
	case herr == nil:
		outcome, err = OutcomeCompleted, r.q.Complete(ackCtx, j)
	case errors.Is(herr, ErrMalformedPayload):
		outcome, err = r.q.Reject(ackCtx, j, herr)
	case !IsRetryable(herr):
		outcome, err = r.q.Fail(ackCtx, j, herr)
	default:
		outcome, err = r.q.Retry(ackCtx, j, herr)
	}
	if err != nil {
		log.Error().Err(err).Msg("acknowledge failed")
	}

	if herr != nil {
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		lvl := zerolog.WarnLevel
		if outcome == OutcomeFailed {
			lvl = zerolog.ErrorLevel
		}
		log.WithLevel(lvl).Err(herr).Str("outcome", string(outcome)).Msg("job failed")
	} else {
		log.Debug().Msg("job completed")
	}
	span.SetAttributes(attribute.String("job.outcome", string(outcome)))
	if r.cfg.Observer != nil {
		r.cfg.Observer.JobFinished(r.q.Name(), outcome, time.Since(start))
	}
}

func (r *Runner) heartbeat(ctx context.Context, j *Job) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(r.q.stall / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				_ = r.q.Touch(ctx, j)
			}
		}
	}()
	return func() { close(done) }
}
