// Package queue is a durable Redis job queue with per-job attempts and
// exponential backoff, delayed jobs, repeatable schedules keyed for upsert,
// a failed set kept for inspection and recovery of jobs whose worker died.
//
// Layout per queue name N. The name is a hash tag, so every key of one queue
// lives in the same Redis Cluster slot and the Lua scripts may touch keys
// they build from the prefix:
//
//	q:{N}:wait       list  ids ready to run (LPUSH in, RPOPLPUSH out)
//	q:{N}:active     list  ids claimed by a worker
//	q:{N}:delayed    zset  ids by run-at ms (backoff and delayed adds)
//	q:{N}:completed  zset  ids by finish ms
//	q:{N}:failed     zset  ids by finish ms
//	q:{N}:repeat     zset  schedule keys by next fire ms
//	q:{N}:repeat:K   hash  schedule definition
//	q:{N}:job:ID     hash  job record
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/retry"
)

const (
	DefaultAttempts = 5
	DefaultBackoff  = 10 * time.Second
	DefaultStall    = 10 * time.Minute

	DefaultRemoveOnComplete = time.Hour
	DefaultRemoveOnFail     = 24 * time.Hour

	claimBatch = 50
)

// Options mirror the per-job queue settings. Zero values take the defaults.
type Options struct {
	JobID            string
	Attempts         int
	Backoff          time.Duration
	Delay            time.Duration
	RemoveOnComplete time.Duration
	RemoveOnFail     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.RemoveOnComplete <= 0 {
		o.RemoveOnComplete = DefaultRemoveOnComplete
	}
	if o.RemoveOnFail <= 0 {
		o.RemoveOnFail = DefaultRemoveOnFail
	}
	return o
}

type Job struct {
	ID           string
	Queue        string
	Name         string
	Payload      []byte
	Attempts     int
	AttemptsMade int
	Backoff      time.Duration
	RepeatKey    string
	FailedReason string
	CreatedAt    time.Time
	ProcessedAt  time.Time
}

// Attempt is the 1-based number of the execution in progress.
func (j *Job) Attempt() int { return j.AttemptsMade + 1 }

type Counts struct {
	Wait, Active, Delayed, Completed, Failed, Repeat int64
}

type Queue struct {
	rdb   redis.UniversalClient
	name  string
	now   func() time.Time
	stall time.Duration
}

type Option func(*Queue)

// WithClock replaces time.Now; all scheduling decisions use it.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func WithStallTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.stall = d
		}
	}
}

func New(rdb redis.UniversalClient, name string, opts ...Option) *Queue {
	q := &Queue{rdb: rdb, name: name, now: time.Now, stall: DefaultStall}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

// prefix hash-tags the name so all keys of one queue share a cluster slot.
func (q *Queue) prefix() string { return "q:{" + q.name + "}:" }

func (q *Queue) key(s string) string { return q.prefix() + s }

func (q *Queue) jobKey(id string) string { return q.prefix() + "job:" + id }

func (q *Queue) nowMs() int64 { return q.now().UnixMilli() }

// Add enqueues a job. With Options.JobID set, a job that still exists under
// that id makes Add a no-op and added is false.
func (q *Queue) Add(ctx context.Context, name string, payload []byte, opts Options) (id string, added bool, err error) {
	opts = opts.withDefaults()
	id = opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	n, err := addScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("wait"), q.key("delayed")},
		id, name, payload, opts.Attempts, opts.Backoff.Milliseconds(),
		opts.RemoveOnComplete.Milliseconds(), opts.RemoveOnFail.Milliseconds(),
		q.nowMs(), opts.Delay.Milliseconds(),
	).Int()
	if err != nil {
		return "", false, fmt.Errorf("queue %s add %s: %w", q.name, id, err)
	}
	return id, n == 1, nil
}

// Schedule registers or replaces the repeatable job stored under key. The
// first firing is one interval from now.
func (q *Queue) Schedule(ctx context.Context, key, name string, payload []byte, every time.Duration, opts Options) error {
	if every <= 0 {
		return fmt.Errorf("queue %s schedule %s: interval must be positive", q.name, key)
	}
	opts = opts.withDefaults()
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.key("repeat:"+key),
			"name", name, "payload", payload, "every", every.Milliseconds(),
			"attempts", opts.Attempts, "backoff", opts.Backoff.Milliseconds(),
			"remove_complete", opts.RemoveOnComplete.Milliseconds(),
			"remove_fail", opts.RemoveOnFail.Milliseconds())
		p.ZAdd(ctx, q.key("repeat"), redis.Z{Score: float64(q.nowMs() + every.Milliseconds()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue %s schedule %s: %w", q.name, key, err)
	}
	return nil
}

// RemoveSchedule stops future firings of key. It reports whether a schedule
// existed.
func (q *Queue) RemoveSchedule(ctx context.Context, key string) (bool, error) {
	var zrem *redis.IntCmd
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		zrem = p.ZRem(ctx, q.key("repeat"), key)
		p.Del(ctx, q.key("repeat:"+key))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("queue %s remove schedule %s: %w", q.name, key, err)
	}
	return zrem.Val() > 0, nil
}

func (q *Queue) HasSchedule(ctx context.Context, key string) (bool, error) {
	_, err := q.rdb.ZScore(ctx, q.key("repeat"), key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

// NextFire returns when key fires next.
func (q *Queue) NextFire(ctx context.Context, key string) (time.Time, error) {
	s, err := q.rdb.ZScore(ctx, q.key("repeat"), key).Result()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(s)), nil
}

// Claim materialises due schedules and delayed jobs, then moves one job to
// active. It returns nil when nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	id, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("active"), q.key("delayed"), q.key("repeat")},
		q.prefix(), q.nowMs(), claimBatch,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s claim: %w", q.name, err)
	}
	return q.Job(ctx, id)
}

// Job loads a job record. A missing record returns (nil, nil).
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	j := &Job{
		ID:           id,
		Queue:        q.name,
		Name:         h["name"],
		Payload:      []byte(h["payload"]),
		Attempts:     atoi(h["attempts"]),
		AttemptsMade: atoi(h["attempts_made"]),
		Backoff:      time.Duration(atoi(h["backoff"])) * time.Millisecond,
		RepeatKey:    h["repeat_key"],
		FailedReason: h["failed_reason"],
		CreatedAt:    msTime(h["created_on"]),
		ProcessedAt:  msTime(h["processed_on"]),
	}
	return j, nil
}

// Complete records success.
func (q *Queue) Complete(ctx context.Context, j *Job) error {
	_, err := q.finish(ctx, j, "completed", "", 0, true)
	return err
}

// Outcome of a failed attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	OutcomeGone      Outcome = "gone"
)

// Retry records a failed attempt. The job is delayed by the exponential
// backoff or, once attempts are used up, parked in the failed set.
func (q *Queue) Retry(ctx context.Context, j *Job, cause error) (Outcome, error) {
	delay := retry.Exponential(j.Backoff, j.AttemptsMade+1)
	return q.finish(ctx, j, "retry", reason(cause), delay, true)
}

// Fail parks the job in the failed set without further attempts.
func (q *Queue) Fail(ctx context.Context, j *Job, cause error) (Outcome, error) {
	return q.finish(ctx, j, "failed", reason(cause), 0, true)
}

// Reject parks a job whose payload never reached a handler. No attempt is
// charged.
func (q *Queue) Reject(ctx context.Context, j *Job, cause error) (Outcome, error) {
	return q.finish(ctx, j, "failed", reason(cause), 0, false)
}

func (q *Queue) finish(ctx context.Context, j *Job, outcome, why string, delay time.Duration, charge bool) (Outcome, error) {
	c := "0"
	if charge {
		c = "1"
	}
	res, err := finishScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.jobKey(j.ID), q.key("delayed"), q.key("completed"), q.key("failed"), q.key("wait")},
		j.ID, q.nowMs(), outcome, why, delay.Milliseconds(), c, q.prefix(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("queue %s %s %s: %w", q.name, outcome, j.ID, err)
	}
	return Outcome(res), nil
}

// Touch refreshes the claim time of a running job so it is not treated as
// stalled.
func (q *Queue) Touch(ctx context.Context, j *Job) error {
	return q.rdb.HSet(ctx, q.jobKey(j.ID), "processed_on", q.nowMs()).Err()
}

// RecoverStalled moves active jobs not touched within the stall timeout
// back to wait.
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	n, err := stalledScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("wait")},
		q.prefix(), q.nowMs(), q.stall.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue %s recover stalled: %w", q.name, err)
	}
	return n, nil
}

// Failed lists parked jobs, oldest first.
func (q *Queue) Failed(ctx context.Context, limit int64) ([]*Job, error) {
	ids, err := q.rdb.ZRange(ctx, q.key("failed"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if j != nil {
			out = append(out, j)
		}
	}
	return out, nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	p := q.rdb.Pipeline()
	wait := p.LLen(ctx, q.key("wait"))
	active := p.LLen(ctx, q.key("active"))
	delayed := p.ZCard(ctx, q.key("delayed"))
	completed := p.ZCard(ctx, q.key("completed"))
	failed := p.ZCard(ctx, q.key("failed"))
	repeat := p.ZCard(ctx, q.key("repeat"))
	if _, err := p.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Wait:      wait.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Repeat:    repeat.Val(),
	}, nil
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func msTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}
