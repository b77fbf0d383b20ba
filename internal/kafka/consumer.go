package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-fulfillment/internal/retry"
)

// Handler returns nil only when the message is processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     zerolog.Logger
	retry   retry.Policy
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	c := &Consumer{
		r:       r,
		workers: workers,
		log:     log.With().Str("topic", topic).Str("group", group).Logger(),
	}
	c.retry = retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, OnRetry: c.logRetry}
	return c
}

// Start blocks until ctx is done or the reader fails. Each partition is
// handled by one worker, in offset order, so a commit never passes an
// unhandled message. A failing message is retried in place; once the retries
// are used up it is logged and committed so the partition can move on.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				err := c.handle(ctx, h, m)
				if ctx.Err() != nil {
					// left uncommitted, redelivered on the next start
					continue
				}
				if err != nil {
					c.log.Error().Err(err).
						Int("partition", m.Partition).
						Int64("offset", m.Offset).
						Msg("giving up on message")
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error().Err(err).Int64("offset", m.Offset).Msg("commit offset")
				}
			}
		}(lanes[i])
	}
	defer wg.Wait()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	c.log.Info().Int("workers", c.workers).Msg("consumer started")
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	return c.retry.Do(ctx, func(ctx context.Context) error { return h(ctx, m) })
}

func (c *Consumer) logRetry(err error, wait time.Duration) {
	c.log.Warn().Err(err).Dur("retry_in", wait).Msg("handle message")
}
