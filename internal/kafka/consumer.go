package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log.With(zap.String("topic", topic), zap.String("group", group)))
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches messages and fans them out to the worker pool. Every
// partition is pinned to one worker, so its offsets are handled and
// committed in order. A message whose handler fails is retried in place and
// never committed, so the group redelivers it after a rebalance or restart
// (at-least-once).
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup

	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.handle(ctx, id, h, m) {
					continue
				}
				c.commit(ctx, id, m)
			}
		}(i, jobs[i])
	}

	defer wg.Wait()
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[shard(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func shard(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// commit still runs while shutting down; the reader is closed only after
// every worker has returned.
func (c *Consumer) commit(ctx context.Context, worker int, m kafka.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.r.CommitMessages(cctx, m); err != nil {
		c.log.Error("commit failed", zap.Int("worker", worker),
			zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// handle retries a failing message with capped backoff instead of skipping
// it, since committing a later offset would also commit this one. It reports
// false only when ctx ends first.
func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	backoff := 200 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Error("handler failed",
			zap.Int("worker", worker), zap.Int("attempt", attempt),
			zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}
