package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger

	attempts  int           // handler calls per message before giving up
	retryWait time.Duration // first backoff, doubled per attempt

	mu    sync.Mutex
	parts map[partitionKey]*inflight
}

type partitionKey struct {
	topic     string
	partition int
}

// inflight holds the fetched, not yet committed messages of one partition
// in fetch order.
type inflight struct {
	queue []kafka.Message
	done  map[int64]bool
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r:         r,
		workers:   workers,
		log:       log,
		attempts:  5,
		retryWait: 200 * time.Millisecond,
		parts:     make(map[partitionKey]*inflight),
	}
}

// Start fetches until ctx is cancelled and fans messages out to the workers.
// A partition's offset only advances over messages that were handled, so a
// message that keeps failing holds its partition's commits and is fetched
// again after a restart or rebalance.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*64)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, id, h, m)
			}
		}(i)
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.track(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) {
	start := time.Now()
	log := c.log.With(
		zap.Int("worker", worker),
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)
	wait := c.retryWait
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		if attempt >= c.attempts || ctx.Err() != nil {
			log.Error("consume_failed", zap.String("event_type", Header(m, HeaderEventType)),
				zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		log.Warn("consume_retry", zap.Int("attempt", attempt), zap.Error(err))
		if !sleep(ctx, wait) {
			return
		}
		if wait *= 2; wait > 5*time.Second {
			wait = 5 * time.Second
		}
	}
	if err := c.commit(ctx, m); err != nil {
		log.Warn("commit_failed", zap.Error(err))
		return
	}
	log.Debug("consumed", zap.Duration("took", time.Since(start)))
}

func (c *Consumer) track(m kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	p := c.parts[k]
	if p == nil {
		p = &inflight{done: make(map[int64]bool)}
		c.parts[k] = p
	}
	p.queue = append(p.queue, m)
}

// commit marks m handled and commits the last message of its partition's
// handled prefix. Commits are serialized so the group offset never moves back.
func (c *Consumer) commit(ctx context.Context, m kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.parts[partitionKey{m.Topic, m.Partition}]
	if p == nil {
		return c.r.CommitMessages(ctx, m)
	}
	p.done[m.Offset] = true
	n := 0
	for n < len(p.queue) && p.done[p.queue[n].Offset] {
		delete(p.done, p.queue[n].Offset)
		n++
	}
	if n == 0 {
		return nil
	}
	last := p.queue[n-1]
	p.queue = p.queue[n:]
	return c.r.CommitMessages(ctx, last)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
