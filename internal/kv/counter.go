package kv

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

type CountSink interface {
	IncrBy(ctx context.Context, counts map[string]int64) error
}

// Counter копит счётчики в памяти и периодически сбрасывает их в хранилище,
// чтобы не ходить в redis на каждое событие.
type Counter struct {
	mu      sync.Mutex
	pending map[string]int64
	sink    CountSink
}

func NewCounter(sink CountSink) *Counter {
	return &Counter{pending: make(map[string]int64), sink: sink}
}

func (c *Counter) Count(name string, n int64) {
	c.mu.Lock()
	c.pending[name] += n
	c.mu.Unlock()
}

// Flush отправляет накопленное. При ошибке значения возвращаются в буфер.
func (c *Counter) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]int64, len(batch))
	c.mu.Unlock()

	if len(batch) == 0 || c.sink == nil {
		return nil
	}
	if err := c.sink.IncrBy(ctx, batch); err != nil {
		c.mu.Lock()
		for k, v := range batch {
			c.pending[k] += v
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Counter) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.pending)
}

// Run сбрасывает счётчики каждые interval, после отмены ctx ещё раз.
func (c *Counter) Run(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := c.Flush(flushCtx); err != nil {
				slog.Warn("final counter flush failed", "err", err)
			}
			return nil
		case <-t.C:
			if err := c.Flush(ctx); err != nil {
				slog.Warn("counter flush failed", "err", err)
			}
		}
	}
}
