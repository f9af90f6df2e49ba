package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	totals map[string]int64
	fail   bool
}

func (m *memSink) IncrBy(_ context.Context, counts map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("redis down")
	}
	if m.totals == nil {
		m.totals = make(map[string]int64)
	}
	for k, v := range counts {
		m.totals[k] += v
	}
	return nil
}

func (m *memSink) get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[name]
}

func TestCounter_FlushAggregates(t *testing.T) {
	sink := &memSink{}
	c := NewCounter(sink)
	c.Count("chatMessages", 1)
	c.Count("chatMessages", 1)
	c.Count("connectStarts", 3)

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, int64(2), sink.get("chatMessages"))
	assert.Equal(t, int64(3), sink.get("connectStarts"))
	assert.Empty(t, c.Pending())
}

func TestCounter_FailedFlushKeepsValues(t *testing.T) {
	sink := &memSink{fail: true}
	c := NewCounter(sink)
	c.Count("urlStarts", 2)

	require.Error(t, c.Flush(context.Background()))
	c.Count("urlStarts", 1)
	assert.Equal(t, map[string]int64{"urlStarts": 3}, c.Pending())

	sink.fail = false
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, int64(3), sink.get("urlStarts"))
}

func TestCounter_RunFlushesOnStop(t *testing.T) {
	sink := &memSink{}
	c := NewCounter(sink)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Hour) }()

	c.Count("vBrowserStarts", 1)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, int64(1), sink.get("vBrowserStarts"))
}
