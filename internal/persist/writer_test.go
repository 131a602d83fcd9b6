package persist

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriterAppliesInOrder(t *testing.T) {
	w := NewWriter(16, zap.NewNop())
	w.Start(context.Background())

	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		require.True(t, w.Enqueue(Op{Desc: "op", Do: func(context.Context) error {
			order = append(order, i)
			if i == 3 {
				close(done)
			}
			return nil
		}}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ops never applied")
	}
	w.Stop()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWriterRetriesTransientFailure(t *testing.T) {
	w := NewWriter(16, zap.NewNop())
	w.backoff = time.Millisecond
	w.Start(context.Background())

	var calls atomic.Int32
	require.True(t, w.Enqueue(Op{Desc: "flaky", Do: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}))

	w.Stop()
	assert.Equal(t, int32(3), calls.Load())
}

func TestWriterRejectsWhenFull(t *testing.T) {
	w := NewWriter(1, zap.NewNop())
	// Not started, so the single slot never drains.
	assert.True(t, w.Enqueue(Op{Desc: "first", Do: func(context.Context) error { return nil }}))
	assert.False(t, w.Enqueue(Op{Desc: "second", Do: func(context.Context) error { return nil }}))
	assert.Equal(t, int64(1), w.Backlog())
}

func TestWriterStopFlushesQueue(t *testing.T) {
	w := NewWriter(16, zap.NewNop())
	var applied atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, w.Enqueue(Op{Desc: "op", Do: func(context.Context) error {
			applied.Add(1)
			return nil
		}}))
	}
	w.Start(context.Background())
	w.Stop()
	assert.Equal(t, int32(10), applied.Load())
	assert.False(t, w.Enqueue(Op{Desc: "late", Do: func(context.Context) error { return nil }}))
}
