package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Op is one queued database write. Do must be safe to retry: every op is
// either idempotent (snapshot upserts) or tolerates duplicates (append-only
// events under at-least-once delivery).
type Op struct {
	Desc string
	Do   func(ctx context.Context) error
}

// Writer is the asynchronous persistence queue. The game loop enqueues ops
// and never blocks on the database; a single goroutine applies them in order
// with retry and backoff.
type Writer struct {
	ch      chan Op
	wg      sync.WaitGroup
	stopped atomic.Bool
	backlog atomic.Int64

	maxRetries int
	backoff    time.Duration

	log *zap.Logger
}

func NewWriter(queueSize int, log *zap.Logger) *Writer {
	return &Writer{
		ch:         make(chan Op, queueSize),
		maxRetries: 5,
		backoff:    250 * time.Millisecond,
		log:        log,
	}
}

// Start launches the writer goroutine. The context bounds individual op
// execution, not the writer lifetime; use Stop to shut down.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for op := range w.ch {
			w.backlog.Add(-1)
			w.apply(ctx, op)
		}
	}()
}

// Enqueue queues an op without blocking. Returns false when the queue is
// full, which signals the loop to halt intake until the backlog clears.
func (w *Writer) Enqueue(op Op) bool {
	if w.stopped.Load() {
		return false
	}
	select {
	case w.ch <- op:
		w.backlog.Add(1)
		return true
	default:
		w.log.Error("write queue full, op rejected", zap.String("op", op.Desc))
		return false
	}
}

// Backlog reports the number of queued, unapplied ops.
func (w *Writer) Backlog() int64 {
	return w.backlog.Load()
}

// Stop closes intake and blocks until every queued op has been applied.
// Called during shutdown after the final world snapshot has been enqueued.
func (w *Writer) Stop() {
	if w.stopped.Swap(true) {
		return
	}
	close(w.ch)
	w.wg.Wait()
}

func (w *Writer) apply(ctx context.Context, op Op) {
	var err error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				w.log.Error("write abandoned at shutdown", zap.String("op", op.Desc), zap.Error(err))
				return
			}
		}
		opCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = op.Do(opCtx)
		cancel()
		if err == nil {
			return
		}
		w.log.Warn("write failed, retrying",
			zap.String("op", op.Desc),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	w.log.Error("write dropped after retries", zap.String("op", op.Desc), zap.Error(err))
}
