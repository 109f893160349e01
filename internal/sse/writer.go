package sse

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/florianilch/toolbridge/internal/metrics"
)

// Policy configures backpressure handling and delivery retries.
type Policy struct {
	// BackpressureWait is the pause between capacity checks.
	BackpressureWait time.Duration
	// MaxBackpressureWaits bounds the capacity checks before delivery is
	// attempted regardless.
	MaxBackpressureWaits int
	// CriticalRetries is the retry limit for lifecycle frames.
	CriticalRetries int
	// DeltaRetries is the retry limit for content deltas.
	DeltaRetries int
	// RetryDelay and MaxRetryDelay bound the exponential backoff between attempts.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BackpressureWait:     10 * time.Millisecond,
		MaxBackpressureWaits: 50,
		CriticalRetries:      5,
		DeltaRetries:         2,
		RetryDelay:           20 * time.Millisecond,
		MaxRetryDelay:        500 * time.Millisecond,
	}
}

// Writer delivers frames to a Sink one at a time.
//
// Send must not be called concurrently; frames are delivered in call order.
// Once a frame cannot be delivered the writer closes for good and every later
// Send fails without touching the sink.
type Writer struct {
	ctx    context.Context
	sink   Sink
	policy Policy

	critical failsafe.Executor[any]
	delta    failsafe.Executor[any]

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWriter creates a writer delivering to sink. ctx bounds every wait and
// retry; it is usually the request context.
func NewWriter(ctx context.Context, sink Sink, policy Policy) *Writer {
	if policy.RetryDelay <= 0 {
		policy.RetryDelay = time.Millisecond
	}
	if policy.MaxRetryDelay < policy.RetryDelay {
		policy.MaxRetryDelay = policy.RetryDelay
	}

	return &Writer{
		ctx:      ctx,
		sink:     sink,
		policy:   policy,
		critical: newRetryExecutor("critical", policy.CriticalRetries, policy),
		delta:    newRetryExecutor("delta", policy.DeltaRetries, policy),
	}
}

func newRetryExecutor(tier string, retries int, policy Policy) failsafe.Executor[any] {
	rp := retrypolicy.NewBuilder[any]().
		WithMaxRetries(max(retries, 0)).
		WithBackoff(policy.RetryDelay, policy.MaxRetryDelay).
		AbortOnErrors(ErrSinkClosed, ErrSinkBroken).
		OnRetry(func(failsafe.ExecutionEvent[any]) {
			metrics.WriterRetriesTotal.WithLabelValues(tier).Inc()
		}).
		Build()
	return failsafe.With(rp)
}

// Send delivers ev and reports whether it was accepted by the sink.
// Critical frames get the larger retry budget.
func (w *Writer) Send(ev Event, critical bool) bool {
	if w.closed.Load() {
		return false
	}

	frame, err := Encode(ev)
	if err != nil {
		slog.ErrorContext(w.ctx, "dropping frame", "event", ev.Name, "error", err)
		return false
	}

	w.awaitCapacity()

	executor, tier := w.delta, "delta"
	if critical {
		executor, tier = w.critical, "critical"
	}

	err = executor.WithContext(w.ctx).Run(func() error {
		return w.sink.Enqueue(frame)
	})
	if err != nil {
		slog.WarnContext(w.ctx, "frame delivery failed, closing stream",
			"event", ev.Name,
			"tier", tier,
			"error", err,
		)
		metrics.WriterFailuresTotal.Inc()
		_ = w.Close()
		return false
	}

	metrics.FramesTotal.WithLabelValues(ev.Name).Inc()
	slog.DebugContext(w.ctx, "frame sent", "event", ev.Name, "frame", string(frame))
	return true
}

// awaitCapacity waits while the sink reports backpressure, at most
// MaxBackpressureWaits times.
func (w *Writer) awaitCapacity() {
	for i := 0; i < w.policy.MaxBackpressureWaits && !w.sink.Ready(); i++ {
		timer := time.NewTimer(w.policy.BackpressureWait)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Closed reports whether the writer no longer accepts frames.
func (w *Writer) Closed() bool {
	return w.closed.Load()
}

// Close closes the writer and its sink. Calling Close again returns the
// first result without side effects.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.closeErr = w.sink.Close()
	})
	return w.closeErr
}
