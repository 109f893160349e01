package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrSinkFull is returned when the sink has no free capacity.
	ErrSinkFull = errors.New("sink full")
	// ErrSinkClosed is returned when enqueueing on a closed sink.
	ErrSinkClosed = errors.New("sink closed")
	// ErrSinkBroken is returned after the underlying connection failed.
	ErrSinkBroken = errors.New("sink broken")
)

// Sink is a flow-controlled frame channel with bounded capacity.
type Sink interface {
	// Ready reports false while the sink is out of capacity.
	Ready() bool
	// Enqueue hands a frame to the sink without blocking.
	Enqueue(frame []byte) error
	// Close releases the sink once queued frames are written. It is idempotent.
	Close() error
}

// StreamSink queues frames in a bounded buffer drained to a client
// connection by a dedicated goroutine.
type StreamSink struct {
	w            io.Writer
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex
	frames chan []byte
	closed bool
	err    error

	done chan struct{}
}

// Compile-time check that StreamSink implements Sink
var _ Sink = (*StreamSink)(nil)

// NewStreamSink writes SSE response headers and starts draining frames to w.
// Each frame write is bounded by writeTimeout when positive and supported by w.
// Returns an error if w cannot flush, which SSE requires.
func NewStreamSink(w http.ResponseWriter, capacity int, writeTimeout time.Duration) (*StreamSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported: response writer does not implement http.Flusher")
	}
	if capacity < 1 {
		capacity = 1
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &StreamSink{
		w:            w,
		flusher:      flusher,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		frames:       make(chan []byte, capacity),
		done:         make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Ready reports whether Enqueue would return without ErrSinkFull.
func (s *StreamSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.err != nil || len(s.frames) < cap(s.frames)
}

// Enqueue queues a frame for writing.
func (s *StreamSink) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.err != nil {
		return s.err
	}
	select {
	case s.frames <- frame:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close stops accepting frames and waits until queued frames are written.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamSink) drain() {
	defer close(s.done)
	for frame := range s.frames {
		if s.failed() {
			continue
		}
		if s.writeTimeout > 0 {
			// Not every ResponseWriter supports deadlines; writes are then unbounded.
			_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if _, err := s.w.Write(frame); err != nil {
			s.fail(err)
			continue
		}
		s.flusher.Flush()
	}
}

func (s *StreamSink) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

func (s *StreamSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = fmt.Errorf("%w: %w", ErrSinkBroken, err)
	}
}
