// Package usage records per-request token usage in a local SQLite ledger.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id     TEXT    NOT NULL DEFAULT '',
	model          TEXT    NOT NULL,
	upstream_model TEXT    NOT NULL DEFAULT '',
	stream         BOOLEAN NOT NULL DEFAULT 0,
	input_tokens   INTEGER NOT NULL DEFAULT 0,
	output_tokens  INTEGER NOT NULL DEFAULT 0,
	stop_reason    TEXT    NOT NULL DEFAULT '',
	tool_calls     INTEGER NOT NULL DEFAULT 0,
	failed         BOOLEAN NOT NULL DEFAULT 0,
	started_at     INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_requests_started_at ON requests(started_at);
`

// Record is the outcome of one messages request.
type Record struct {
	RequestID     string
	Model         string
	UpstreamModel string
	Stream        bool
	InputTokens   int
	OutputTokens  int
	StopReason    string
	ToolCalls     int
	Failed        bool
	StartedAt     time.Time
	Duration      time.Duration
}

// ModelSummary aggregates records of one requested model.
type ModelSummary struct {
	Model        string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
	ToolCalls    int64
}

// Store writes records asynchronously through a bounded queue.
type Store struct {
	db      *sql.DB
	records chan Record
	done    chan struct{}

	// writeCtx bounds inserts; abort cancels it when Close gives up draining.
	writeCtx context.Context
	abort    context.CancelFunc
	dropped  atomic.Int64
	failures atomic.Int64

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens (creating if needed) the ledger at path and starts the writer.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	writeCtx, abort := context.WithCancel(context.Background())
	s := &Store{
		db:       db,
		records:  make(chan Record, queueSize),
		done:     make(chan struct{}),
		writeCtx: writeCtx,
		abort:    abort,
	}
	go s.writeLoop()
	return s, nil
}

// Record queues rec for writing. It never blocks; records are dropped when
// the queue is full or the store is closed.
func (s *Store) Record(ctx context.Context, rec Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.records <- rec:
	default:
		slog.WarnContext(ctx, "usage queue full, dropping record", "model", rec.Model)
	}
}

// Close drains queued records and closes the database. When ctx ends
// first, the remaining records are dropped; the database is closed only
// after the writer has stopped.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.records)
		s.mu.Unlock()

		select {
		case <-s.done:
		case <-ctx.Done():
			s.abort()
			<-s.done
			s.closeErr = fmt.Errorf("draining usage queue, dropped %d records: %w", s.dropped.Load(), ctx.Err())
		}
		s.abort()
		if err := s.db.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for rec := range s.records {
		if s.writeCtx.Err() != nil {
			s.dropped.Add(1)
			continue
		}
		ctx, cancel := context.WithTimeout(s.writeCtx, writeTimeout)
		err := s.insert(ctx, rec)
		cancel()
		switch {
		case err == nil:
		case s.writeCtx.Err() != nil:
			s.dropped.Add(1)
		default:
			s.failures.Add(1)
			slog.Warn("failed to write usage record", "model", rec.Model, "error", err)
		}
	}
}

func (s *Store) insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			request_id, model, upstream_model, stream, input_tokens, output_tokens,
			stop_reason, tool_calls, failed, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Model, rec.UpstreamModel, rec.Stream, rec.InputTokens, rec.OutputTokens,
		rec.StopReason, rec.ToolCalls, rec.Failed, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
	)
	return err
}

// Summary aggregates records started at or after since, per model.
func (s *Store) Summary(ctx context.Context, since time.Time) ([]ModelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(tool_calls), 0)
		FROM requests
		WHERE started_at >= ?
		GROUP BY model
		ORDER BY model`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []ModelSummary
	for rows.Next() {
		var m ModelSummary
		if err := rows.Scan(&m.Model, &m.Requests, &m.Failures, &m.InputTokens, &m.OutputTokens, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("scanning usage summary: %w", err)
		}
		summaries = append(summaries, m)
	}
	return summaries, rows.Err()
}
