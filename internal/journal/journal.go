// Package journal keeps a local history of validated readings and connection
// transitions. It is fed from a hub subscription on its own goroutine and never
// runs on the controller's goroutine.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/events"
	"github.com/mattjoyce/medkiosk/internal/reading"
)

const (
	defaultPruneEvery = time.Hour
	defaultLimit      = 100
	maxLimit          = 1000
)

// Store reads and writes the journal tables.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Entry is a stored reading.
type Entry struct {
	ID string `json:"id"`
	reading.Reading
}

// Transition is a stored connection status.
type Transition struct {
	ID string `json:"id"`
	conn.Status
}

// Query filters Recent. Zero values mean no filter.
type Query struct {
	Kind     reading.Kind
	SourceID string
	Since    time.Time
	Limit    int
}

// AppendReading stores one validated reading.
func (s *Store) AppendReading(ctx context.Context, r reading.Reading) (string, error) {
	id := uuid.NewString()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO readings(id, source_id, kind, value, unit, measured_at)
VALUES(?, ?, ?, ?, ?, ?);`,
		id, r.SourceID, string(r.Kind), r.Value, r.Unit, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert reading: %w", err)
	}
	return id, nil
}

// AppendTransition stores one connection status.
func (s *Store) AppendTransition(ctx context.Context, st conn.Status) (string, error) {
	id := uuid.NewString()
	at := st.At
	if at.IsZero() {
		at = s.now()
	}
	var next any
	if st.NextRetryAt != nil {
		next = st.NextRetryAt.UTC().Format(time.RFC3339Nano)
	}
	var lastErr any
	if st.LastError != "" {
		lastErr = st.LastError
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO connection_log(id, source_id, state, last_error, retry_count, next_retry_at, changed_at)
VALUES(?, ?, ?, ?, ?, ?, ?);`,
		id, st.SourceID, string(st.State), lastErr, st.RetryCount, next, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert connection transition: %w", err)
	}
	return id, nil
}

// Recent returns readings newest-first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, q.SourceID)
	}
	if !q.Since.IsZero() {
		where = append(where, "measured_at >= ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	stmt := "SELECT id, source_id, kind, value, unit, measured_at FROM readings"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY measured_at DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			kind, at string
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &kind, &e.Value, &e.Unit, &at); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		e.Kind = reading.Kind(kind)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse measured_at %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transitions returns the connection log for a source, newest-first.
func (s *Store) Transitions(ctx context.Context, sourceID string, limit int) ([]Transition, error) {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source_id, state, COALESCE(last_error, ''), retry_count, next_retry_at, changed_at
FROM connection_log WHERE source_id = ? ORDER BY changed_at DESC LIMIT ?;`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query connection log: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			tr        Transition
			state, at string
			next      sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.SourceID, &state, &tr.LastError, &tr.RetryCount, &next, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.State = conn.State(state)
		if tr.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse changed_at %q: %w", at, err)
		}
		if next.Valid {
			t, err := time.Parse(time.RFC3339Nano, next.String)
			if err != nil {
				return nil, fmt.Errorf("parse next_retry_at %q: %w", next.String, err)
			}
			tr.NextRetryAt = &t
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Count returns the number of stored readings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings;").Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

// Prune deletes rows older than retention and returns how many went.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention).UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, "DELETE FROM readings WHERE measured_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	n, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM connection_log WHERE changed_at < ?;", cutoff)
	if err != nil {
		return n, fmt.Errorf("prune connection log: %w", err)
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

// Subscriber is the slice of events.Hub the recorder needs.
type Subscriber interface {
	SubscribeBuffered(n int) (<-chan events.Event, func())
}

// Recorder copies hub events into the store.
type Recorder struct {
	store      *Store
	retention  time.Duration
	pruneEvery time.Duration
	logger     *slog.Logger
}

func NewRecorder(store *Store, retention time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:      store,
		retention:  retention,
		pruneEvery: defaultPruneEvery,
		logger:     logger,
	}
}

// Start subscribes to hub and records on a new goroutine until ctx is done.
// Readings and connection events are stored; dispatch results and notices
// are not. The returned channel closes when recording stops.
func (r *Recorder) Start(ctx context.Context, hub Subscriber) <-chan struct{} {
	ch, cancel := hub.SubscribeBuffered(1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		r.run(ctx, ch)
	}()
	return done
}

func (r *Recorder) run(ctx context.Context, ch <-chan events.Event) {
	ticker := time.NewTicker(r.pruneEvery)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, ev)
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.TypeReading:
		var rd reading.Reading
		if err := json.Unmarshal(ev.Data, &rd); err != nil {
			r.logger.Warn("journal: bad reading event", "event_id", ev.ID, "error", err)
			return
		}
		if _, err := r.store.AppendReading(ctx, rd); err != nil {
			r.logger.Error("journal: store reading", "error", err)
		}
	case events.TypeConnection:
		var st conn.Status
		if err := json.Unmarshal(ev.Data, &st); err != nil {
			r.logger.Warn("journal: bad connection event", "event_id", ev.ID, "error", err)
			return
		}
		if _, err := r.store.AppendTransition(ctx, st); err != nil {
			r.logger.Error("journal: store transition", "error", err)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, r.retention)
	if err != nil {
		r.logger.Error("journal: prune", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("journal pruned", "rows", n, "retention", r.retention.String())
	}
}
