// Package observability records workflow outcomes (translations,
// summaries, read-aloud, attachment runs) in SQLite so an operator can
// see what mailglot did to which node after the fact.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/mailglot/idgen"
)

// Event is a single workflow outcome.
type Event struct {
	ID        string        `json:"id"`
	EventType string        `json:"event_type"` // "message", "compose", "attachment", "summary", "speech"
	NodeKey   string        `json:"node_key,omitempty"`
	Role      string        `json:"role,omitempty"`
	Action    string        `json:"action"` // "translated", "skipped", "failed", ...
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Success   bool          `json:"success"`
	CreatedAt time.Time     `json:"created_at"`
}

// Recorder is what the workflow engine writes to. A nil Recorder is
// valid in the engine and drops events.
type Recorder interface {
	LogEvent(ctx context.Context, e Event)
}

// EventLogger writes events to the workflow_events table.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithLogger sets the slog logger used for write failures.
func WithLogger(lg *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = lg }
}

// NewEventLogger creates a logger backed by db. The schema must be applied.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Sortable),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Write errors are logged and swallowed: a
// failing event store never blocks a workflow.
func (l *EventLogger) LogEvent(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO workflow_events (
			event_id, event_type, node_key, role, action, details, duration_ms, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.EventType, e.NodeKey, e.Role, e.Action, e.Details,
		e.Duration.Milliseconds(), e.Success, e.CreatedAt.Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", e.EventType)
	}
}

// Recent returns the newest events first, at most limit (default 100).
func (l *EventLogger) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, COALESCE(node_key, ''), COALESCE(role, ''), action,
		       COALESCE(details, ''), duration_ms, success, created_at
		FROM workflow_events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ms, created int64
		if err := rows.Scan(&e.ID, &e.EventType, &e.NodeKey, &e.Role, &e.Action,
			&e.Details, &ms, &e.Success, &created); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than days. Zero keeps everything.
func (l *EventLogger) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM workflow_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention calls Cleanup every interval until ctx is cancelled.
func (l *EventLogger) RunRetention(ctx context.Context, days int, interval time.Duration) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Cleanup(ctx, days)
			if err != nil {
				l.logger.Warn("observability: retention failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Info("observability: retention", "deleted", n)
			}
		}
	}
}
