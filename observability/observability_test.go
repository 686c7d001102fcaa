package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/mailglot/dbopen"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init: %v", err)
	}
	return db
}

func TestEventLogger_LogEvent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.LogEvent(context.Background(), Event{
		EventType: "message",
		NodeKey:   "msg:abc",
		Role:      "MessageBody",
		Action:    "translated",
		Duration:  1500 * time.Millisecond,
		Success:   true,
	})

	var eventType, action string
	var ms int64
	db.QueryRow("SELECT event_type, action, duration_ms FROM workflow_events LIMIT 1").Scan(&eventType, &action, &ms)
	if eventType != "message" {
		t.Fatalf("event_type: got %q", eventType)
	}
	if action != "translated" {
		t.Fatalf("action: got %q", action)
	}
	if ms != 1500 {
		t.Fatalf("duration_ms: got %d", ms)
	}
}

func TestEventLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(func() string { return "evt_custom" }))

	el.LogEvent(context.Background(), Event{EventType: "summary", Action: "summarized", Success: true})

	var eventID string
	db.QueryRow("SELECT event_id FROM workflow_events LIMIT 1").Scan(&eventID)
	if eventID != "evt_custom" {
		t.Fatalf("custom event_id: got %q", eventID)
	}
}

func TestEventLogger_Recent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, action := range []string{"skipped", "failed", "translated"} {
		el.LogEvent(ctx, Event{
			EventType: "message",
			NodeKey:   "msg:k",
			Action:    action,
			Success:   action != "failed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	events, err := el.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Action != "translated" || events[1].Action != "failed" {
		t.Fatalf("order: got %q, %q", events[0].Action, events[1].Action)
	}
	if events[1].Success {
		t.Fatal("failed event should not be successful")
	}
}

func TestEventLogger_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)
	ctx := context.Background()

	el.LogEvent(ctx, Event{EventType: "message", Action: "old", CreatedAt: time.Now().Add(-40 * 24 * time.Hour)})
	el.LogEvent(ctx, Event{EventType: "message", Action: "new"})

	n, err := el.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d, want 1", n)
	}

	if n, _ := el.Cleanup(ctx, 0); n != 0 {
		t.Fatalf("zero days must keep everything, deleted %d", n)
	}
}
