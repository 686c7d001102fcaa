package observability

import (
	"database/sql"
	"fmt"
)

// Schema holds the workflow event log. created_at is unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    node_key    TEXT,
    role        TEXT,
    action      TEXT NOT NULL,
    details     TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_workflow_events_time ON workflow_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_workflow_events_node ON workflow_events(node_key, created_at DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}
