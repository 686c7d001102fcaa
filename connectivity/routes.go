package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Route strategies.
const (
	StrategyLocal = "local" // the provider client registered with RegisterLocal
	StrategyHTTP  = "http"  // POST the JSON payload to Endpoint
	StrategyNoop  = "noop"  // the service is switched off
)

// Schema holds one row per overridden service. A service without a row
// uses its local handler. config is per-route JSON ("timeout_ms",
// "content_type", "headers", "allow_private"); updated_at is unix ms.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (CAST(unixepoch('subsec') * 1000 AS INTEGER))
);

CREATE TRIGGER IF NOT EXISTS trg_routes_updated_at
AFTER UPDATE ON routes
FOR EACH ROW
BEGIN
    UPDATE routes SET updated_at = CAST(unixepoch('subsec') * 1000 AS INTEGER)
    WHERE service_name = NEW.service_name;
END;
`

// routesVersion changes on insert, update and delete.
const routesVersion = `SELECT COALESCE(SUM(updated_at), 0) + COUNT(*) FROM routes`

const selectRoutes = `SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}'), updated_at FROM routes`

var (
	// ErrRouteNotFound is returned when a change targets a service that
	// has no row.
	ErrRouteNotFound = errors.New("route not found")
	// ErrInvalidRoute is returned by Upsert for a row the router could
	// never dispatch.
	ErrInvalidRoute = errors.New("invalid route")
)

// Route is one row of the routes table.
type Route struct {
	Service   string          `json:"service_name"`
	Strategy  string          `json:"strategy"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
}

// fingerprint changes when anything that shapes the built handler does.
func (rt Route) fingerprint() string {
	return rt.Strategy + "\x00" + rt.Endpoint + "\x00" + string(rt.Config)
}

func (rt Route) validate() error {
	switch rt.Strategy {
	case StrategyLocal, StrategyNoop:
	case StrategyHTTP:
		if rt.Endpoint == "" {
			return fmt.Errorf("%w: %s: http needs an endpoint", ErrInvalidRoute, rt.Service)
		}
	default:
		return fmt.Errorf("%w: %s: unknown strategy %q", ErrInvalidRoute, rt.Service, rt.Strategy)
	}
	if len(rt.Config) > 0 && !json.Valid(rt.Config) {
		return fmt.Errorf("%w: %s: config is not JSON", ErrInvalidRoute, rt.Service)
	}
	return nil
}

func queryRoutes(ctx context.Context, db *sql.DB, tail string, args ...any) ([]Route, error) {
	rows, err := db.QueryContext(ctx, selectRoutes+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var rt Route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg, &rt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connectivity: routes: %w", err)
	}
	return out, nil
}

// Table edits the routes table. Changes reach a Router through Watch.
type Table struct {
	db *sql.DB
}

func NewTable(db *sql.DB) *Table { return &Table{db: db} }

// List returns every route ordered by service.
func (t *Table) List(ctx context.Context) ([]Route, error) {
	return queryRoutes(ctx, t.db, ` ORDER BY service_name`)
}

// Get returns the route of service; ok is false when there is none.
func (t *Table) Get(ctx context.Context, service string) (rt Route, ok bool, err error) {
	rows, err := queryRoutes(ctx, t.db, ` WHERE service_name = ?`, service)
	if err != nil || len(rows) == 0 {
		return Route{}, false, err
	}
	return rows[0], true, nil
}

// Upsert writes rt, replacing any row for the same service.
func (t *Table) Upsert(ctx context.Context, rt Route) error {
	if err := rt.validate(); err != nil {
		return err
	}
	cfg := string(rt.Config)
	if cfg == "" {
		cfg = "{}"
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO routes (service_name, strategy, endpoint, config) VALUES (?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
		    strategy = excluded.strategy, endpoint = excluded.endpoint, config = excluded.config`,
		rt.Service, rt.Strategy, rt.Endpoint, cfg)
	if err != nil {
		return fmt.Errorf("connectivity: upsert %s: %w", rt.Service, err)
	}
	return nil
}

// SetStrategy switches an existing route between "local" and "noop"
// while keeping its endpoint and config for a later switch back.
func (t *Table) SetStrategy(ctx context.Context, service, strategy string) error {
	if strategy != StrategyLocal && strategy != StrategyNoop {
		return fmt.Errorf("%w: %s: strategy %q needs a full update", ErrInvalidRoute, service, strategy)
	}
	return t.affectOne(ctx, service, `UPDATE routes SET strategy = ? WHERE service_name = ?`, strategy, service)
}

// Delete drops the route; the service goes back to its local handler.
func (t *Table) Delete(ctx context.Context, service string) error {
	return t.affectOne(ctx, service, `DELETE FROM routes WHERE service_name = ?`, service)
}

func (t *Table) affectOne(ctx context.Context, service, stmt string, args ...any) error {
	res, err := t.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("connectivity: route %s: %w", service, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connectivity: route %s: %w", service, ErrRouteNotFound)
	}
	return nil
}
