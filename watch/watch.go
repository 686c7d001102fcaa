// Package watch notices writes to the mailglot database made outside the
// running process (the admin API of another instance, the sqlite3 CLI, a
// hand edit) and runs a reload once the writes have settled.
//
//	w := watch.New(db, watch.Options{Detector: watch.MaxColumnDetector("settings", "updated_at")})
//	go w.OnChange(ctx, cache.Reload)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token; any difference between two reads
// means the watched data changed.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	Interval time.Duration // poll period, default 1s
	// Debounce is how long the token must stay put before the action
	// runs. It is checked on poll ticks, so it rounds up to Interval.
	Debounce time.Duration
	Detector ChangeDetector // default PragmaDataVersion
	Logger   *slog.Logger
}

// Watcher polls one database.
type Watcher struct {
	db      *sql.DB
	opts    Options
	applied atomic.Int64
}

func New(db *sql.DB, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Detector == nil {
		opts.Detector = PragmaDataVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{db: db, opts: opts}
}

// Version is the token of the last successful action, or the token read
// at start.
func (w *Watcher) Version() int64 { return w.applied.Load() }

// pending is a change seen but not yet applied.
type pending struct {
	token   int64
	settled time.Time
}

// OnChange polls until ctx is done. action runs once per settled change;
// when it fails the change stays pending and is retried on the next tick.
func (w *Watcher) OnChange(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial read failed", "error", err)
	} else {
		w.applied.Store(v)
	}

	tick := time.NewTicker(w.opts.Interval)
	defer tick.Stop()
	var p *pending
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			v, err := w.opts.Detector(ctx, w.db)
			switch {
			case err != nil:
				log.Warn("watch: read failed", "error", err)
				continue
			case v == w.applied.Load():
				// Written back to the applied state before settling.
				p = nil
				continue
			case p == nil || p.token != v:
				p = &pending{token: v, settled: now.Add(w.opts.Debounce)}
			}
			if now.Before(p.settled) {
				continue
			}
			if err := action(ctx); err != nil {
				log.Error("watch: reload failed", "version", v, "error", err)
				continue
			}
			w.applied.Store(v)
			p = nil
			log.Debug("watch: reloaded", "version", v)
		}
	}
}

// PragmaDataVersion changes when another connection commits to the file.
// Writes made through the same connection are invisible to it.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	return QueryDetector("PRAGMA data_version")(ctx, db)
}

// MaxColumnDetector tracks MAX(column) of table, typically an
// updated_at column maintained by a trigger.
func MaxColumnDetector(table, column string) ChangeDetector {
	return QueryDetector("SELECT COALESCE(MAX(" + ident(column) + "), 0) FROM " + ident(table))
}

func ident(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// QueryDetector runs a query returning a single integer.
func QueryDetector(query string) ChangeDetector {
	return func(ctx context.Context, db *sql.DB) (v int64, err error) {
		err = db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}
