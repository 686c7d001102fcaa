package observer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DebounceConfig controls rescan scheduling.
type DebounceConfig struct {
	// Quiet is how long the page must stay unchanged before a rescan.
	// Default: 500ms.
	Quiet time.Duration
	// Startup is the delay of the one unconditional rescan after Run
	// starts. Default: 2s.
	Startup time.Duration
	Logger  *slog.Logger
}

func (dc *DebounceConfig) defaults() {
	if dc.Quiet <= 0 {
		dc.Quiet = 500 * time.Millisecond
	}
	if dc.Startup <= 0 {
		dc.Startup = 2 * time.Second
	}
	if dc.Logger == nil {
		dc.Logger = slog.Default()
	}
}

// Debouncer turns a stream of change notifications into rescans. Every
// Notify restarts the quiet timer; its expiry runs the rescan once. The
// startup timer fires once regardless of notifications. Rescans never
// overlap: a trigger during a running rescan schedules a single
// follow-up.
type Debouncer struct {
	cfg     DebounceConfig
	rescan  func(context.Context)
	notify  chan struct{}
	kick    chan struct{}
	rescans atomic.Int64
}

// NewDebouncer creates a Debouncer calling rescan.
func NewDebouncer(cfg DebounceConfig, rescan func(context.Context)) *Debouncer {
	cfg.defaults()
	return &Debouncer{
		cfg:    cfg,
		rescan: rescan,
		notify: make(chan struct{}, 1),
		kick:   make(chan struct{}, 1),
	}
}

// Notify reports a change. It never blocks.
func (d *Debouncer) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Trigger requests a rescan now, bypassing the quiet period (used after
// a browser recycle).
func (d *Debouncer) Trigger() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Rescans returns how many rescans have completed.
func (d *Debouncer) Rescans() int64 { return d.rescans.Load() }

// Run schedules rescans until ctx is done, then waits for a running
// rescan to return.
func (d *Debouncer) Run(ctx context.Context) {
	startup := time.NewTimer(d.cfg.Startup)
	defer startup.Stop()

	var (
		quiet   *time.Timer
		quietC  <-chan time.Time
		running bool
		again   bool
		done    = make(chan struct{}, 1)
	)
	stopQuiet := func() {
		if quiet != nil {
			quiet.Stop()
			quiet, quietC = nil, nil
		}
	}
	defer stopQuiet()

	fire := func(reason string) {
		if running {
			again = true
			return
		}
		running = true
		d.cfg.Logger.Debug("observer: rescan", "reason", reason)
		go func() {
			defer func() { done <- struct{}{} }()
			d.rescan(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return
		case <-d.notify:
			stopQuiet()
			quiet = time.NewTimer(d.cfg.Quiet)
			quietC = quiet.C
		case <-quietC:
			quiet, quietC = nil, nil
			fire("quiet")
		case <-startup.C:
			fire("startup")
		case <-d.kick:
			fire("trigger")
		case <-done:
			running = false
			d.rescans.Add(1)
			if again {
				again = false
				fire("coalesced")
			}
		}
	}
}
