// Package connectivity routes mailglot's remote service calls (translate,
// detect, summarize) either to the in-process provider clients or to an
// operator-configured HTTP endpoint, based on a SQLite routes table that is
// reloaded at runtime.
//
//	router := connectivity.New(connectivity.WithDefaultTimeout(30 * time.Second))
//	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
//	router.RegisterLocal("translate", google.Translate)
//	go router.Watch(ctx, db, time.Second)
//
//	resp, err := router.Call(ctx, "translate", payload)
//
// Setting a row to strategy "noop" disables a service; pointing it at
// "http" sends the JSON payload to a proxy instead. No restart needed.
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/mailglot/watch"
)

// Handler is a service function: JSON payload in, JSON response out.
// Provider clients and HTTP routes both implement it.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds the Handler of a remote route from its
// endpoint and config. close, which may be nil, runs when the route is
// replaced or removed.
type TransportFactory func(endpoint string, config json.RawMessage) (h Handler, close func(), err error)

// remote is a handler built from a route row.
type remote struct {
	h     Handler
	close func()
	fp    string
}

func (b remote) shut() {
	if b.close != nil {
		b.close()
	}
}

// Router dispatches service calls by name.
type Router struct {
	mu        sync.RWMutex
	local     map[string]Handler
	routes    map[string]Route
	remotes   map[string]remote
	factories map[string]TransportFactory
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// WithDefaultTimeout bounds every Call. A route's config may override it
// with "timeout_ms". Zero disables the bound.
func WithDefaultTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{
		local:     map[string]Handler{},
		routes:    map[string]Route{},
		remotes:   map[string]remote{},
		factories: map[string]TransportFactory{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal sets the in-process handler of service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.local[service] = h
	r.mu.Unlock()
}

// RegisterTransport sets the factory used for routes with the given
// strategy.
func (r *Router) RegisterTransport(strategy string, f TransportFactory) {
	r.mu.Lock()
	r.factories[strategy] = f
	r.mu.Unlock()
}

// Call runs service with payload. A noop route answers nil without
// calling anything. Otherwise a built remote route wins over the local
// handler; with neither the error is *ErrServiceNotFound. A call that
// outlives its timeout fails with *ErrCallTimeout.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	h, timeout, err := r.resolve(ctx, service)
	if h == nil || err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return h(ctx, payload)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := h(cctx, payload)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return nil, &ErrCallTimeout{Service: service, After: timeout}
	}
	return resp, err
}

func (r *Router) resolve(ctx context.Context, service string) (Handler, time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	timeout := r.timeout
	rt, routed := r.routes[service]
	if routed {
		if rt.Strategy == StrategyNoop {
			r.logger.DebugContext(ctx, "connectivity: service off", "service", service)
			return nil, 0, nil
		}
		timeout = routeTimeout(rt.Config, timeout)
	}
	if b, ok := r.remotes[service]; ok {
		r.logger.DebugContext(ctx, "connectivity: remote", "service", service, "endpoint", rt.Endpoint)
		return b.h, timeout, nil
	}
	if h, ok := r.local[service]; ok {
		return h, timeout, nil
	}
	return nil, 0, &ErrServiceNotFound{Service: service}
}

// routeTimeout reads "timeout_ms" from a route config.
func routeTimeout(cfg json.RawMessage, def time.Duration) time.Duration {
	var c struct {
		TimeoutMS int64 `json:"timeout_ms"`
	}
	if json.Unmarshal(cfg, &c) != nil || c.TimeoutMS <= 0 {
		return def
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Reload reads the routes table. Remote handlers are rebuilt only for
// rows whose strategy, endpoint or config changed; replaced and removed
// handlers are closed. A row that cannot be built is logged and skipped,
// leaving the service on its local handler.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := queryRoutes(ctx, db, "")
	if err != nil {
		return err
	}
	routes := make(map[string]Route, len(rows))
	for _, rt := range rows {
		routes[rt.Service] = rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remotes := make(map[string]remote)
	for name, rt := range routes {
		if rt.Strategy == StrategyLocal || rt.Strategy == StrategyNoop {
			continue
		}
		fp := rt.fingerprint()
		if old, ok := r.remotes[name]; ok && old.fp == fp {
			remotes[name] = old
			continue
		}
		b, err := r.build(rt, fp)
		if err != nil {
			r.logger.WarnContext(ctx, "connectivity: route skipped", "service", name, "strategy", rt.Strategy, "error", err)
			continue
		}
		remotes[name] = b
		r.logger.InfoContext(ctx, "connectivity: route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}
	for name, old := range r.remotes {
		if cur, kept := remotes[name]; !kept || cur.fp != old.fp {
			old.shut()
		}
	}
	r.routes, r.remotes = routes, remotes
	r.logger.InfoContext(ctx, "connectivity: routes loaded", "rows", len(routes), "remote", len(remotes))
	return nil
}

// build must be called with mu held.
func (r *Router) build(rt Route, fp string) (remote, error) {
	f, ok := r.factories[rt.Strategy]
	if !ok {
		return remote{}, fmt.Errorf("connectivity: no transport for strategy %q", rt.Strategy)
	}
	h, closeFn, err := f(rt.Endpoint, rt.Config)
	if err != nil {
		return remote{}, fmt.Errorf("connectivity: build %s: %w", rt.Endpoint, err)
	}
	return remote{h: h, close: closeFn, fp: fp}, nil
}

// Watch loads the routes table, then reloads it whenever it changes. It
// blocks until ctx is done.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial load failed", "error", err)
	}
	w := watch.New(db, watch.Options{
		Interval: interval,
		Detector: watch.QueryDetector(routesVersion),
		Logger:   r.logger,
	})
	w.OnChange(ctx, func(ctx context.Context) error { return r.Reload(ctx, db) })
}

// Close closes every remote handler and forgets the routes.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.remotes {
		b.shut()
	}
	r.routes, r.remotes = map[string]Route{}, map[string]remote{}
	return nil
}
