// Package admin serves mailglot's loopback admin API: settings, the
// supported languages, node and workflow state, service routes, the
// workflow event log and prometheus metrics. MCP tools over the same
// operations are registered by RegisterMCP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/mailglot/classify"
	"github.com/hazyhaar/mailglot/connectivity"
	"github.com/hazyhaar/mailglot/lang"
	"github.com/hazyhaar/mailglot/observability"
	"github.com/hazyhaar/mailglot/settings"
	"github.com/hazyhaar/mailglot/shield"
	"github.com/hazyhaar/mailglot/workflow"
)

// SettingsStore reads and updates the user settings (settings.Cache).
type SettingsStore interface {
	Get() settings.Settings
	Update(ctx context.Context, fn func(*settings.Settings)) (settings.Settings, error)
}

// NodeSource lists per-node workflow state (workflow.Engine).
type NodeSource interface {
	Snapshot() []workflow.NodeStatus
}

// RouteStore edits the service routes table (connectivity.Table).
type RouteStore interface {
	List(ctx context.Context) ([]connectivity.Route, error)
	Upsert(ctx context.Context, rt connectivity.Route) error
	Delete(ctx context.Context, service string) error
	SetStrategy(ctx context.Context, service, strategy string) error
}

// EventSource reads the workflow event log (observability.EventLogger).
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]observability.Event, error)
}

// Config wires the API to the running daemon. Nil fields disable the
// routes that need them (they answer 503).
type Config struct {
	Settings SettingsStore
	Nodes    NodeSource
	Registry *classify.Registry
	Records  *workflow.Records
	Router   *connectivity.Router
	Routes   RouteStore
	Events   EventSource
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

var errUnavailable = errors.New("not configured")

// NewRouter builds the admin HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &api{cfg: cfg}

	r := chi.NewRouter()
	for _, mw := range shield.AdminStack(cfg.Logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", a.getSettings)
		r.Put("/settings", a.putSettings)
		r.Get("/languages", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, lang.Supported)
		})
		r.Get("/nodes", a.nodes)
		r.Get("/events", a.events)
		r.Route("/routes", func(r chi.Router) {
			r.Get("/", a.listRoutes)
			r.Put("/{service}", a.putRoute)
			r.Patch("/{service}", a.setStrategy)
			r.Delete("/{service}", a.deleteRoute)
		})
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type api struct {
	cfg Config
}

func (a *api) getSettings(w http.ResponseWriter, _ *http.Request) {
	if a.cfg.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, a.cfg.Settings.Get().Masked())
}

// settingsPatch is a partial update. Absent fields keep their value.
// Credentials echoed back in masked form are ignored.
type settingsPatch struct {
	TranslateKey      *string `json:"translate_key"`
	SummarizeKey      *string `json:"summarize_key"`
	TargetLang        *string `json:"target_lang"`
	AutoTranslate     *bool   `json:"auto_translate"`
	SummarizeProvider *string `json:"summarize_provider"`
	SummarizeModel    *string `json:"summarize_model"`
}

func (p settingsPatch) apply(s *settings.Settings) {
	if p.TranslateKey != nil && !masked(*p.TranslateKey) {
		s.TranslateKey = strings.TrimSpace(*p.TranslateKey)
	}
	if p.SummarizeKey != nil && !masked(*p.SummarizeKey) {
		s.SummarizeKey = strings.TrimSpace(*p.SummarizeKey)
	}
	if p.TargetLang != nil {
		if code, ok := lang.Normalize(*p.TargetLang); ok {
			s.TargetLang = code
		} else {
			s.TargetLang = *p.TargetLang
		}
	}
	if p.AutoTranslate != nil {
		s.AutoTranslate = *p.AutoTranslate
	}
	if p.SummarizeProvider != nil {
		s.SummarizeProvider = *p.SummarizeProvider
	}
	if p.SummarizeModel != nil && *p.SummarizeModel != "" {
		s.SummarizeModel = *p.SummarizeModel
	}
}

func masked(v string) bool { return strings.HasPrefix(v, "****") }

func (a *api) putSettings(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	var p settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("admin: decode settings: %w", err))
		return
	}

	check := a.cfg.Settings.Get()
	p.apply(&check)
	if err := check.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cur, err := a.cfg.Settings.Update(r.Context(), p.apply)
	if err != nil {
		shield.GetLogger(r.Context()).Error("admin: update settings", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	shield.GetLogger(r.Context()).Info("admin: settings updated",
		"target_lang", cur.TargetLang, "auto_translate", cur.AutoTranslate)
	writeJSON(w, http.StatusOK, cur.Masked())
}

type nodesResponse struct {
	Nodes    []workflow.NodeStatus `json:"nodes"`
	Registry registryInfo          `json:"registry"`
	Records  recordCounts          `json:"records"`
}

type registryInfo struct {
	Size    int              `json:"size"`
	Entries []classify.Entry `json:"entries"`
}

type recordCounts struct {
	Translations int `json:"translations"`
	Summaries    int `json:"summaries"`
	Attachments  int `json:"attachments"`
}

func (a *api) nodes(w http.ResponseWriter, _ *http.Request) {
	resp := nodesResponse{Nodes: []workflow.NodeStatus{}, Registry: registryInfo{Entries: []classify.Entry{}}}
	if a.cfg.Nodes != nil {
		resp.Nodes = a.cfg.Nodes.Snapshot()
	}
	if a.cfg.Registry != nil {
		resp.Registry.Entries = a.cfg.Registry.Entries()
		resp.Registry.Size = len(resp.Registry.Entries)
	}
	if a.cfg.Records != nil {
		t, s, at := a.cfg.Records.Counts()
		resp.Records = recordCounts{Translations: t, Summaries: s, Attachments: at}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) events(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Events == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	evs, err := a.cfg.Events.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if evs == nil {
		evs = []observability.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

type routesResponse struct {
	Services []connectivity.ServiceInfo `json:"services"`
	Routes   []connectivity.Route       `json:"routes"`
}

func (a *api) listRoutes(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Routes == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	rows, err := a.cfg.Routes.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := routesResponse{Services: []connectivity.ServiceInfo{}, Routes: rows}
	if resp.Routes == nil {
		resp.Routes = []connectivity.Route{}
	}
	if a.cfg.Router != nil {
		if svcs := a.cfg.Router.Services(); svcs != nil {
			resp.Services = svcs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type routeRequest struct {
	Strategy string          `json:"strategy"`
	Endpoint string          `json:"endpoint"`
	Config   json.RawMessage `json:"config"`
}

func (a *api) putRoute(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Routes == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	service := chi.URLParam(r, "service")
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("admin: decode route: %w", err))
		return
	}
	err := a.cfg.Routes.Upsert(r.Context(), connectivity.Route{
		Service: service, Strategy: req.Strategy, Endpoint: req.Endpoint, Config: req.Config,
	})
	if err != nil {
		writeError(w, routeStatus(err), err)
		return
	}
	shield.GetLogger(r.Context()).Info("admin: route updated",
		"service", service, "strategy", req.Strategy, "endpoint", req.Endpoint)
	writeJSON(w, http.StatusOK, map[string]string{"service": service, "strategy": req.Strategy})
}

// setStrategy flips an existing route, typically to "noop" to disable
// a service or back to "local".
func (a *api) setStrategy(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Routes == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	service := chi.URLParam(r, "service")
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("admin: decode route: %w", err))
		return
	}
	if err := a.cfg.Routes.SetStrategy(r.Context(), service, req.Strategy); err != nil {
		writeError(w, routeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": service, "strategy": req.Strategy})
}

func (a *api) deleteRoute(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Routes == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	service := chi.URLParam(r, "service")
	if err := a.cfg.Routes.Delete(r.Context(), service); err != nil {
		writeError(w, routeStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func routeStatus(err error) int {
	switch {
	case errors.Is(err, connectivity.ErrInvalidRoute):
		return http.StatusBadRequest
	case errors.Is(err, connectivity.ErrRouteNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Serve runs the admin server until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
