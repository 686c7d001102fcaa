// Package domwatch is the Tree Watcher. It keeps a webmail tab open in
// Chrome, injects the page observer and turns the page's change
// notifications into debounced rescans. The same page binding carries
// clicks on injected controls and speech events; those are forwarded to
// the handlers registered with Handle.
package domwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/mailglot/domwatch/internal/browser"
	"github.com/hazyhaar/mailglot/domwatch/internal/observer"
	"github.com/hazyhaar/mailglot/ui"
)

// BindingName is the page function scripts report through.
const BindingName = observer.BindingName

// Event types carried by the binding.
const (
	EventMutation = "mutation"
	EventAction   = "action"
	EventSpeech   = "speech"
)

// Handler receives the raw JSON object of one binding call.
type Handler func(ctx context.Context, payload []byte)

// Config configures a Watcher.
type Config struct {
	URL string

	RemoteURL        string
	UserDataDir      string
	Headful          bool
	XvfbDisplay      string
	RecycleInterval  time.Duration
	ResourceBlocking []string

	QuietPeriod  time.Duration
	StartupDelay time.Duration

	Logger *slog.Logger
}

// Watcher owns the browser, the tab and the rescan schedule.
type Watcher struct {
	cfg    Config
	mgr    *browser.Manager
	deb    *observer.Debouncer
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	tab      *browser.Tab
	obs      *observer.Observer
	handlers map[string]Handler
	onAttach []func(*rod.Page)
	wg       sync.WaitGroup
}

// New creates a Watcher. rescan is the single rescan callback.
func New(cfg Config, rescan func(context.Context)) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mode := browser.Headless
	if cfg.Headful {
		mode = browser.Headful
	}
	return &Watcher{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.RemoteURL,
			UserDataDir:      cfg.UserDataDir,
			RecycleInterval:  cfg.RecycleInterval,
			ResourceBlocking: cfg.ResourceBlocking,
			Mode:             mode,
			XvfbDisplay:      cfg.XvfbDisplay,
			Logger:           cfg.Logger,
		}),
		deb: observer.NewDebouncer(observer.DebounceConfig{
			Quiet:   cfg.QuietPeriod,
			Startup: cfg.StartupDelay,
			Logger:  cfg.Logger,
		}, rescan),
		logger:   cfg.Logger,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for binding calls of the given type. Mutation
// events are consumed by the watcher itself.
func (w *Watcher) Handle(typ string, h Handler) {
	w.mu.Lock()
	w.handlers[typ] = h
	w.mu.Unlock()
}

// OnAttach registers fn to run with the page every time the watcher
// (re-)attaches to the tab.
func (w *Watcher) OnAttach(fn func(*rod.Page)) {
	w.mu.Lock()
	w.onAttach = append(w.onAttach, fn)
	w.mu.Unlock()
}

// Rescans returns the number of completed rescans.
func (w *Watcher) Rescans() int64 { return w.deb.Rescans() }

// Run starts the browser, attaches to the webmail tab and schedules
// rescans until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("domwatch: start browser: %w", err)
	}
	defer w.mgr.Close()

	w.mgr.OnRecycle(w.detach, func(*rod.Browser) {
		if err := w.attach(ctx); err != nil {
			w.logger.Error("domwatch: re-attach after recycle", "error", err)
			return
		}
		w.deb.Trigger()
	})

	if err := w.attach(ctx); err != nil {
		return err
	}
	w.logger.Info("domwatch: watching", "url", w.cfg.URL,
		"quiet_period", w.cfg.QuietPeriod, "startup_delay", w.cfg.StartupDelay)

	w.deb.Run(ctx)

	w.detach()
	w.wg.Wait()
	return nil
}

func (w *Watcher) attach(ctx context.Context) error {
	tab, err := browser.OpenTab(ctx, w.mgr, w.cfg.URL)
	if err != nil {
		return fmt.Errorf("domwatch: open tab: %w", err)
	}
	obs := observer.New(observer.Config{Page: tab.Page, Handle: w.dispatch, Logger: w.logger})
	if err := obs.Start(ctx); err != nil {
		_ = tab.Close()
		return fmt.Errorf("domwatch: start observer: %w", err)
	}

	w.mu.Lock()
	w.tab, w.obs = tab, obs
	fns := append([]func(*rod.Page){}, w.onAttach...)
	w.mu.Unlock()

	for _, fn := range fns {
		fn(tab.Page)
	}
	w.logger.Info("domwatch: attached", "url", tab.PageURL)
	return nil
}

func (w *Watcher) detach() {
	w.mu.Lock()
	obs, tab := w.obs, w.tab
	w.obs, w.tab = nil, nil
	w.mu.Unlock()
	if obs != nil {
		obs.Stop()
	}
	if tab != nil {
		_ = tab.Close()
	}
}

// dispatch runs on the page event goroutine: mutations only poke the
// debouncer, everything else is handed off.
func (w *Watcher) dispatch(msg observer.Message) {
	if msg.Type == EventMutation {
		w.deb.Notify()
		return
	}
	w.mu.Lock()
	h, ok := w.handlers[msg.Type]
	ctx := w.ctx
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("domwatch: unhandled event", "type", msg.Type)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		h(ctx, msg.Payload)
	}()
}

// DecodeAction parses an action event.
func DecodeAction(payload []byte) (ui.Action, error) {
	var a ui.Action
	if err := json.Unmarshal(payload, &a); err != nil {
		return ui.Action{}, fmt.Errorf("domwatch: decode action: %w", err)
	}
	if a.Name == "" {
		return ui.Action{}, fmt.Errorf("domwatch: decode action: missing action")
	}
	return a, nil
}
