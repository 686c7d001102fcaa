// Package browser runs the Chrome that shows the webmail: it launches a
// local Chrome on a persistent profile (so the mail login survives
// restarts) or connects to one the user already runs, and replaces a
// local Chrome that grew too old or too large.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Mode controls how a local Chrome is run.
type Mode int

const (
	Headless Mode = iota
	Headful       // real window on an Xvfb display
)

func (m Mode) String() string {
	if m == Headful {
		return "headful"
	}
	return "headless"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one. A remote Chrome is never recycled or killed.
	RemoteURL string

	// UserDataDir holds the profile with the webmail session.
	UserDataDir string

	MemoryLimit     int64         // JS heap bytes across tabs; default 1GiB
	RecycleInterval time.Duration // max age of a local Chrome; default 12h

	// ResourceBlocking names resource classes to fail in opened tabs:
	// images, fonts, media, stylesheets.
	ResourceBlocking []string

	Mode        Mode
	XvfbDisplay string // default ":99"

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 12 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

var errClosed = errors.New("browser: manager closed")

// checkEvery is how often a local Chrome is checked for recycling.
const checkEvery = 30 * time.Second

// Manager owns the Chrome connection.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	born    time.Time
	closed  bool
	before  func()
	after   func(*rod.Browser)
}

func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle sets hooks run before a Chrome is replaced and once the new
// one is connected. The watcher uses them to detach from and reopen the
// webmail tab.
func (m *Manager) OnRecycle(before func(), after func(*rod.Browser)) {
	m.mu.Lock()
	m.before, m.after = before, after
	m.mu.Unlock()
}

// Start connects to Chrome. For a local Chrome it also starts the
// recycle monitor, which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	if err := m.connect(); err != nil {
		return nil, err
	}
	if m.cfg.RemoteURL == "" {
		go m.monitor(ctx)
	}
	return m.browser, nil
}

func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle replaces the Chrome process, calling the OnRecycle hooks
// around the swap.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.RLock()
	closed, before := m.closed, m.before
	m.mu.RUnlock()
	if closed {
		return errClosed
	}
	if before != nil {
		before()
	}

	m.mu.Lock()
	age := time.Since(m.born)
	m.teardown()
	err := m.connect()
	b, after := m.browser, m.after
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("browser: recycle: %w", err)
	}
	m.cfg.Logger.InfoContext(ctx, "browser: recycled", "previous_age", age.Round(time.Second))
	if after != nil {
		after(b)
	}
	return nil
}

// Close disconnects. A local Chrome and its display are shut down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardown()
	return nil
}

// connect must be called with mu held.
func (m *Manager) connect() error {
	url := m.cfg.RemoteURL
	if url == "" {
		var err error
		if url, err = m.launch(); err != nil {
			return err
		}
	}
	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect %s: %w", url, err)
	}
	m.browser, m.born = b, time.Now()
	m.cfg.Logger.Info("browser: connected", "url", url, "remote", m.cfg.RemoteURL != "", "mode", m.cfg.Mode.String())
	return nil
}

// launch starts a local Chrome and returns its control URL. Caller holds
// mu.
func (m *Manager) launch() (string, error) {
	l := launcher.New().Set("disable-blink-features", "AutomationControlled")
	if m.cfg.Mode == Headful {
		if err := m.startDisplay(); err != nil {
			return "", err
		}
		l = l.Headless(false).Env("DISPLAY=" + m.cfg.XvfbDisplay)
	} else {
		l = l.Headless(true)
	}
	if m.cfg.UserDataDir != "" {
		l = l.UserDataDir(m.cfg.UserDataDir)
	}
	url, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch chrome: %w", err)
	}
	m.lnch = l
	return url, nil
}

// teardown must be called with mu held.
func (m *Manager) teardown() {
	if m.browser != nil && m.cfg.RemoteURL == "" {
		_ = m.browser.Close()
	}
	m.browser = nil
	if m.lnch != nil {
		// Cleanup removes the data dir, which would log the user out.
		if m.cfg.UserDataDir != "" {
			m.lnch.Kill()
		} else {
			m.lnch.Cleanup()
		}
		m.lnch = nil
	}
	m.stopDisplay()
}

func (m *Manager) monitor(ctx context.Context) {
	t := time.NewTicker(checkEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		m.mu.RLock()
		b, born, closed := m.browser, m.born, m.closed
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}
		reason := m.recycleReason(b, time.Since(born))
		if reason == "" {
			continue
		}
		m.cfg.Logger.InfoContext(ctx, "browser: recycling", "reason", reason)
		if err := m.Recycle(ctx); err != nil {
			m.cfg.Logger.ErrorContext(ctx, "browser: recycle failed", "error", err)
		}
	}
}

func (m *Manager) recycleReason(b *rod.Browser, age time.Duration) string {
	if age > m.cfg.RecycleInterval {
		return "age"
	}
	used, err := heapUsed(b)
	if err != nil {
		m.cfg.Logger.Debug("browser: heap check", "error", err)
		return ""
	}
	if used > m.cfg.MemoryLimit {
		return fmt.Sprintf("heap %d > %d", used, m.cfg.MemoryLimit)
	}
	return ""
}

// heapUsed sums JSHeapUsedSize over the open tabs.
func heapUsed(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range pages {
		if err := (proto.PerformanceEnable{}).Call(p); err != nil {
			continue
		}
		res, err := proto.PerformanceGetMetrics{}.Call(p)
		if err != nil {
			continue
		}
		for _, mt := range res.Metrics {
			if mt.Name == "JSHeapUsedSize" {
				total += int64(mt.Value)
			}
		}
	}
	return total, nil
}
