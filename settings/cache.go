package settings

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/mailglot/watch"
)

// Overrides are values taken from the environment. Non-empty fields win
// over stored ones and are never written back.
type Overrides struct {
	TranslateKey string
	SummarizeKey string
}

// Cache serves the current Settings to the engine. Reads are lock-free;
// Reload swaps the snapshot and notifies subscribers when it changed.
type Cache struct {
	store     *Store
	overrides Overrides
	logger    *slog.Logger
	cur       atomic.Pointer[Settings]

	mu     sync.Mutex
	nextID int
	subs   map[int]func(old, cur Settings)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithOverrides sets environment overrides.
func WithOverrides(o Overrides) CacheOption { return func(c *Cache) { c.overrides = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption { return func(c *Cache) { c.logger = l } }

// NewCache creates a cache holding Defaults until the first Reload.
func NewCache(store *Store, opts ...CacheOption) *Cache {
	c := &Cache{store: store, logger: slog.Default(), subs: make(map[int]func(old, cur Settings))}
	for _, o := range opts {
		o(c)
	}
	d := c.apply(Defaults())
	c.cur.Store(&d)
	return c
}

// Get returns the current snapshot.
func (c *Cache) Get() Settings { return *c.cur.Load() }

// Subscribe registers fn for change notifications. fn runs synchronously
// on the reloading goroutine. The returned func unsubscribes.
func (c *Cache) Subscribe(fn func(old, cur Settings)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Reload reads the store and publishes the result.
func (c *Cache) Reload(ctx context.Context) error {
	loaded, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	next := c.apply(loaded)
	old := c.cur.Swap(&next)
	if old != nil && *old == next {
		return nil
	}
	c.logger.Info("settings: reloaded",
		"target_lang", next.TargetLang,
		"auto_translate", next.AutoTranslate,
		"summarize_provider", next.SummarizeProvider,
		"has_translate_key", next.TranslateKey != "",
		"has_summarize_key", next.SummarizeKey != "")

	c.mu.Lock()
	subs := make([]func(old, cur Settings), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	prev := Defaults()
	if old != nil {
		prev = *old
	}
	for _, fn := range subs {
		fn(prev, next)
	}
	return nil
}

// Update applies fn to the stored settings (without overrides), persists
// them and reloads.
func (c *Cache) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	stored, err := c.store.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	fn(&stored)
	if err := c.store.Save(ctx, stored); err != nil {
		return Settings{}, err
	}
	if err := c.Reload(ctx); err != nil {
		return Settings{}, err
	}
	return c.Get(), nil
}

// Run polls the settings table and reloads on change until ctx is done.
// Edits from the admin API, another process or the sqlite3 CLI all land
// here.
func (c *Cache) Run(ctx context.Context, db *sql.DB, interval time.Duration) {
	w := watch.New(db, watch.Options{
		Interval: interval,
		Detector: watch.MaxColumnDetector("settings", "updated_at"),
		Logger:   c.logger,
	})
	w.OnChange(ctx, c.Reload)
}

func (c *Cache) apply(s Settings) Settings {
	if c.overrides.TranslateKey != "" {
		s.TranslateKey = c.overrides.TranslateKey
	}
	if c.overrides.SummarizeKey != "" {
		s.SummarizeKey = c.overrides.SummarizeKey
	}
	return s
}
