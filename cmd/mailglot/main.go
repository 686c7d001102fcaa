// Command mailglot augments a webmail tab with translation, summaries,
// read-aloud and PDF attachment translation.
//
// Usage:
//
//	mailglot -config mailglot.yaml           # attach to the webmail and serve the admin API
//	mailglot -mcp                            # serve the MCP tools on stdio
//	mailglot -replay saved.html > out.html   # process a saved page once
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/go-rod/rod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mailglot/admin"
	"github.com/hazyhaar/mailglot/classify"
	"github.com/hazyhaar/mailglot/config"
	"github.com/hazyhaar/mailglot/connectivity"
	"github.com/hazyhaar/mailglot/dbopen"
	"github.com/hazyhaar/mailglot/domwatch"
	"github.com/hazyhaar/mailglot/observability"
	"github.com/hazyhaar/mailglot/pdftext"
	"github.com/hazyhaar/mailglot/remote"
	"github.com/hazyhaar/mailglot/settings"
	"github.com/hazyhaar/mailglot/speech"
	"github.com/hazyhaar/mailglot/trace"
	"github.com/hazyhaar/mailglot/tree"
	"github.com/hazyhaar/mailglot/tree/htmltree"
	"github.com/hazyhaar/mailglot/tree/rodtree"
	"github.com/hazyhaar/mailglot/workflow"
)

var version = "dev"

const (
	settingsPoll = 2 * time.Second
	routesPoll   = 2 * time.Second
	retentionRun = 6 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "path to mailglot.yaml (defaults apply when empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	mcpMode := flag.Bool("mcp", false, "serve the MCP tools on stdio")
	replayPath := flag.String("replay", "", "process a saved HTML page once and print the result")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("mailglot: config", "error", err)
		os.Exit(1)
	}

	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		logger.Error("mailglot: init", "error", err)
		os.Exit(1)
	}
	defer d.close()

	switch {
	case *mcpMode:
		err = runMCP(ctx, d)
	case *replayPath != "":
		err = runReplay(ctx, d, *replayPath, os.Stdout)
	default:
		err = runDaemon(ctx, d)
	}
	if err != nil {
		logger.Error("mailglot: fatal", "error", err)
		os.Exit(1)
	}
}

// deps are the components shared by every mode.
type deps struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	cache    *settings.Cache
	router   *connectivity.Router
	routes   *connectivity.Table
	client   *remote.Client
	registry *classify.Registry
	records  *workflow.Records
	events   *observability.EventLogger
	prom     *prometheus.Registry
	metrics  *workflow.Metrics
}

func newDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(settings.Schema),
		dbopen.WithSchema(connectivity.Schema),
		dbopen.WithSchema(observability.Schema),
	}
	if cfg.DBTrace {
		trace.SetMetrics(trace.NewMetrics(prom))
		opts = append(opts, dbopen.WithDriver(trace.DriverName))
	}
	db, err := dbopen.Open(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	store := settings.NewStore(db, settings.WithSealer(settings.NewSealer(os.Getenv("MAILGLOT_SECRET"))))
	cache := settings.NewCache(store,
		settings.WithLogger(logger),
		settings.WithOverrides(settings.Overrides{
			TranslateKey: os.Getenv("MAILGLOT_TRANSLATE_KEY"),
			SummarizeKey: os.Getenv("MAILGLOT_SUMMARIZE_KEY"),
		}))
	if err := cache.Reload(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	router := connectivity.New(
		connectivity.WithLogger(logger),
		connectivity.WithDefaultTimeout(cfg.Remote.Timeout),
	)
	router.RegisterTransport("http", connectivity.HTTPFactory())
	remote.Register(router, cache,
		remote.NewGoogle(cfg.Remote.TranslateBaseURL, cfg.Remote.Timeout),
		&remote.Summarizer{
			OpenAIBaseURL:    cfg.Remote.OpenAIBaseURL,
			AnthropicBaseURL: cfg.Remote.AnthropicBaseURL,
		},
		remote.Options{
			Logger:           logger,
			Metrics:          connectivity.NewMetrics(prom),
			Retries:          cfg.Remote.Retries,
			BreakerThreshold: cfg.Remote.BreakerThreshold,
		})

	registry, err := classify.NewRegistry(cfg.Registry.Capacity)
	if err != nil {
		router.Close()
		db.Close()
		return nil, fmt.Errorf("registry: %w", err)
	}

	return &deps{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		cache:    cache,
		router:   router,
		routes:   connectivity.NewTable(db),
		client:   remote.NewClient(router),
		registry: registry,
		records:  workflow.NewRecords(),
		events:   observability.NewEventLogger(db, observability.WithLogger(logger)),
		prom:     prom,
		metrics:  workflow.NewMetrics(prom),
	}, nil
}

func (d *deps) close() {
	d.router.Close()
	d.db.Close()
}

// background runs the settings and routes watchers and the event log
// retention until ctx is done.
func (d *deps) background(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		d.cache.Run(ctx, d.db, settingsPoll)
		return nil
	})
	g.Go(func() error {
		d.router.Watch(ctx, d.db, routesPoll)
		return nil
	})
	g.Go(func() error {
		d.events.RunRetention(ctx, d.cfg.Events.RetentionDays, retentionRun)
		return nil
	})
}

func (d *deps) classifier() *classify.Classifier {
	sel := d.cfg.Selectors
	anchors := make([]classify.Anchor, 0, len(sel.Anchors))
	for _, a := range sel.Anchors {
		anchors = append(anchors, classify.ParseAnchor(a))
	}
	return classify.New(d.registry,
		classify.WithSelectors(classify.Selectors{
			MessageBody:    sel.MessageBody,
			ComposeEditor:  sel.ComposeEditor,
			AttachmentCard: sel.AttachmentCard,
		}),
		classify.WithAnchors(anchors),
		classify.WithLogger(d.logger),
	)
}

func (d *deps) workflowConfig() workflow.Config {
	w := d.cfg.Workflow
	c := workflow.DefaultConfig()
	c.MinTextChars = w.MinTextChars
	c.SummaryMaxChars = w.SummaryMaxChars
	c.ChunkChars = w.ChunkChars
	c.MaxAttachmentBytes = w.MaxAttachmentBytes
	c.MessageErrorTTL = w.MessageErrorTTL
	c.AttachmentErrorTTL = w.AttachmentErrorTTL
	c.TriggerRevert = w.TriggerRevert
	return c
}

// runDaemon drives the webmail tab until ctx is done.
func runDaemon(ctx context.Context, d *deps) error {
	logger := d.logger
	page := rodtree.New()
	player := speech.NewPlayer(rodtree.NewSpeech(page), logger)

	engine := workflow.New(ctx, workflow.Options{
		Tree:          page,
		Services:      d.client,
		Settings:      d.cache,
		Classifier:    d.classifier(),
		Player:        player,
		Records:       d.records,
		Fetcher:       page,
		Extract:       pdftext.ExtractText,
		HostClipboard: clipboard.WriteAll,
		PageClipboard: page,
		Events:        d.events,
		Metrics:       d.metrics,
		Logger:        logger,
		Config:        d.workflowConfig(),
	})
	defer engine.Close()
	unsubscribe := d.cache.Subscribe(engine.SettingsChanged)
	defer unsubscribe()

	b := d.cfg.Browser
	w := domwatch.New(domwatch.Config{
		URL:              d.cfg.Page.URL,
		RemoteURL:        b.Remote,
		UserDataDir:      b.UserDataDir,
		Headful:          b.Stealth == "headful",
		XvfbDisplay:      b.XvfbDisplay,
		RecycleInterval:  b.RecycleInterval,
		ResourceBlocking: b.ResourceBlocking,
		QuietPeriod:      d.cfg.Watcher.QuietPeriod,
		StartupDelay:     d.cfg.Watcher.StartupDelay,
		Logger:           logger,
	}, engine.Rescan)

	w.OnAttach(func(p *rod.Page) {
		page.SetPage(p)
		logger.Info("mailglot: attached", "url", d.cfg.Page.URL)
	})
	w.Handle(domwatch.EventAction, func(ctx context.Context, payload []byte) {
		a, err := domwatch.DecodeAction(payload)
		if err != nil {
			logger.Warn("mailglot: bad action", "error", err)
			return
		}
		engine.HandleAction(ctx, a)
	})
	w.Handle(domwatch.EventSpeech, func(_ context.Context, payload []byte) {
		ev, err := rodtree.DecodeSpeechEvent(payload)
		if err != nil {
			logger.Warn("mailglot: bad speech event", "error", err)
			return
		}
		engine.SpeechDone(ev.ID, ev.Err())
	})

	handler := admin.NewRouter(admin.Config{
		Settings: d.cache,
		Nodes:    engine,
		Registry: d.registry,
		Records:  d.records,
		Router:   d.router,
		Routes:   d.routes,
		Events:   d.events,
		Gatherer: d.prom,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	d.background(gctx, g)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return admin.Serve(gctx, d.cfg.Admin.Listen, handler, logger) })

	logger.Info("mailglot: started", "version", version, "page", d.cfg.Page.URL, "admin", d.cfg.Admin.Listen)
	return g.Wait()
}

// runMCP serves the translate, summarize, detect and nodes tools on
// stdio.
func runMCP(ctx context.Context, d *deps) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "mailglot", Version: version}, nil)
	admin.RegisterMCP(srv, d.client, d.cache, nil)

	g, gctx := errgroup.WithContext(ctx)
	d.background(gctx, g)
	g.Go(func() error {
		err := srv.Run(gctx, &mcp.StdioTransport{})
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

// runReplay classifies a saved page, runs the automatic workflows once
// and writes the augmented markup to out.
func runReplay(ctx context.Context, d *deps, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	doc, err := htmltree.Parse(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("replay: parse %s: %w", path, err)
	}
	if err := d.router.Reload(ctx, d.db); err != nil {
		return fmt.Errorf("replay: routes: %w", err)
	}

	engine := workflow.New(ctx, workflow.Options{
		Tree:          doc,
		Services:      d.client,
		Settings:      d.cache,
		Classifier:    d.classifier(),
		Records:       d.records,
		Fetcher:       &tree.HTTPFetcher{},
		Extract:       pdftext.ExtractText,
		HostClipboard: clipboard.WriteAll,
		Events:        d.events,
		Metrics:       d.metrics,
		Logger:        d.logger,
		Config:        d.workflowConfig(),
	})
	defer engine.Close()

	engine.Rescan(ctx)
	engine.Wait()

	for _, n := range engine.Snapshot() {
		d.logger.Info("mailglot: replay node", "key", n.Key, "role", n.Role, "state", n.State, "error", n.Error)
	}
	rendered, err := doc.Render()
	if err != nil {
		return fmt.Errorf("replay: render: %w", err)
	}
	_, err = io.WriteString(out, rendered)
	return err
}
