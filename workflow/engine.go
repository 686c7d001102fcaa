// Package workflow runs the per-node workflows: translate a message body,
// summarize it, read it aloud, translate a compose draft, translate a PDF
// attachment. Each node's steps run in order on their own goroutine;
// different nodes never wait on each other. Progress is visible as named
// states through Snapshot.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/mailglot/classify"
	"github.com/hazyhaar/mailglot/idgen"
	"github.com/hazyhaar/mailglot/kit"
	"github.com/hazyhaar/mailglot/observability"
	"github.com/hazyhaar/mailglot/settings"
	"github.com/hazyhaar/mailglot/speech"
	"github.com/hazyhaar/mailglot/tree"
	"github.com/hazyhaar/mailglot/ui"
)

// State names a workflow step.
type State string

const (
	StatePreflight   State = "preflight"
	StateDetecting   State = "detecting"
	StateDecision    State = "decision"
	StateTranslating State = "translating"
	StateInjecting   State = "injecting"
	StateWaiting     State = "waiting" // control shown, waiting for a click
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateSummarizing State = "summarizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateSkipped     State = "skipped"
)

// Services are the remote operations the workflows use (remote.Client).
type Services interface {
	Detect(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, source, target string) (string, error)
	TranslateMarkup(ctx context.Context, markup, source, target string) (string, error)
	Summarize(ctx context.Context, text, target string) (string, error)
}

// SettingsSource yields the current settings (settings.Cache).
type SettingsSource interface {
	Get() settings.Settings
}

// Config holds thresholds and timings.
type Config struct {
	MinTextChars       int
	SummaryMaxChars    int
	ChunkChars         int
	MaxAttachmentBytes int64
	MessageErrorTTL    time.Duration
	AttachmentErrorTTL time.Duration
	TriggerRevert      time.Duration
	ToastTTL           time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinTextChars:       5,
		SummaryMaxChars:    3000,
		ChunkChars:         2000,
		MaxAttachmentBytes: 25 << 20,
		MessageErrorTTL:    10 * time.Second,
		AttachmentErrorTTL: 8 * time.Second,
		TriggerRevert:      3 * time.Second,
		ToastTTL:           2 * time.Second,
	}
}

// applyDefaults fills every unset field from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinTextChars <= 0 {
		c.MinTextChars = d.MinTextChars
	}
	if c.SummaryMaxChars <= 0 {
		c.SummaryMaxChars = d.SummaryMaxChars
	}
	if c.ChunkChars <= 0 {
		c.ChunkChars = d.ChunkChars
	}
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = d.MaxAttachmentBytes
	}
	if c.MessageErrorTTL <= 0 {
		c.MessageErrorTTL = d.MessageErrorTTL
	}
	if c.AttachmentErrorTTL <= 0 {
		c.AttachmentErrorTTL = d.AttachmentErrorTTL
	}
	if c.TriggerRevert <= 0 {
		c.TriggerRevert = d.TriggerRevert
	}
	if c.ToastTTL <= 0 {
		c.ToastTTL = d.ToastTTL
	}
}

// Options wires an Engine. Tree, Services and Settings are required.
type Options struct {
	Tree       tree.Tree
	Services   Services
	Settings   SettingsSource
	Classifier *classify.Classifier
	Player     *speech.Player
	Records    *Records
	Fetcher    tree.Fetcher
	// Extract returns the text of a PDF.
	Extract func(data []byte) (string, error)
	// HostClipboard writes to the desktop clipboard; PageClipboard is the
	// fallback through the page.
	HostClipboard func(text string) error
	PageClipboard tree.ClipboardWriter
	Events        observability.Recorder
	Metrics       *Metrics
	Logger        *slog.Logger
	Config        Config
}

// NodeStatus is the admin view of a node.
type NodeStatus struct {
	Key            string        `json:"key"`
	Role           classify.Role `json:"role"`
	Op             string        `json:"op,omitempty"`
	State          State         `json:"state"`
	Error          string        `json:"error,omitempty"`
	Filename       string        `json:"filename,omitempty"`
	HasTranslation bool          `json:"has_translation"`
	HasSummary     bool          `json:"has_summary"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type node struct {
	key     string
	role    classify.Role
	handle  tree.Node
	payload classify.Payload
	op      string
	state   State
	pending bool // manual trigger shown, not yet clicked
	err     string
	updated time.Time
}

// Engine dispatches classified nodes and user actions to workflows.
type Engine struct {
	tree      tree.Tree
	svc       Services
	settings  SettingsSource
	cl        *classify.Classifier
	player    *speech.Player
	records   *Records
	fetcher   tree.Fetcher
	extract   func([]byte) (string, error)
	hostClip  func(string) error
	pageClip  tree.ClipboardWriter
	events    observability.Recorder
	metrics   *Metrics
	logger    *slog.Logger
	cfg       Config
	text      *ui.Text
	newRunID  idgen.Generator
	newToast  idgen.Generator
	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu       sync.Mutex
	nodes    map[string]*node
	inflight map[string]bool
	closed   bool
	wg       sync.WaitGroup // workflows
	timers   sync.WaitGroup // delayed cleanups
}

// New creates an Engine. Workflows run under ctx; Close cancels them.
func New(ctx context.Context, o Options) *Engine {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Records == nil {
		o.Records = NewRecords()
	}
	o.Config.applyDefaults()
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		tree:      o.Tree,
		svc:       o.Services,
		settings:  o.Settings,
		cl:        o.Classifier,
		player:    o.Player,
		records:   o.Records,
		fetcher:   o.Fetcher,
		extract:   o.Extract,
		hostClip:  o.HostClipboard,
		pageClip:  o.PageClipboard,
		events:    o.Events,
		metrics:   o.Metrics,
		logger:    o.Logger,
		cfg:       o.Config,
		text:      ui.NewText(),
		newRunID:  idgen.Prefixed("run_", idgen.Short(12)),
		newToast:  idgen.Prefixed("mailglot-toast-", idgen.Short(8)),
		baseCtx:   ctx,
		cancelAll: cancel,
		nodes:     make(map[string]*node),
		inflight:  make(map[string]bool),
	}
	if e.cl != nil {
		e.cl.Registry().OnEvict(e.Forget)
	}
	return e
}

// Records returns the record stores.
func (e *Engine) Records() *Records { return e.records }

// Rescan classifies the tree and dispatches new nodes. It is the
// watcher's rescan callback.
func (e *Engine) Rescan(ctx context.Context) {
	if e.cl == nil {
		return
	}
	e.ensureStyle(ctx)
	found, _ := e.cl.Scan(ctx, e.tree)
	e.Dispatch(found)
}

func (e *Engine) ensureStyle(ctx context.Context) {
	if _, ok, err := e.tree.ByID(ctx, ui.StyleID); err != nil || ok {
		return
	}
	if err := e.tree.AppendToBody(ctx, ui.Style()); err != nil {
		e.logger.Debug("workflow: inject style", "error", err)
	}
}

// Dispatch starts the role workflow of each newly classified node. The
// nodes are already marked; Dispatch never runs a key twice.
func (e *Engine) Dispatch(found []classify.Watched) {
	for _, w := range found {
		e.mu.Lock()
		if _, seen := e.nodes[w.Key]; seen || e.closed {
			e.mu.Unlock()
			continue
		}
		e.nodes[w.Key] = &node{key: w.Key, role: w.Role, handle: w.Node, payload: w.Payload, state: StateWaiting, updated: time.Now()}
		e.mu.Unlock()

		switch w.Role {
		case classify.MessageBody:
			if e.settings.Get().AutoTranslate {
				e.spawn(w.Key, opTranslate, e.translateMessage)
			} else {
				e.spawn(w.Key, opTrigger, e.showTrigger)
			}
		case classify.ComposeEditor:
			e.spawn(w.Key, opComposeAttach, e.attachCompose)
		case classify.AttachmentCard:
			e.spawn(w.Key, opAttachmentAttach, e.attachAttachment)
		}
	}
}

// Operation names, used for in-flight guards, events and metrics.
const (
	opTranslate        = "translate"
	opTrigger          = "trigger"
	opSummarize        = "summarize"
	opComposeAttach    = "compose_attach"
	opComposeTranslate = "compose_translate"
	opAttachmentAttach = "attachment_attach"
	opAttachment       = "attachment_translate"
	opCopy             = "copy"
)

// HandleAction runs the operation behind a click in the page. Unknown
// keys and actions are ignored.
func (e *Engine) HandleAction(ctx context.Context, a ui.Action) {
	e.logger.Debug("workflow: action", "action", a.Name, "key", a.Key, "target", a.Target)
	switch a.Name {
	case ui.ActionDismiss:
		if strings.HasPrefix(a.Target, "mailglot-") {
			e.remove(ctx, a.Target)
		}
		return
	}
	if _, ok := e.node(a.Key); !ok {
		e.logger.Debug("workflow: action for unknown node", "action", a.Name, "key", a.Key)
		return
	}
	switch a.Name {
	case ui.ActionTranslate:
		e.spawn(a.Key, opTranslate, func(ctx context.Context, key string) error {
			e.setPending(key, false)
			e.remove(ctx, ui.ElementID(ui.KindTrigger, key))
			return e.translateMessage(ctx, key)
		})
	case ui.ActionToggle:
		if err := e.Toggle(ctx, a.Key); err != nil {
			e.logger.Debug("workflow: toggle", "key", a.Key, "error", err)
		}
	case ui.ActionSummarize:
		e.spawn(a.Key, opSummarize, e.summarize)
	case ui.ActionSpeak:
		if err := e.ReadAloud(ctx, a.Key); err != nil {
			e.logger.Debug("workflow: read aloud", "key", a.Key, "error", err)
		}
	case ui.ActionComposeTranslate:
		target := a.Value
		e.spawn(a.Key, opComposeTranslate, func(ctx context.Context, key string) error {
			return e.translateCompose(ctx, key, target)
		})
	case ui.ActionAttachment:
		e.spawn(a.Key, opAttachment, e.translateAttachment)
	case ui.ActionTab:
		e.switchTab(ctx, a.Key, a.Value)
	case ui.ActionCopy:
		e.spawn(a.Key, opCopy, e.copyAttachment)
	default:
		e.logger.Debug("workflow: unknown action", "action", a.Name)
	}
}

// SettingsChanged is a settings.Cache subscriber. Turning auto-translate
// on runs the messages still waiting behind a manual trigger.
func (e *Engine) SettingsChanged(old, cur settings.Settings) {
	if old.AutoTranslate || !cur.AutoTranslate {
		return
	}
	var waiting []string
	e.mu.Lock()
	for k, n := range e.nodes {
		if n.pending {
			waiting = append(waiting, k)
		}
	}
	e.mu.Unlock()
	sort.Strings(waiting)
	for _, k := range waiting {
		e.HandleAction(e.baseCtx, ui.Action{Name: ui.ActionTranslate, Key: k})
	}
}

// SpeechDone forwards an engine completion event to the player.
func (e *Engine) SpeechDone(utteranceID string, err error) {
	if e.player != nil {
		e.player.Done(utteranceID, err)
	}
}

// Forget drops everything held for key. It is the registry eviction
// hook.
func (e *Engine) Forget(key string) {
	e.records.Drop(key)
	e.mu.Lock()
	delete(e.nodes, key)
	e.mu.Unlock()
}

// Snapshot lists the tracked nodes, most recently updated first.
func (e *Engine) Snapshot() []NodeStatus {
	e.mu.Lock()
	out := make([]NodeStatus, 0, len(e.nodes))
	for _, n := range e.nodes {
		out = append(out, NodeStatus{
			Key: n.key, Role: n.role, Op: n.op, State: n.state, Error: n.err,
			Filename: n.payload.Filename, UpdatedAt: n.updated,
		})
	}
	e.mu.Unlock()
	for i := range out {
		_, out[i].HasTranslation = e.records.Translation(out[i].Key)
		_, out[i].HasSummary = e.records.Summary(out[i].Key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Status returns the status of one node.
func (e *Engine) Status(key string) (NodeStatus, bool) {
	for _, s := range e.Snapshot() {
		if s.Key == key {
			return s, true
		}
	}
	return NodeStatus{}, false
}

// Wait blocks until no workflow is running. Pending delayed cleanups
// (error expiry, control revert) are not waited for.
func (e *Engine) Wait() { e.wg.Wait() }

// Close cancels running workflows and waits for them.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancelAll()
	if e.player != nil {
		_ = e.player.Stop(context.Background())
	}
	e.wg.Wait()
	e.timers.Wait()
}

func (e *Engine) node(key string) (*node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[key]
	return n, ok
}

func (e *Engine) setState(key, op string, s State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[key]
	if !ok {
		return
	}
	if n.state != s || n.op != op {
		e.logger.Debug("workflow: state", "key", key, "op", op, "from", n.state, "to", s)
	}
	n.op, n.state, n.updated = op, s, time.Now()
	n.err = ""
	if err != nil {
		n.err = userMessage(err)
	}
}

func (e *Engine) setPending(key string, v bool) {
	e.mu.Lock()
	if n, ok := e.nodes[key]; ok {
		n.pending = v
	}
	e.mu.Unlock()
}

func (e *Engine) state(key string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[key]; ok {
		return n.state
	}
	return ""
}

// spawn runs fn for key on its own goroutine unless the same operation
// is already running for key. Panics are recovered and logged.
func (e *Engine) spawn(key, op string, fn func(ctx context.Context, key string) error) bool {
	guard := op + "|" + key
	e.mu.Lock()
	if e.closed || e.inflight[guard] {
		e.mu.Unlock()
		e.logger.Debug("workflow: already running", "key", key, "op", op)
		return false
	}
	e.inflight[guard] = true
	e.wg.Add(1)
	e.mu.Unlock()

	runID := e.newRunID()
	ctx := kit.WithRunID(kit.WithNodeKey(e.baseCtx, key), runID)
	if e.metrics != nil {
		e.metrics.Active.Inc()
	}

	go func() {
		start := time.Now()
		var err error
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("workflow: panic recovered",
					"key", key, "op", op, "run_id", runID, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("workflow: panic: %v", r)
				e.setState(key, op, StateFailed, err)
				if e.metrics != nil {
					e.metrics.Panics.Inc()
				}
			}
			e.finish(ctx, key, op, runID, start, err)
			e.mu.Lock()
			delete(e.inflight, guard)
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.Active.Dec()
			}
			e.wg.Done()
		}()
		err = fn(ctx, key)
	}()
	return true
}

func (e *Engine) finish(ctx context.Context, key, op, runID string, start time.Time, err error) {
	dur := time.Since(start)
	st := e.state(key)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Info("workflow: failed", "key", key, "op", op, "run_id", runID,
			"state", st, "duration", dur, "error", err)
	} else {
		e.logger.Debug("workflow: finished", "key", key, "op", op, "run_id", runID,
			"state", st, "duration", dur)
	}
	if e.metrics != nil {
		e.metrics.Runs.WithLabelValues(op, string(st)).Inc()
		e.metrics.Duration.WithLabelValues(op).Observe(dur.Seconds())
	}
	if e.events != nil {
		role := ""
		if n, ok := e.node(key); ok {
			role = string(n.role)
		}
		ev := observability.Event{
			EventType: op,
			NodeKey:   key,
			Role:      role,
			Action:    string(st),
			Duration:  dur,
			Success:   err == nil,
		}
		if err != nil {
			ev.Details = userMessage(err)
		}
		e.events.LogEvent(ctx, ev)
	}
}

// Page helpers. Every write tolerates the element being gone: the host
// page can drop nodes at any time.

func (e *Engine) remove(ctx context.Context, id string) {
	if err := e.tree.Remove(ctx, id); err != nil {
		e.logger.Debug("workflow: remove", "id", id, "error", err)
	}
}

func (e *Engine) byID(ctx context.Context, id string) (tree.Node, bool) {
	n, ok, err := e.tree.ByID(ctx, id)
	if err != nil {
		e.logger.Debug("workflow: lookup", "id", id, "error", err)
		return nil, false
	}
	return n, ok
}

// replaceAfter removes the element with id, then inserts markup after
// anchor.
func (e *Engine) replaceAfter(ctx context.Context, anchor tree.Node, id, markup string) error {
	e.remove(ctx, id)
	return anchor.InsertAfter(ctx, markup)
}

// after runs fn once d has elapsed unless the engine closed first.
func (e *Engine) after(d time.Duration, fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.timers.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.timers.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-e.baseCtx.Done():
		case <-t.C:
			fn(e.baseCtx)
		}
	}()
}

// showError inserts a dismissible error after anchor and removes it after
// ttl.
func (e *Engine) showError(ctx context.Context, anchor tree.Node, key string, err error, ttl time.Duration) {
	id := ui.ErrorID(ui.KindError, key)
	if ierr := e.replaceAfter(ctx, anchor, id, ui.Error(ui.KindError, key, userMessage(err))); ierr != nil {
		e.logger.Debug("workflow: show error", "key", key, "error", ierr)
		return
	}
	e.after(ttl, func(ctx context.Context) { e.remove(ctx, id) })
}

// flashTrigger puts a control in a transient state and restores its
// idle label after the revert delay.
func (e *Engine) flashTrigger(ctx context.Context, id, label, state, idle string, err error) {
	btn, ok := e.byID(ctx, id)
	if !ok {
		return
	}
	_ = btn.SetText(ctx, label)
	_ = btn.SetAttr(ctx, ui.AttrState, state)
	if err != nil {
		_ = btn.SetAttr(ctx, "title", userMessage(err))
	}
	e.after(e.cfg.TriggerRevert, func(ctx context.Context) {
		if b, ok := e.byID(ctx, id); ok {
			_ = b.SetText(ctx, idle)
			_ = b.SetAttr(ctx, ui.AttrState, "")
			_ = b.SetAttr(ctx, "title", "")
		}
	})
}

// setControl sets a control's label and state.
func (e *Engine) setControl(ctx context.Context, id, label, state string) {
	if btn, ok := e.byID(ctx, id); ok {
		_ = btn.SetText(ctx, label)
		_ = btn.SetAttr(ctx, ui.AttrState, state)
	}
}
