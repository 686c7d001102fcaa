// Package classify finds the nodes mailglot augments. A scan queries the
// tree with each role's selectors, derives a stable key per node, and
// marks every new node (attribute + registry) before handing it out, so
// a node is dispatched at most once however many rescans run.
package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/hazyhaar/mailglot/idgen"
	"github.com/hazyhaar/mailglot/tree"
)

// Role is the kind of a watched node. Its value prefixes node keys.
type Role string

const (
	MessageBody    Role = "message"
	ComposeEditor  Role = "compose"
	AttachmentCard Role = "attachment"
)

// Roles in scan order.
var Roles = []Role{MessageBody, ComposeEditor, AttachmentCard}

// MarkAttr carries a node's key on the node itself.
const MarkAttr = "data-mailglot-key"

// hashPrefixRunes bounds the text hashed into a key.
const hashPrefixRunes = 100

// Payload is the role-specific data read at classification time.
type Payload struct {
	// MessageBody.
	HTML string
	Text string
	// AttachmentCard.
	Filename string
	Locator  string
}

// Watched is a newly classified node.
type Watched struct {
	Key     string
	Role    Role
	Node    tree.Node
	Payload Payload
}

// Selectors lists the matchers for each role, tried in order.
type Selectors struct {
	MessageBody    []string
	ComposeEditor  []string
	AttachmentCard []string
}

// DefaultSelectors matches Gmail's markup, with fallbacks for its
// variants.
func DefaultSelectors() Selectors {
	return Selectors{
		MessageBody: []string{
			`div.a3s.aiL`,
			`div.a3s`,
			`[data-message-id] .ii.gt div`,
			`div[role="listitem"] div[dir="ltr"]`,
		},
		ComposeEditor: []string{
			`div[aria-label="Message Body"][contenteditable="true"]`,
			`div.Am.Al.editable`,
			`div[g_editable="true"][role="textbox"]`,
		},
		AttachmentCard: []string{
			`span.aZo[download_url]`,
			`div.aQH span.aZo`,
			`[data-mailglot-attachment]`,
		},
	}
}

func (s Selectors) forRole(r Role) []string {
	switch r {
	case MessageBody:
		return s.MessageBody
	case ComposeEditor:
		return s.ComposeEditor
	case AttachmentCard:
		return s.AttachmentCard
	}
	return nil
}

// Anchor is a structural identifier exposed by the host: attribute Attr
// on the closest element matching Container (or carrying Attr when
// Container is empty).
type Anchor struct {
	Container string
	Attr      string
}

// ParseAnchor reads "attr" or "container::attr".
func ParseAnchor(s string) Anchor {
	if c, a, ok := strings.Cut(s, "::"); ok {
		return Anchor{Container: strings.TrimSpace(c), Attr: strings.TrimSpace(a)}
	}
	return Anchor{Attr: strings.TrimSpace(s)}
}

func (a Anchor) selector() string {
	if a.Container != "" {
		return a.Container
	}
	return "[" + a.Attr + "]"
}

// DefaultAnchors are tried in order for message bodies.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{Attr: "data-message-id"},
		{Attr: "data-legacy-message-id"},
		{Container: "div.adn[id]", Attr: "id"},
	}
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSelectors replaces the role selectors. Empty lists keep the
// defaults.
func WithSelectors(s Selectors) Option {
	return func(c *Classifier) {
		if len(s.MessageBody) > 0 {
			c.sel.MessageBody = s.MessageBody
		}
		if len(s.ComposeEditor) > 0 {
			c.sel.ComposeEditor = s.ComposeEditor
		}
		if len(s.AttachmentCard) > 0 {
			c.sel.AttachmentCard = s.AttachmentCard
		}
	}
}

// WithAnchors replaces the message anchors.
func WithAnchors(a []Anchor) Option {
	return func(c *Classifier) {
		if len(a) > 0 {
			c.anchors = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// Classifier scans a tree for watched nodes.
type Classifier struct {
	reg     *Registry
	sel     Selectors
	anchors []Anchor
	logger  *slog.Logger
	newID   idgen.Generator
}

// New creates a classifier recording into reg.
func New(reg *Registry, opts ...Option) *Classifier {
	c := &Classifier{
		reg:     reg,
		sel:     DefaultSelectors(),
		anchors: DefaultAnchors(),
		logger:  slog.Default(),
		newID:   idgen.Prefixed("n", idgen.Short(10)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Registry returns the registry the classifier marks into.
func (c *Classifier) Registry() *Registry { return c.reg }

// Stats counts what a scan saw.
type Stats struct {
	Matched int
	Marked  int // skipped because already marked
	Skipped int // hidden, nested, unreadable or not a PDF
	New     int
}

// Scan queries t and returns the nodes not seen before, already marked.
// It never fails: a selector or node that cannot be read is logged and
// ignored.
func (c *Classifier) Scan(ctx context.Context, t tree.Tree) ([]Watched, Stats) {
	var (
		out   []Watched
		stats Stats
	)
	for _, role := range Roles {
		for _, sel := range c.sel.forRole(role) {
			if ctx.Err() != nil {
				return out, stats
			}
			nodes, err := t.QueryAll(ctx, sel)
			if err != nil {
				c.logger.Debug("classify: query failed", "role", role, "selector", sel, "error", err)
				continue
			}
			for _, n := range nodes {
				stats.Matched++
				w, outcome := c.consider(ctx, role, n)
				switch outcome {
				case outcomeNew:
					stats.New++
					out = append(out, w)
				case outcomeMarked:
					stats.Marked++
				default:
					stats.Skipped++
				}
			}
		}
	}
	if stats.New > 0 {
		c.logger.Debug("classify: scan", "matched", stats.Matched, "new", stats.New,
			"marked", stats.Marked, "skipped", stats.Skipped)
	}
	return out, stats
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeMarked
	outcomeNew
)

func (c *Classifier) consider(ctx context.Context, role Role, n tree.Node) (Watched, outcome) {
	skip := func(reason string, err error) (Watched, outcome) {
		if err != nil {
			c.logger.Debug("classify: node ignored", "role", role, "reason", reason, "error", err)
		}
		return Watched{}, outcomeSkipped
	}

	// Already marked nodes cost a single read.
	if key, ok, err := n.Attr(ctx, MarkAttr); err != nil {
		return skip("read mark", err)
	} else if ok {
		c.reg.Touch(key)
		return Watched{}, outcomeMarked
	}

	// Inside our own UI or inside a node of the same role already taken.
	if _, inside, err := n.Closest(ctx, `[`+tree.UIAttr+`],[`+MarkAttr+`^="`+string(role)+`:"]`); err != nil {
		return skip("read ancestors", err)
	} else if inside {
		return skip("nested", nil)
	}

	w := Watched{Role: role, Node: n}
	switch role {
	case MessageBody:
		h, err := n.Height(ctx)
		if err != nil {
			return skip("read height", err)
		}
		if h <= 0 {
			return skip("not rendered", nil)
		}
		if w.Payload.HTML, err = n.HTML(ctx); err != nil {
			return skip("read html", err)
		}
		if w.Payload.Text, err = n.Text(ctx); err != nil {
			return skip("read text", err)
		}
		anchor, err := c.anchor(ctx, n)
		if err != nil {
			return skip("read anchor", err)
		}
		if anchor != "" {
			w.Key = string(role) + ":" + anchor
		} else {
			w.Key = HashKey(role, w.Payload.Text)
		}

	case ComposeEditor:
		// Editor text changes as the user types, so it cannot be hashed.
		id, ok, err := n.Attr(ctx, "id")
		if err != nil {
			return skip("read id", err)
		}
		if ok && id != "" {
			w.Key = string(role) + ":" + id
		} else {
			w.Key = string(role) + ":" + c.newID()
		}

	case AttachmentCard:
		name, err := AttachmentFilename(ctx, n)
		if err != nil {
			return skip("read filename", err)
		}
		if !IsPDF(name) {
			return skip("not a pdf", nil)
		}
		loc, err := AttachmentLocator(ctx, n)
		if err != nil {
			return skip("read locator", err)
		}
		w.Payload.Filename, w.Payload.Locator = name, loc
		w.Key = HashKey(role, name+"\x00"+loc)
	}

	// Physical mark first: a node that vanished is not registered.
	if err := n.SetAttr(ctx, MarkAttr, w.Key); err != nil {
		return skip("write mark", err)
	}
	if !c.reg.Mark(w.Key, role) {
		// Same logical node re-rendered by the host.
		c.reg.Touch(w.Key)
		return Watched{}, outcomeMarked
	}
	return w, outcomeNew
}

func (c *Classifier) anchor(ctx context.Context, n tree.Node) (string, error) {
	for _, a := range c.anchors {
		if a.Container == "" {
			if v, ok, err := n.Attr(ctx, a.Attr); err != nil {
				return "", err
			} else if ok && v != "" {
				return v, nil
			}
		}
		host, ok, err := n.Closest(ctx, a.selector())
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		v, ok, err := host.Attr(ctx, a.Attr)
		if err != nil {
			return "", err
		}
		if ok && v != "" {
			return v, nil
		}
	}
	return "", nil
}

// HashKey derives a key from the first 100 runes of whitespace-normalised
// text.
func HashKey(role Role, text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	if r := []rune(norm); len(r) > hashPrefixRunes {
		norm = string(r[:hashPrefixRunes])
	}
	sum := sha256.Sum256([]byte(norm))
	return string(role) + ":h" + hex.EncodeToString(sum[:])
}
