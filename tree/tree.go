// Package tree abstracts the external document mailglot augments. The
// daemon drives a live webmail tab (tree/rodtree); tests and replay mode
// use an in-memory document (tree/htmltree). Every call may fail: the
// host page can remove a node at any time.
package tree

import (
	"context"
	"errors"
)

// ErrDetached is returned when a node is no longer part of the document.
var ErrDetached = errors.New("tree: node detached")

// UIAttr marks elements injected by mailglot. Mutations inside them are
// not reported to the watcher.
const UIAttr = "data-mailglot-ui"

// Node is a handle to one element.
type Node interface {
	// Text is the rendered text of the element.
	Text(ctx context.Context) (string, error)
	// HTML is the inner markup of the element.
	HTML(ctx context.Context) (string, error)
	// Attr reads an attribute; ok is false when it is absent.
	Attr(ctx context.Context, name string) (value string, ok bool, err error)
	SetAttr(ctx context.Context, name, value string) error
	// Height is the rendered height in CSS pixels; 0 means not displayed.
	Height(ctx context.Context) (float64, error)
	SetHidden(ctx context.Context, hidden bool) error
	// InsertAfter parses markup and inserts it as the next sibling(s).
	InsertAfter(ctx context.Context, markup string) error
	SetHTML(ctx context.Context, markup string) error
	// SetText replaces the element content with plain text and notifies
	// the page as if the user had typed it.
	SetText(ctx context.Context, text string) error
	// QueryAll returns descendants matching a CSS selector.
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	// Closest returns the nearest ancestor-or-self matching selector.
	Closest(ctx context.Context, selector string) (Node, bool, error)
}

// Tree is the document.
type Tree interface {
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	// ByID returns the element with the given id attribute.
	ByID(ctx context.Context, id string) (Node, bool, error)
	// Remove deletes the element with the given id; absent ids are a no-op.
	Remove(ctx context.Context, id string) error
	// AppendToBody parses markup and appends it to the document body.
	AppendToBody(ctx context.Context, markup string) error
}

// Fetcher downloads attachment bytes with the session of the document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error)
}

// ClipboardWriter copies text through the document (navigator.clipboard).
type ClipboardWriter interface {
	WriteClipboard(ctx context.Context, text string) error
}
