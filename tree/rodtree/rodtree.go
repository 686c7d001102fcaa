// Package rodtree implements tree.Tree over a live Chrome page driven by
// go-rod. Every operation is one CDP round trip evaluating a small
// function on the element; a node the page dropped reports
// tree.ErrDetached.
package rodtree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/mailglot/tree"
)

// ErrNoPage is returned before the watcher attached to a tab.
var ErrNoPage = errors.New("rodtree: no page attached")

// trustedHTML turns a string into something innerHTML accepts on pages
// enforcing Trusted Types. Markup reaching it is already sanitized.
const trustedHTML = `const __html = (s) => {
	if (window.trustedTypes && window.__mailglot_tt === undefined) {
		try { window.__mailglot_tt = trustedTypes.createPolicy('mailglot', { createHTML: (x) => x }); }
		catch (e) { window.__mailglot_tt = null; }
	}
	return window.__mailglot_tt ? window.__mailglot_tt.createHTML(s) : s;
};`

// Tree is the document of the attached page. The page is swapped when
// the browser is recycled.
type Tree struct {
	mu sync.RWMutex
	p  *rod.Page
}

// New returns a Tree; SetPage attaches it.
func New() *Tree { return &Tree{} }

// SetPage attaches the tree to p. It is the watcher's OnAttach callback.
func (t *Tree) SetPage(p *rod.Page) {
	t.mu.Lock()
	t.p = p
	t.mu.Unlock()
}

func (t *Tree) page(ctx context.Context) (*rod.Page, error) {
	t.mu.RLock()
	p := t.p
	t.mu.RUnlock()
	if p == nil {
		return nil, ErrNoPage
	}
	return p.Context(ctx), nil
}

// eval runs a page-level function with JSON-able args.
func (t *Tree) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	p, err := t.page(ctx)
	if err != nil {
		return nil, err
	}
	return p.Eval(js, args...)
}

// QueryAll implements tree.Tree.
func (t *Tree) QueryAll(ctx context.Context, selector string) ([]tree.Node, error) {
	p, err := t.page(ctx)
	if err != nil {
		return nil, err
	}
	els, err := p.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("rodtree: query %q: %w", selector, err)
	}
	return wrap(els), nil
}

// ByID implements tree.Tree.
func (t *Tree) ByID(ctx context.Context, id string) (tree.Node, bool, error) {
	p, err := t.page(ctx)
	if err != nil {
		return nil, false, err
	}
	els, err := p.Elements(`[id=` + strconv.Quote(id) + `]`)
	if err != nil {
		return nil, false, fmt.Errorf("rodtree: by id %q: %w", id, err)
	}
	if len(els) == 0 {
		return nil, false, nil
	}
	return &Node{el: els[0]}, true, nil
}

// Remove implements tree.Tree.
func (t *Tree) Remove(ctx context.Context, id string) error {
	_, err := t.eval(ctx, `(id) => { const el = document.getElementById(id); if (el) el.remove(); }`, id)
	if err != nil {
		return fmt.Errorf("rodtree: remove %q: %w", id, err)
	}
	return nil
}

// AppendToBody implements tree.Tree.
func (t *Tree) AppendToBody(ctx context.Context, markup string) error {
	_, err := t.eval(ctx, `(m) => { `+trustedHTML+`
		if (!document.body) throw new Error('no body');
		document.body.insertAdjacentHTML('beforeend', __html(m));
	}`, markup)
	if err != nil {
		return fmt.Errorf("rodtree: append: %w", err)
	}
	return nil
}

func wrap(els rod.Elements) []tree.Node {
	out := make([]tree.Node, len(els))
	for i, el := range els {
		out[i] = &Node{el: el}
	}
	return out
}

// Node is one element of the page.
type Node struct {
	el *rod.Element
}

// elementJS wraps fn so it runs with the element as this and reports a
// detached element instead of acting on it.
func elementJS(fn string) string {
	return `function(...a) {
	if (!this.isConnected) return { detached: true };
	` + trustedHTML + `
	return { value: (` + fn + `).apply(this, a) };
}`
}

type result struct {
	Detached bool            `json:"detached"`
	Value    json.RawMessage `json:"value"`
}

// call runs fn on the element and decodes its return value into out
// (nil discards it).
func (n *Node) call(ctx context.Context, op, fn string, out any, args ...any) error {
	res, err := n.el.Context(ctx).Eval(elementJS(fn), args...)
	if err != nil {
		return fmt.Errorf("rodtree: %s: %w", op, detached(err))
	}
	var r result
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &r); err != nil {
		return fmt.Errorf("rodtree: %s: decode: %w", op, err)
	}
	if r.Detached {
		return tree.ErrDetached
	}
	if out != nil && len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, out); err != nil {
			return fmt.Errorf("rodtree: %s: decode: %w", op, err)
		}
	}
	return nil
}

// detached maps CDP "object is gone" failures onto tree.ErrDetached.
func detached(err error) error {
	var cdpErr *rod.ObjectNotFoundError
	if errors.As(err, &cdpErr) {
		return tree.ErrDetached
	}
	return err
}

// Text implements tree.Node.
func (n *Node) Text(ctx context.Context) (string, error) {
	var s string
	err := n.call(ctx, "text", `function() { return this.innerText || ''; }`, &s)
	return s, err
}

// HTML implements tree.Node.
func (n *Node) HTML(ctx context.Context) (string, error) {
	var s string
	err := n.call(ctx, "html", `function() { return this.innerHTML; }`, &s)
	return s, err
}

// Attr implements tree.Node.
func (n *Node) Attr(ctx context.Context, name string) (string, bool, error) {
	var v *string
	if err := n.call(ctx, "attr", `function(n) { return this.getAttribute(n); }`, &v, name); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// SetAttr implements tree.Node.
func (n *Node) SetAttr(ctx context.Context, name, value string) error {
	return n.call(ctx, "set attr", `function(n, v) { this.setAttribute(n, v); }`, nil, name, value)
}

// Height implements tree.Node.
func (n *Node) Height(ctx context.Context) (float64, error) {
	var h float64
	err := n.call(ctx, "height", `function() { return this.getBoundingClientRect().height; }`, &h)
	return h, err
}

// SetHidden implements tree.Node. The host stylesheet can override the
// hidden attribute, so the inline display is forced as well and the
// previous value restored on unhide.
func (n *Node) SetHidden(ctx context.Context, hidden bool) error {
	return n.call(ctx, "set hidden", `function(h) {
		if (h) {
			if (!('mailglotDisplay' in this.dataset)) this.dataset.mailglotDisplay = this.style.display;
			this.style.display = 'none';
			this.hidden = true;
			return;
		}
		this.hidden = false;
		if ('mailglotDisplay' in this.dataset) {
			this.style.display = this.dataset.mailglotDisplay;
			delete this.dataset.mailglotDisplay;
		}
	}`, nil, hidden)
}

// InsertAfter implements tree.Node.
func (n *Node) InsertAfter(ctx context.Context, markup string) error {
	return n.call(ctx, "insert after", `function(m) { this.insertAdjacentHTML('afterend', __html(m)); }`, nil, markup)
}

// SetHTML implements tree.Node.
func (n *Node) SetHTML(ctx context.Context, markup string) error {
	return n.call(ctx, "set html", `function(m) { this.innerHTML = __html(m); }`, nil, markup)
}

// SetText implements tree.Node. Line breaks become <br> and an input
// event is dispatched so the host editor picks up the change.
func (n *Node) SetText(ctx context.Context, text string) error {
	return n.call(ctx, "set text", `function(t) {
		this.focus();
		this.textContent = '';
		t.split('\n').forEach((line, i) => {
			if (i) this.appendChild(document.createElement('br'));
			this.appendChild(document.createTextNode(line));
		});
		this.dispatchEvent(new InputEvent('input', { bubbles: true, inputType: 'insertReplacementText', data: t }));
	}`, nil, text)
}

// QueryAll implements tree.Node.
func (n *Node) QueryAll(ctx context.Context, selector string) ([]tree.Node, error) {
	els, err := n.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("rodtree: query %q: %w", selector, detached(err))
	}
	return wrap(els), nil
}

// Closest implements tree.Node.
func (n *Node) Closest(ctx context.Context, selector string) (tree.Node, bool, error) {
	el, err := n.el.Context(ctx).ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rodtree: closest %q: %w", selector, detached(err))
	}
	return &Node{el: el}, true, nil
}

var (
	_ tree.Tree = (*Tree)(nil)
	_ tree.Node = (*Node)(nil)
)
