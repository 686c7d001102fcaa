// Package htmltree is an in-memory tree.Tree over a goquery document. It
// backs the replay mode (augment a saved page and print the result) and
// the workflow tests.
package htmltree

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/mailglot/tree"
)

// Document is a mutex-guarded goquery document.
type Document struct {
	mu  sync.Mutex
	doc *goquery.Document
	// mutations counts successful writes; tests use it to check that an
	// operation did not touch the page.
	mutations int
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmltree: parse: %w", err)
	}
	return &Document{doc: doc}, nil
}

// MustParseString parses s and panics on error. Test helper.
func MustParseString(s string) *Document {
	d, err := Parse(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return d
}

// Render returns the current document markup.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

// Mutations returns the number of writes applied so far.
func (d *Document) Mutations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations
}

func (d *Document) wrap(sel *goquery.Selection) []tree.Node {
	out := make([]tree.Node, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, &Node{d: d, n: n})
	}
	return out
}

// QueryAll implements tree.Tree.
func (d *Document) QueryAll(ctx context.Context, selector string) ([]tree.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := find(d.doc.Selection, selector)
	if err != nil {
		return nil, err
	}
	return d.wrap(sel), nil
}

// ByID implements tree.Tree.
func (d *Document) ByID(ctx context.Context, id string) (tree.Node, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(idSelector(id))
	if sel.Length() == 0 {
		return nil, false, nil
	}
	return &Node{d: d, n: sel.Nodes[0]}, true, nil
}

// Remove implements tree.Tree.
func (d *Document) Remove(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(idSelector(id))
	if sel.Length() > 0 {
		sel.Remove()
		d.mutations++
	}
	return nil
}

// AppendToBody implements tree.Tree.
func (d *Document) AppendToBody(ctx context.Context, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	body := d.doc.Find("body")
	if body.Length() == 0 {
		return fmt.Errorf("htmltree: document has no body")
	}
	body.AppendHtml(markup)
	d.mutations++
	return nil
}

// Node is an element of a Document.
type Node struct {
	d *Document
	n *html.Node
}

func (n *Node) sel() (*goquery.Selection, error) {
	if !attached(n.d.doc, n.n) {
		return nil, tree.ErrDetached
	}
	return n.d.doc.FindNodes(n.n), nil
}

// Text implements tree.Node.
func (n *Node) Text(ctx context.Context) (string, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if _, err := n.sel(); err != nil {
		return "", err
	}
	return renderText(n.n), nil
}

// HTML implements tree.Node.
func (n *Node) HTML(ctx context.Context) (string, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	s, err := n.sel()
	if err != nil {
		return "", err
	}
	return s.Html()
}

// Attr implements tree.Node.
func (n *Node) Attr(ctx context.Context, name string) (string, bool, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	s, err := n.sel()
	if err != nil {
		return "", false, err
	}
	v, ok := s.Attr(name)
	return v, ok, nil
}

// SetAttr implements tree.Node.
func (n *Node) SetAttr(ctx context.Context, name, value string) error {
	return n.mutate(func(s *goquery.Selection) { s.SetAttr(name, value) })
}

// Height implements tree.Node. There is no layout engine: an element is
// 0 high when it or an ancestor is hidden, or when it has no text and no
// media; otherwise a data-height attribute wins, else 16px per text line.
func (n *Node) Height(ctx context.Context) (float64, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	s, err := n.sel()
	if err != nil {
		return 0, err
	}
	for p := n.n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && isHidden(p) {
			return 0, nil
		}
	}
	if v, ok := s.Attr("data-height"); ok {
		if h, err := strconv.ParseFloat(v, 64); err == nil {
			return h, nil
		}
	}
	text := strings.TrimSpace(renderText(n.n))
	if text == "" && s.Find("img,video,iframe").Length() == 0 {
		return 0, nil
	}
	return float64(16 * (1 + strings.Count(text, "\n"))), nil
}

// SetHidden implements tree.Node.
func (n *Node) SetHidden(ctx context.Context, hidden bool) error {
	return n.mutate(func(s *goquery.Selection) {
		if hidden {
			s.SetAttr("hidden", "")
		} else {
			s.RemoveAttr("hidden")
		}
	})
}

// InsertAfter implements tree.Node.
func (n *Node) InsertAfter(ctx context.Context, markup string) error {
	return n.mutate(func(s *goquery.Selection) { s.AfterHtml(markup) })
}

// SetHTML implements tree.Node.
func (n *Node) SetHTML(ctx context.Context, markup string) error {
	return n.mutate(func(s *goquery.Selection) { s.SetHtml(markup) })
}

// SetText implements tree.Node.
func (n *Node) SetText(ctx context.Context, text string) error {
	return n.mutate(func(s *goquery.Selection) { s.SetText(text) })
}

// QueryAll implements tree.Node.
func (n *Node) QueryAll(ctx context.Context, selector string) ([]tree.Node, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	s, err := n.sel()
	if err != nil {
		return nil, err
	}
	found, err := find(s, selector)
	if err != nil {
		return nil, err
	}
	return n.d.wrap(found), nil
}

// Closest implements tree.Node.
func (n *Node) Closest(ctx context.Context, selector string) (tree.Node, bool, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	s, err := n.sel()
	if err != nil {
		return nil, false, err
	}
	c := s.Closest(selector)
	if c.Length() == 0 {
		return nil, false, nil
	}
	return &Node{d: n.d, n: c.Nodes[0]}, true, nil
}

func (n *Node) mutate(fn func(*goquery.Selection)) error {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	s, err := n.sel()
	if err != nil {
		return err
	}
	fn(s)
	n.d.mutations++
	return nil
}

// find compiles selector first: goquery silently matches nothing on a
// syntax error.
func find(s *goquery.Selection, selector string) (*goquery.Selection, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmltree: selector %q: %w", selector, err)
	}
	return s.FindMatcher(m), nil
}

func idSelector(id string) string {
	return `[id="` + strings.ReplaceAll(id, `"`, `\"`) + `"]`
}

func attached(doc *goquery.Document, n *html.Node) bool {
	root := doc.Nodes[0]
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") {
				return true
			}
		}
	}
	return false
}
