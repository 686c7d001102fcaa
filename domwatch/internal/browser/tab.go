package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab is the webmail page being augmented.
type Tab struct {
	Page    *rod.Page
	PageURL string
	reused  bool
	hijack  *rod.HijackRouter
}

// OpenTab attaches to an open page on the same origin as pageURL when
// there is one, so a session the user already logged into is kept.
// Otherwise it opens a stealth page and navigates.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	if p := findPage(b, pageURL); p != nil {
		info, _ := p.Info()
		current := pageURL
		if info != nil {
			current = info.URL
		}
		log.Info("browser: attached to open tab", "url", current)
		return &Tab{Page: p, PageURL: current, reused: true}, nil
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageURL: pageURL}
	types, unknown := resourceTypes(mgr.cfg.ResourceBlocking)
	if len(unknown) > 0 {
		log.Warn("browser: ignoring unknown resource classes", "classes", unknown)
	}
	t.hijack = blockResources(page, types)

	navCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// findPage returns an open page whose origin matches rawURL.
func findPage(b *rod.Browser, rawURL string) *rod.Page {
	want, err := url.Parse(rawURL)
	if err != nil || want.Host == "" {
		return nil
	}
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if sameOrigin(want, info.URL) {
			return p
		}
	}
	return nil
}

func sameOrigin(want *url.URL, raw string) bool {
	got, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Scheme, want.Scheme) && strings.EqualFold(got.Host, want.Host)
}

// Close stops request interception and closes the page unless it was an
// existing tab of the user.
func (t *Tab) Close() error {
	if t.hijack != nil {
		_ = t.hijack.Stop()
		t.hijack = nil
	}
	if t.Page == nil || t.reused {
		return nil
	}
	return t.Page.Close()
}
