package tree

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/mailglot/horosafe"
)

// HTTPFetcher downloads over plain HTTP. Replay mode uses it where no
// browser session is available.
type HTTPFetcher struct {
	Client *http.Client
	// AllowPrivate skips the private-address guard (local test servers).
	AllowPrivate bool
}

// Fetch GETs rawURL and reads at most maxBytes.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	if f.AllowPrivate {
		if _, err := horosafe.CheckScheme(rawURL); err != nil {
			return nil, fmt.Errorf("tree: fetch: %w", err)
		}
	} else if err := horosafe.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("tree: fetch: %w", err)
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tree: fetch: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tree: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tree: fetch: status %d", resp.StatusCode)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("tree: fetch: %w", err)
	}
	return data, nil
}
