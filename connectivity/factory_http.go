package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/mailglot/horosafe"
)

// maxRouteResponse caps what an HTTP route may answer.
const maxRouteResponse int64 = 10 << 20

// httpRoute is an operator-configured proxy for one service. Its config
// column accepts "timeout_ms", "content_type", "headers" and
// "allow_private".
type httpRoute struct {
	endpoint     string
	TimeoutMS    int64             `json:"timeout_ms"`
	ContentType  string            `json:"content_type"`
	Headers      map[string]string `json:"headers"`
	AllowPrivate bool              `json:"allow_private"`
	client       *http.Client
}

// HTTPFactory builds handlers that POST the service payload to the
// route endpoint and return the response body. Private and loopback
// endpoints are refused unless the route sets "allow_private", which a
// proxy on the same host needs.
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		rt := &httpRoute{endpoint: endpoint, ContentType: "application/json"}
		if len(config) > 0 {
			if err := json.Unmarshal(config, rt); err != nil {
				return nil, nil, fmt.Errorf("connectivity: http route config: %w", err)
			}
		}
		check := horosafe.ValidateURL
		if rt.AllowPrivate {
			check = func(u string) error { _, err := horosafe.CheckScheme(u); return err }
		}
		if err := check(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity: http route: %w", err)
		}
		timeout := 30 * time.Second
		if rt.TimeoutMS > 0 {
			timeout = time.Duration(rt.TimeoutMS) * time.Millisecond
		}
		rt.client = &http.Client{Timeout: timeout}
		return rt.call, rt.client.CloseIdleConnections, nil
	}
}

func (rt *httpRoute) call(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rt.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("connectivity: http route: %w", err)
	}
	req.Header.Set("Content-Type", rt.ContentType)
	for k, v := range rt.Headers {
		req.Header.Set(k, v)
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connectivity: http route: %w", err)
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, maxRouteResponse)
	if err != nil {
		return nil, fmt.Errorf("connectivity: http route: read: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return body, nil
	}
	se := &StatusError{
		Endpoint: rt.endpoint,
		Code:     resp.StatusCode,
		Body:     strings.TrimSpace(string(body)),
		After:    parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	if se.Code/100 == 4 && se.Code != http.StatusTooManyRequests {
		return nil, MarkPermanent(se)
	}
	return nil, se
}

// parseRetryAfter reads the delay-seconds form; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
