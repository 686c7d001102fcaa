// Package remote holds the service clients behind mailglot's workflows:
// language detection and translation (Google Cloud Translation v2) and
// summarization (OpenAI or Anthropic). Providers are registered as local
// handlers on a connectivity.Router; the workflows call them through
// Client, so an operator can point a service at an HTTP proxy or disable
// it without a restart.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/mailglot/connectivity"
	"github.com/hazyhaar/mailglot/lang"
	"github.com/hazyhaar/mailglot/settings"
)

// Service names in the routes table.
const (
	ServiceTranslate = "translate"
	ServiceDetect    = "detect"
	ServiceSummarize = "summarize"
)

// Services lists every service Register installs.
var Services = []string{ServiceTranslate, ServiceDetect, ServiceSummarize}

// Formats for TranslateRequest.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// DetectSampleChars caps the text sent for detection.
const DetectSampleChars = 500

// TranslateRequest is the translate service payload.
type TranslateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Format string `json:"format"`
}

// TranslateResponse is the translate service result.
type TranslateResponse struct {
	Text           string `json:"text"`
	DetectedSource string `json:"detected_source,omitempty"`
}

// DetectRequest is the detect service payload.
type DetectRequest struct {
	Text string `json:"text"`
}

// DetectResponse is the detect service result. Lang is "und" when
// nothing was detected.
type DetectResponse struct {
	Lang string `json:"lang"`
}

// SummarizeRequest is the summarize service payload.
type SummarizeRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

// SummarizeResponse is the summarize service result.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// errorBody is what a handler error looks like on the wire when the
// service sits behind an HTTP route.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SettingsSource yields the current settings (settings.Cache).
type SettingsSource interface {
	Get() settings.Settings
}

// Options configures Register.
type Options struct {
	Logger  *slog.Logger
	Metrics *connectivity.Metrics
	// Retries on transient failures. Zero means a failure is reported
	// to the user at once.
	Retries int
	Backoff time.Duration
	// BreakerThreshold consecutive failures open the service circuit.
	// Zero disables the breaker.
	BreakerThreshold int
}

// Register installs the local translate, detect and summarize handlers
// on r, each wrapped with logging, metrics, panic recovery, an optional
// circuit breaker and retries.
func Register(r *connectivity.Router, src SettingsSource, g *Google, s *Summarizer, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	wrap := func(service string, h connectivity.Handler) connectivity.Handler {
		mws := []connectivity.HandlerMiddleware{
			connectivity.Logging(logger, service),
			connectivity.WithMetrics(opts.Metrics, service),
			connectivity.Recovery(logger),
		}
		if opts.BreakerThreshold > 0 {
			b := connectivity.NewBreaker(service, connectivity.BreakerConfig{
				Threshold: opts.BreakerThreshold,
				OnChange: func(from, to connectivity.BreakerState) {
					logger.Warn("remote: breaker", "service", service, "from", from.String(), "to", to.String())
					opts.Metrics.ObserveBreaker(service, to)
				},
			})
			mws = append(mws, b.Middleware())
		}
		mws = append(mws, connectivity.Retry(connectivity.RetryPolicy{Attempts: opts.Retries, Backoff: opts.Backoff, Logger: logger}))
		return connectivity.Chain(mws...)(h)
	}

	r.RegisterLocal(ServiceTranslate, wrap(ServiceTranslate, handle(func(ctx context.Context, req TranslateRequest) (TranslateResponse, error) {
		key := src.Get().TranslateKey
		if key == "" {
			return TranslateResponse{}, connectivity.MarkPermanent(&MissingCredentialError{Service: ServiceTranslate, Setting: settings.KeyTranslateKey})
		}
		text, detected, err := g.Translate(ctx, key, req.Text, req.Source, req.Target, req.Format)
		if err != nil {
			return TranslateResponse{}, permanentIfClient(err)
		}
		return TranslateResponse{Text: text, DetectedSource: detected}, nil
	})))

	r.RegisterLocal(ServiceDetect, wrap(ServiceDetect, handle(func(ctx context.Context, req DetectRequest) (DetectResponse, error) {
		key := src.Get().TranslateKey
		if key == "" {
			return DetectResponse{}, connectivity.MarkPermanent(&MissingCredentialError{Service: ServiceDetect, Setting: settings.KeyTranslateKey})
		}
		tag, err := g.Detect(ctx, key, req.Text)
		if err != nil {
			return DetectResponse{}, permanentIfClient(err)
		}
		return DetectResponse{Lang: tag}, nil
	})))

	r.RegisterLocal(ServiceSummarize, wrap(ServiceSummarize, handle(func(ctx context.Context, req SummarizeRequest) (SummarizeResponse, error) {
		st := src.Get()
		if st.SummarizeKey == "" {
			return SummarizeResponse{}, connectivity.MarkPermanent(&MissingCredentialError{Service: ServiceSummarize, Setting: settings.KeySummarizeKey})
		}
		out, err := s.Summarize(ctx, st.SummarizeProvider, st.SummarizeModel, st.SummarizeKey, req.Text, req.Target)
		if err != nil {
			return SummarizeResponse{}, permanentIfClient(err)
		}
		return SummarizeResponse{Summary: out}, nil
	})))
}

// handle adapts a typed function to a connectivity.Handler.
func handle[Req, Resp any](fn func(context.Context, Req) (Resp, error)) connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, connectivity.MarkPermanent(fmt.Errorf("remote: decode request: %w", err))
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

func permanentIfClient(err error) error {
	var se *ServiceError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 && se.Status != 429 {
		return connectivity.MarkPermanent(err)
	}
	return err
}

// Caller is the part of connectivity.Router the Client needs.
type Caller interface {
	Call(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// Client is the workflows' view of the remote services.
type Client struct {
	caller Caller
}

// NewClient returns a client dispatching through c.
func NewClient(c Caller) *Client { return &Client{caller: c} }

// Detect returns the language of the first DetectSampleChars characters
// of text, or lang.Unknown.
func (c *Client) Detect(ctx context.Context, text string) (string, error) {
	var resp DetectResponse
	if err := c.call(ctx, ServiceDetect, DetectRequest{Text: truncateRunes(text, DetectSampleChars)}, &resp); err != nil {
		if errors.Is(err, ErrDisabled) {
			return lang.Unknown, nil
		}
		return "", err
	}
	if resp.Lang == "" {
		return lang.Unknown, nil
	}
	return resp.Lang, nil
}

// Translate translates plain text. source may be empty or "und".
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	return c.translate(ctx, text, source, target, FormatText)
}

// TranslateMarkup translates HTML, keeping its structure.
func (c *Client) TranslateMarkup(ctx context.Context, markup, source, target string) (string, error) {
	return c.translate(ctx, markup, source, target, FormatHTML)
}

func (c *Client) translate(ctx context.Context, text, source, target, format string) (string, error) {
	if source == lang.Unknown {
		source = ""
	}
	var resp TranslateResponse
	err := c.call(ctx, ServiceTranslate, TranslateRequest{Text: text, Source: source, Target: target, Format: format}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Summarize returns a bullet summary of text written in target.
func (c *Client) Summarize(ctx context.Context, text, target string) (string, error) {
	var resp SummarizeResponse
	if err := c.call(ctx, ServiceSummarize, SummarizeRequest{Text: text, Target: target}, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

func (c *Client) call(ctx context.Context, service string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("remote: %s: encode: %w", service, err)
	}
	out, err := c.caller.Call(ctx, service, payload)
	if err != nil {
		return normalize(service, err)
	}
	if out == nil {
		return fmt.Errorf("remote: %s: %w", service, ErrDisabled)
	}
	if err := json.Unmarshal(out, resp); err != nil {
		return &ServiceError{Service: service, Message: "unreadable response: " + err.Error()}
	}
	return nil
}

// normalize turns router and transport failures into ServiceErrors so
// the user sees one kind of message. MissingCredentialError passes
// through unchanged.
func normalize(service string, err error) error {
	var (
		mc *MissingCredentialError
		se *ServiceError
		to *connectivity.ErrCallTimeout
		co *connectivity.ErrCircuitOpen
	)
	switch {
	case errors.As(err, &mc), errors.As(err, &se):
		return err
	case errors.As(err, &to):
		return &ServiceError{Service: service, Message: fmt.Sprintf("no answer within %s", to.After)}
	case errors.As(err, &co):
		return &ServiceError{Service: service, Message: "temporarily unavailable after repeated failures"}
	case errors.Is(err, context.Canceled):
		return err
	}
	msg := err.Error()
	if i := strings.Index(msg, "{"); i >= 0 {
		if m := jsonErrorMessage(msg[i:]); m != "" {
			msg = m
		}
	}
	return &ServiceError{Service: service, Message: msg}
}

// jsonErrorMessage extracts error.message from a JSON error body.
func jsonErrorMessage(raw string) string {
	var b errorBody
	if json.Unmarshal([]byte(strings.TrimSpace(raw)), &b) != nil {
		return ""
	}
	return b.Error.Message
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
