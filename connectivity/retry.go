package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy drives Retry. Zero Attempts disables retrying.
type RetryPolicy struct {
	Attempts int           // retries after the first call
	Backoff  time.Duration // first wait, doubled after each retry
	MaxWait  time.Duration // cap on a single wait, including Retry-After; default 10s
	Logger   *slog.Logger
}

// Permanent marks an error retrying cannot fix: a rejected request or a
// bad credential.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// MarkPermanent wraps err in *Permanent; nil stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// retryAfter is implemented by errors that carry a server-requested
// delay (*StatusError from a 429 or 503).
type retryAfter interface{ RetryAfter() time.Duration }

// Retry calls the handler again after transient failures. Permanent
// errors, an open breaker, an unknown service and a done context end the
// loop at once.
func Retry(p RetryPolicy) HandlerMiddleware {
	if p.MaxWait <= 0 {
		p.MaxWait = 10 * time.Second
	}
	return func(next Handler) Handler {
		if p.Attempts <= 0 {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			wait := p.Backoff
			for retry := 0; ; retry++ {
				resp, err := next(ctx, payload)
				if err == nil || retry == p.Attempts || ctx.Err() != nil || !transient(err) {
					return resp, err
				}
				d := min(delay(err, wait), p.MaxWait)
				if p.Logger != nil {
					p.Logger.WarnContext(ctx, "connectivity: retry", "retry", retry+1, "of", p.Attempts, "wait", d, "error", err)
				}
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, err
				case <-t.C:
				}
				wait *= 2
			}
		}
	}
}

func delay(err error, backoff time.Duration) time.Duration {
	var ra retryAfter
	if errors.As(err, &ra) {
		return max(ra.RetryAfter(), backoff)
	}
	return backoff
}

func transient(err error) bool {
	var (
		p  *Permanent
		co *ErrCircuitOpen
		nf *ErrServiceNotFound
	)
	return !errors.As(err, &p) && !errors.As(err, &co) && !errors.As(err, &nf)
}
