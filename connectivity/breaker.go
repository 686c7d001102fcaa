package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the position of a service breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass
	BreakerOpen                         // calls fail fast with ErrCircuitOpen
	BreakerHalfOpen                     // one probe at a time
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "closed"
}

// BreakerConfig tunes a Breaker. Zero fields take the defaults: 5
// consecutive failures, 30s cooldown, 2 probe successes.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	Probes    int
	// OnChange observes transitions (logging, the breaker gauge). It
	// runs with the breaker lock released.
	OnChange func(from, to BreakerState)
	Now      func() time.Time
}

// Breaker stops calling a remote service that keeps failing, so a dead
// translation endpoint turns every click into an immediate error instead
// of a 30s wait.
type Breaker struct {
	service string
	cfg     BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	passed   int  // probe successes while half-open
	probing  bool // a half-open probe is in flight
	openedAt time.Time
}

// NewBreaker creates a closed breaker for service.
func NewBreaker(service string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{service: service, cfg: cfg}
}

// State returns the current state, moving an open breaker whose
// cooldown has elapsed to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	from, to := b.cool()
	s := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return s
}

// cool must be called with mu held.
func (b *Breaker) cool() (from, to BreakerState) {
	if b.state == BreakerOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return b.set(BreakerHalfOpen)
	}
	return b.state, b.state
}

// set must be called with mu held.
func (b *Breaker) set(s BreakerState) (from, to BreakerState) {
	from = b.state
	b.state = s
	switch s {
	case BreakerOpen:
		b.openedAt = b.cfg.Now()
		b.passed = 0
	case BreakerHalfOpen:
		b.passed = 0
	case BreakerClosed:
		b.failures = 0
		b.passed = 0
	}
	return from, s
}

func (b *Breaker) notify(from, to BreakerState) {
	if from != to && b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}

// acquire admits a call or returns ErrCircuitOpen.
func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	from, to := b.cool()
	switch b.state {
	case BreakerOpen:
		retry := b.cfg.Cooldown - b.cfg.Now().Sub(b.openedAt)
		b.mu.Unlock()
		return false, &ErrCircuitOpen{Service: b.service, RetryIn: retry}
	case BreakerHalfOpen:
		if b.probing {
			b.mu.Unlock()
			b.notify(from, to)
			return false, &ErrCircuitOpen{Service: b.service}
		}
		b.probing = true
		probe = true
	}
	b.mu.Unlock()
	b.notify(from, to)
	return probe, nil
}

// release records the outcome of an admitted call.
func (b *Breaker) release(probe, failed bool) {
	b.mu.Lock()
	if probe {
		b.probing = false
	}
	from, to := b.state, b.state
	switch {
	case failed && b.state == BreakerHalfOpen:
		from, to = b.set(BreakerOpen)
	case failed && b.state == BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			from, to = b.set(BreakerOpen)
		}
	case !failed && b.state == BreakerHalfOpen:
		b.passed++
		if b.passed >= b.cfg.Probes {
			from, to = b.set(BreakerClosed)
		}
	case !failed:
		b.failures = 0
	}
	b.mu.Unlock()
	b.notify(from, to)
}

// Middleware guards a handler with the breaker. Permanent errors (bad
// credential, rejected request) prove the service is up and count as
// successes.
func (b *Breaker) Middleware() HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			probe, err := b.acquire()
			if err != nil {
				return nil, err
			}
			resp, err := next(ctx, payload)
			var p *Permanent
			b.release(probe, err != nil && !errors.As(err, &p))
			return resp, err
		}
	}
}
