package connectivity

import (
	"fmt"
	"time"
)

// ErrServiceNotFound is returned when Call targets a service with no route
// and no local handler.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("connectivity: service not routable: %s", e.Service)
}

// ErrCallTimeout is returned when a call exceeds the router's default
// timeout or the route's timeout_ms.
type ErrCallTimeout struct {
	Service string
	After   time.Duration
}

func (e *ErrCallTimeout) Error() string {
	return fmt.Sprintf("connectivity: %s did not answer within %s", e.Service, e.After)
}

// ErrCircuitOpen is returned without calling the service while its
// breaker is open. RetryIn is the remaining cooldown (zero while a
// half-open probe is in flight).
type ErrCircuitOpen struct {
	Service string
	RetryIn time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("connectivity: circuit open: %s (retry in %s)", e.Service, e.RetryIn.Round(time.Second))
	}
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}

// StatusError is a non-2xx answer from an HTTP route.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
	After    time.Duration // from Retry-After
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("connectivity: %s answered %d: %s", e.Endpoint, e.Code, body)
}

func (e *StatusError) RetryAfter() time.Duration { return e.After }
