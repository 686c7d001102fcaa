package remote

import (
	"errors"
	"fmt"
)

// MissingCredentialError is returned before any request is made when the
// setting holding the service credential is empty.
type MissingCredentialError struct {
	Service string
	Setting string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("remote: %s: no credential configured (%s)", e.Service, e.Setting)
}

// ServiceError is a failure reported by a remote service. Message is the
// provider's own text, shown to the user as is.
type ServiceError struct {
	Service string
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote: %s: status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Service, e.Message)
}

// ErrDisabled is returned when the service route is set to noop.
var ErrDisabled = errors.New("remote: service disabled")
