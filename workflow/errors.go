package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/mailglot/remote"
)

// ConfigError means a required credential is missing. No call was made.
type ConfigError struct {
	Setting string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflow: missing setting %s", e.Setting)
}

// ServiceError is a remote failure; Message is the service's own text.
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("workflow: %s failed: %s", e.Service, e.Message)
}

// ContentError means the input cannot be processed (too short, no text
// layer, no download link).
type ContentError struct {
	Reason string
}

func (e *ContentError) Error() string { return "workflow: " + e.Reason }

// classifyErr maps a service client error onto the workflow taxonomy.
func classifyErr(service string, err error) error {
	var (
		mc *remote.MissingCredentialError
		se *remote.ServiceError
		ce *ContentError
		cf *ConfigError
		ws *ServiceError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce), errors.As(err, &cf), errors.As(err, &ws):
		return err
	case errors.As(err, &mc):
		return &ConfigError{Setting: mc.Setting}
	case errors.As(err, &se):
		return &ServiceError{Service: se.Service, Message: se.Message}
	case errors.Is(err, remote.ErrDisabled):
		return &ServiceError{Service: service, Message: "service disabled"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &ServiceError{Service: service, Message: err.Error()}
}

// userMessage is the text shown in the page for err.
func userMessage(err error) string {
	var (
		cf *ConfigError
		se *ServiceError
		ce *ContentError
	)
	switch {
	case errors.As(err, &cf):
		return "Missing API key: set " + cf.Setting + " in mailglot settings"
	case errors.As(err, &se):
		return se.Message
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, context.DeadlineExceeded):
		return "The service did not answer in time"
	}
	return err.Error()
}
