// Package shield holds the HTTP middleware of the admin API: security
// headers, request body limits, request ids with a per-request logger
// and HEAD handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.AdminStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// MaxBodyBytes caps admin request bodies.
const MaxBodyBytes = 64 * 1024

// AdminStack returns the middleware of the admin API, outermost first.
func AdminStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadAsGet,
		Headers,
		LimitBody(MaxBodyBytes),
		RequestID(logger),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
