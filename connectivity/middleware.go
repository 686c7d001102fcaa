package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/mailglot/kit"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost.
//
//	Chain(Logging(log, "translate"), Recovery(log))(h)
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// callAttrs tags a log line with the node, workflow run and caller the
// call was made for.
func callAttrs(ctx context.Context, start time.Time, payload []byte) []any {
	attrs := []any{
		"duration_ms", time.Since(start).Milliseconds(),
		"payload_bytes", len(payload),
		"transport", kit.GetTransport(ctx),
	}
	if key := kit.GetNodeKey(ctx); key != "" {
		attrs = append(attrs, "node_key", key)
	}
	if id := kit.GetRunID(ctx); id != "" {
		attrs = append(attrs, "run_id", id)
	}
	if id := kit.GetRequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	return attrs
}

// Logging logs every call of service. Failures go to warn: the workflow
// shows them to the user and they are not process faults.
func Logging(logger *slog.Logger, service string) HandlerMiddleware {
	logger = logger.With("service", service)
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := callAttrs(ctx, start, payload)
			if err != nil {
				logger.WarnContext(ctx, "connectivity: call failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "connectivity: call ok", append(attrs, "response_bytes", len(resp))...)
			}
			return resp, err
		}
	}
}

// Recovery turns a panic in a handler into an *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic",
						"panic", r, "node_key", kit.GetNodeKey(ctx), "stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}
