// Package kit carries call metadata through a context so that log lines
// written deep in the service router can name the node, workflow run and
// admin request a remote call was made for.
package kit

import "context"

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
	nodeKeyKey
	runIDKey
)

// Transports a call can arrive through.
const (
	TransportPage = "page" // a workflow in the watched webmail tab
	TransportHTTP = "http" // the admin API
	TransportMCP  = "mcp"  // an MCP tool call
)

func with(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func get(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context { return with(ctx, transportKey, t) }

// GetTransport defaults to TransportPage: workflows are the only callers
// that never set it.
func GetTransport(ctx context.Context) string {
	if t := get(ctx, transportKey); t != "" {
		return t
	}
	return TransportPage
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}
func GetRequestID(ctx context.Context) string { return get(ctx, requestIDKey) }

// WithNodeKey tags ctx with the registry key of the node being worked on.
func WithNodeKey(ctx context.Context, key string) context.Context { return with(ctx, nodeKeyKey, key) }
func GetNodeKey(ctx context.Context) string                       { return get(ctx, nodeKeyKey) }

func WithRunID(ctx context.Context, id string) context.Context { return with(ctx, runIDKey, id) }
func GetRunID(ctx context.Context) string                      { return get(ctx, runIDKey) }
