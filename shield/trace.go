package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/mailglot/idgen"
	"github.com/hazyhaar/mailglot/kit"
)

// RequestID tags each request with an id (kit.WithRequestID, X-Request-ID
// header) and a per-request logger, and logs the request at debug level
// once served.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	gen := idgen.Prefixed("req_", idgen.Short(10))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 64 {
				id = gen()
			}
			w.Header().Set("X-Request-ID", id)

			l := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := kit.WithRequestID(kit.WithTransport(r.Context(), kit.TransportHTTP), id)
			ctx = context.WithValue(ctx, LoggerKey, l)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			l.Debug("shield: request", "duration", time.Since(start))
		})
	}
}
