package bridge

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// requestIDKey is the context key for the request ID.
type requestIDKey struct{}

// requestID tags every request, honoring an ID the shell already set.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = "req_" + uuid.New().String()[:22]
		}

		w.Header().Set("X-Request-Id", id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack keeps the WebSocket upgrade working behind the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestLogger logs one line per completed request. Fix and battery pushes
// arrive every few seconds for hours; they log at debug so the default level
// stays readable.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			evt := log.Info()
			if r.URL.Path == "/v1/location" || r.URL.Path == "/v1/battery" {
				evt = log.Debug()
			}
			evt.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

// recovery turns handler panics into 500 envelopes instead of dropped
// connections.
func recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Str("request_id", GetRequestID(r.Context())).
						Interface("error", err).
						Str("stack", string(debug.Stack())).
						Msg("panic recovered")

					writeError(w, r, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter caps each client by IP. The 10 s fix cadence plus UI chatter
// sits far below the limit; a runaway shell loop does not.
func rateLimiter(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "request rate exceeded, slow down")
		}),
	)
}
