package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/idx"
)

// HeaderRequestID carries the request id between the SDK and the server.
const HeaderRequestID = "X-Request-ID"

// HTTPMiddleware logs requests and attaches a contextual logger into request context.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = idx.New().String()
			}

			logger := base.With(
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"tenant", r.Header.Get("X-Tenant-Uuid"),
			)

			r = r.WithContext(WithContext(r.Context(), logger))
			next.ServeHTTP(rw, r)

			logger.Info("http_request",
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter

	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RoundTripper logs outgoing requests at debug level and tags each one with
// a request id. Headers are never logged, they carry tokens.
type RoundTripper struct {
	Next   http.RoundTripper
	Logger *slog.Logger
}

// NewRoundTripper wraps next, falling back to http.DefaultTransport.
func NewRoundTripper(logger *slog.Logger, next http.RoundTripper) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{Next: next, Logger: logger}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := req.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = idx.New().String()
		req = req.Clone(req.Context())
		req.Header.Set(HeaderRequestID, reqID)
	}

	resp, err := rt.Next.RoundTrip(req)

	logger := rt.Logger.With(
		"req_id", reqID,
		"method", req.Method,
		"url", req.URL.Redacted(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		logger.Debug("http_client_request", "error", err)
		return nil, err
	}
	logger.Debug("http_client_request", "status", resp.StatusCode)
	return resp, nil
}
