package httpx

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/aussiebroadwan/bullwark/pkg/slogx"
	"golang.org/x/time/rate"
)

// IPKeyExtractor extracts the client IP address from the request, honouring
// X-Forwarded-For and X-Real-IP.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimitByIP limits each client IP to limit requests per second with the
// given burst. Rejected requests get a 429 in the API's error format.
func RateLimitByIP(limit rate.Limit, burst int) Middleware {
	var limiters sync.Map // ip -> *rate.Limiter

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := IPKeyExtractor(r)
			l, _ := limiters.LoadOrStore(key, rate.NewLimiter(limit, burst))
			limiter := l.(*rate.Limiter)

			if !limiter.Allow() {
				res := limiter.Reserve()
				retryAfter := max(int(res.Delay().Seconds()), 1)
				res.Cancel()

				slogx.FromContext(r.Context()).Warn("rate limit exceeded", "key", key, "retry_after", retryAfter)

				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitedTransport throttles outgoing requests. Requests wait for a
// token and fail only if their context ends first.
type RateLimitedTransport struct {
	Next    http.RoundTripper
	Limiter *rate.Limiter
}

// NewRateLimitedTransport wraps next with a limiter of rps requests per
// second. A non-positive rps disables limiting and returns next unchanged.
func NewRateLimitedTransport(next http.RoundTripper, rps float64, burst int) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedTransport{Next: next, Limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("httpx: rate limit wait: %w", err)
	}
	return t.Next.RoundTrip(req)
}
