package rest

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// exportLimiter throttles the export endpoints per client IP. Exports scan
// whole log streams, so a single misbehaving client must not monopolize the
// store.
type exportLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newExportLimiter(r rate.Limit, burst int) *exportLimiter {
	return &exportLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *exportLimiter) allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (l *exportLimiter) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.allow(host) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "export rate limit exceeded",
			})
			return
		}
		next(w, r)
	}
}
