package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

type actorContextKey struct{}

// WithActor attaches the authenticated principal to the request context. The
// host platform's authentication layer calls this before the audit
// middleware runs.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the attached principal, or a zero Actor for
// unauthenticated requests.
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(Actor); ok {
		return actor
	}
	return Actor{}
}

// Middleware adapts the classifier to net/http. It observes after the
// response is written so the status code is final, and it never alters the
// response.
type Middleware struct {
	service      *Service
	maxBodyBytes int64
}

func NewMiddleware(service *Service, maxBodyBytes int64) *Middleware {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 64 << 10
	}
	return &Middleware{service: service, maxBodyBytes: maxBodyBytes}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := m.capturePayload(r)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now().UTC()
		next.ServeHTTP(rec, r)

		m.service.Observe(r.Context(), Operation{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.Query(),
			Status:    rec.status,
			Actor:     ActorFromContext(r.Context()),
			Reason:    r.Header.Get("X-Access-Reason"),
			Payload:   payload,
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
			Timestamp: start,
		})
	})
}

// capturePayload reads a bounded copy of a JSON request body and puts the
// original bytes back so the handler sees an untouched request.
func (m *Middleware) capturePayload(r *http.Request) map[string]interface{} {
	if r.Body == nil || !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, m.maxBodyBytes))
	if err != nil {
		return nil
	}
	remainder, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), bytes.NewReader(remainder)))

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
