// Package api provides HTTP API handlers and middleware.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/lorepin/lorepin/internal/metrics"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	callerContextKey contextKey = "caller"
	requestIDKey     contextKey = "requestID"
)

// RequestIDMiddleware adds a unique request ID to each request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs every request and records its latency.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		metrics.ObserveRequest(r.Method, wrapped.status, duration)

		event := log.Info()
		if wrapped.status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", duration).
			Str("request_id", getRequestID(r.Context())).
			Msg("Request completed")
	})
}

// RateLimitMiddleware applies per-caller rate limiting, falling back to the
// client address for anonymous requests.
func RateLimitMiddleware(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if caller, ok := callerFrom(r.Context()); ok {
				return "uid:" + caller.UID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)
}

// RequireModerator rejects callers without a moderator or admin role.
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := callerFrom(r.Context())
		if !caller.CanModerate() {
			writeError(w, http.StatusForbidden, "Moderator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func callerFrom(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(models.Caller)
	return caller, ok
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
