// Package api provides HTTP API handlers.
package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lorepin/lorepin/internal/cache"
	"github.com/lorepin/lorepin/internal/challenge"
	"github.com/lorepin/lorepin/internal/database"
	"github.com/lorepin/lorepin/internal/errs"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/moderation"
	"github.com/rs/zerolog/log"
)

const (
	version      = "1.0.0"
	maxBodyBytes = 1 << 20
)

// Handler contains all HTTP handlers.
type Handler struct {
	analyzer   moderation.Analyzer
	queue      *moderation.Service
	challenges *challenge.Service
	store      database.Store
	kv         cache.Cache
}

// NewHandler creates a new handler.
func NewHandler(analyzer moderation.Analyzer, queue *moderation.Service, challenges *challenge.Service, store database.Store, kv cache.Cache) *Handler {
	return &Handler{
		analyzer:   analyzer,
		queue:      queue,
		challenges: challenges,
		store:      store,
		kv:         kv,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Health check: database unreachable")
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if hc, ok := h.kv.(cache.HealthChecker); ok {
		if err := hc.Health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check: cache unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(body, v)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// writeServiceError maps domain errors onto HTTP responses. Unexpected errors
// are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrConflict):
		writeError(w, http.StatusConflict, "Resource was modified concurrently, retry the request")
	default:
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", getRequestID(r.Context())).
			Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		status, body = http.StatusInternalServerError, []byte(`{"error":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIError{Error: message})
}
