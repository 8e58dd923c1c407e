// Package api provides HTTP router setup.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lorepin/lorepin/internal/cache"
	"github.com/lorepin/lorepin/internal/challenge"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/database"
	"github.com/lorepin/lorepin/internal/metrics"
	"github.com/lorepin/lorepin/internal/moderation"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg *config.Config, analyzer moderation.Analyzer, queue *moderation.Service, challenges *challenge.Service, store database.Store, kv cache.Cache) http.Handler {
	r := chi.NewRouter()

	handler := NewHandler(analyzer, queue, challenges, store, kv)

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(&cfg.Auth))
			r.Use(RateLimitMiddleware(cfg.RateLimits.RequestsPerMinute))

			r.Route("/moderation", func(r chi.Router) {
				r.Post("/analyze", handler.Analyze)
				r.Post("/queue", handler.AddToQueue)

				r.Group(func(r chi.Router) {
					r.Use(RequireModerator)
					r.Get("/queue", handler.ListQueue)
					r.Get("/queue/{id}", handler.GetQueueItem)
					r.Put("/queue/{id}/status", handler.UpdateQueueStatus)
					r.Post("/queue/{id}/reopen", handler.ReopenQueueItem)
					r.Post("/queue/{id}/update-video-analysis", handler.UpdateVideoAnalysis)
				})
			})

			r.Route("/challenges", func(r chi.Router) {
				r.Post("/", handler.CreateChallenge)
				r.Get("/", handler.ListChallenges)
				r.Get("/{id}", handler.GetChallenge)
				r.Put("/{id}", handler.UpdateChallenge)
				r.Delete("/{id}", handler.DeleteChallenge)
				r.Post("/{id}/submit", handler.SubmitChallenge)
				r.Post("/{id}/approve", handler.ApproveChallenge)
				r.Post("/{id}/reject", handler.RejectChallenge)
				r.Post("/{id}/feature", handler.FeatureChallenge)
				r.Post("/{id}/complete", handler.CompleteChallenge)
				r.Post("/{id}/archive", handler.ArchiveChallenge)
			})
		})
	})

	return r
}
