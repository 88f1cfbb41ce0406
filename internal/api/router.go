// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the middleware applied around the handlers.
type RouterConfig struct {
	// RateLimit is requests per minute per client IP for the data
	// endpoints. Zero disables rate limiting.
	RateLimit int

	// AllowedOrigins feeds both CORS and the WebSocket origin check.
	AllowedOrigins []string
}

// NewRouter builds the HTTP routing tree.
//
// Health and metrics sit outside the rate limit so monitoring keeps
// working while a client is being throttled.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger())
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", h.Health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.Limit(
				cfg.RateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}
		r.Use(PrometheusMetrics())

		r.Post("/rumors", h.CreateRumor)
		r.Post("/verifications", h.CreateVerification)
		r.Get("/assessments/{userID}/{rumorID}", h.Assessment)
		r.Get("/users/{userID}/score", h.UserScore)
		r.Get("/alerts", h.Alerts)
		r.Get("/ws", h.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
