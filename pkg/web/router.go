// Copyright 2025 Canonical Ltd
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/pkg/authentication"
	"github.com/canonical/membership-service/pkg/membership"
	"github.com/canonical/membership-service/pkg/metrics"
	"github.com/canonical/membership-service/pkg/status"
	"github.com/canonical/membership-service/pkg/webhooks"
)

type Config struct {
	CSRFAuthKey    []byte
	CSRFSecure     bool
	CSRFPlaintext  bool
	TrustedOrigins []string

	CORSAllowedOrigins []string

	RateLimitRPS   int
	RateLimitBurst int
}

// NewRouter wires the HTTP surface. Browser routes go through method routing,
// then CSRF, then the session check. Admin routes take a bearer token instead
// and are only mounted when admin is not nil, same for the stripe webhook.
func NewRouter(
	cfg Config,
	membershipAPI *membership.API,
	adminAPI *membership.AdminAPI,
	webhooksAPI *webhooks.API,
	session *authentication.SessionMiddleware,
	admin *authentication.Middleware,
	db status.PingerInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) http.Handler {
	router := chi.NewMux()

	middlewares := make(chi.Middlewares, 0)
	middlewares = append(
		middlewares,
		middleware.RequestID,
		monitoring.NewMiddleware(monitor, logger).ResponseTime(),
		middlewareCORS(cfg.CORSAllowedOrigins),
	)

	router.Use(middlewares...)

	metrics.NewAPI(logger).RegisterEndpoints(router)
	status.NewAPI(db, tracer, monitor, logger).RegisterEndpoints(router)

	if webhooksAPI != nil {
		webhooksAPI.RegisterEndpoints(router)
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger).Limit)

		r.Group(func(r chi.Router) {
			r.Use(middlewareCSRF(cfg, logger)...)

			r.Get("/csrf", csrfToken(logger))

			r.Group(func(r chi.Router) {
				r.Use(session.Authenticate())
				membershipAPI.RegisterEndpoints(r)
			})
		})

		if admin != nil {
			r.Group(func(r chi.Router) {
				r.Use(admin.Authenticate())
				adminAPI.RegisterEndpoints(r)
			})
		}
	})

	return tracing.NewMiddleware(monitor, logger).OpenTelemetry(router)
}
