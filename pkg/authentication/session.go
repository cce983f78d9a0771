// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"errors"
	"net/http"

	"github.com/canonical/membership-service/internal/kratos"
	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
)

// SessionMiddleware resolves the browser session cookie into a principal.
// Requests without a valid session never reach the handler.
type SessionMiddleware struct {
	sessions   SessionVerifierInterface
	cookieName string

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (m *SessionMiddleware) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := m.tracer.Start(r.Context(), "authentication.SessionMiddleware.Authenticate")
			defer span.End()

			cookie, err := r.Cookie(m.cookieName)
			if err != nil || cookie.Value == "" {
				unauthorizedResponse(w, m.logger, "missing session")
				return
			}

			principal, err := m.sessions.Whoami(ctx, cookie.String())
			if err != nil {
				if errors.Is(err, kratos.ErrNoSession) {
					m.logger.Security().AuthnFailure("invalid_session", logging.String("path", r.URL.Path))
					unauthorizedResponse(w, m.logger, "invalid session")
					return
				}

				m.logger.Errorf("failed to resolve session: %v", err)
				writeError(w, m.logger, http.StatusServiceUnavailable, "identity_unavailable", "identity provider unavailable, retry later")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

func NewSessionMiddleware(sessions SessionVerifierInterface, cookieName string, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *SessionMiddleware {
	m := new(SessionMiddleware)

	m.sessions = sessions
	m.cookieName = cookieName

	m.tracer = tracer
	m.monitor = monitor
	m.logger = logger

	return m
}
