// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/csrf"
	"golang.org/x/time/rate"

	"github.com/canonical/membership-service/internal/logging"
)

const (
	csrfHeader = "X-CSRF-Token"
	bucketTTL  = 5 * time.Minute
)

func middlewareCORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(
		cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrfHeader},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		},
	)
}

// middlewareCSRF validates the header token against the secret cookie on
// every unsafe method.
func middlewareCSRF(cfg Config, logger logging.LoggerInterface) []func(http.Handler) http.Handler {
	protect := csrf.Protect(
		cfg.CSRFAuthKey,
		csrf.Secure(cfg.CSRFSecure),
		csrf.Path("/"),
		csrf.RequestHeader(csrfHeader),
		csrf.TrustedOrigins(cfg.TrustedOrigins),
		csrf.ErrorHandler(csrfFailure(logger)),
	)

	if !cfg.CSRFPlaintext {
		return []func(http.Handler) http.Handler{protect}
	}

	plaintext := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
	return []func(http.Handler) http.Handler{plaintext, protect}
}

func csrfFailure(logger logging.LoggerInterface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := "invalid token"
		if err := csrf.FailureReason(r); err != nil {
			reason = err.Error()
		}
		logger.Security().AuthnFailure("csrf_rejected", logging.String("path", r.URL.Path), logging.String("reason", reason))

		writeJSON(w, logger, http.StatusForbidden, map[string]any{
			"status":  http.StatusForbidden,
			"code":    "csrf_invalid",
			"message": "missing or invalid CSRF token",
		})
	})
}

func csrfToken(logger logging.LoggerInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, logger, http.StatusOK, map[string]string{"csrfToken": csrf.Token(r)})
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time

	rps   rate.Limit
	burst int

	logger logging.LoggerInterface
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.Allow()
}

func (l *rateLimiter) Limit(next http.Handler) http.Handler {
	if l.rps <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			l.logger.Debugf("rate limit exceeded for %s", clientIP(r))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, l.logger, http.StatusTooManyRequests, map[string]any{
				"status":  http.StatusTooManyRequests,
				"code":    "rate_limited",
				"message": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRateLimiter(rps, burst int, logger logging.LoggerInterface) *rateLimiter {
	if burst < 1 {
		burst = 1
	}

	l := new(rateLimiter)

	l.buckets = make(map[string]*bucket)
	l.lastSweep = time.Now()
	l.rps = rate.Limit(rps)
	l.burst = burst
	l.logger = logger

	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, logger logging.LoggerInterface, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("failed to encode %d response: %v", status, err)
	}
}
