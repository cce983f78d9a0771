// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/canonical/membership-service/internal/logging"
)

// Stripe caps webhook payloads well below this.
const maxPayloadBytes = 65536

type API struct {
	service ServiceInterface
	secret  string
	logger  logging.LoggerInterface
}

func NewAPI(service ServiceInterface, secret string, logger logging.LoggerInterface) *API {
	return &API{
		service: service,
		secret:  secret,
		logger:  logger,
	}
}

func (a *API) RegisterEndpoints(mux chi.Router) {
	mux.Post("/webhooks/stripe", a.stripeEvent)
}

func (a *API) stripeEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		r.Header.Get("Stripe-Signature"),
		a.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		a.logger.Security().AuthnFailure("invalid_webhook_signature", logging.String("path", r.URL.Path))
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	if err := a.service.HandleStripeEvent(r.Context(), event); err != nil {
		a.logger.Errorf("failed to handle stripe event %s: %v", event.ID, err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
