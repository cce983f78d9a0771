// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
	"github.com/canonical/membership-service/pkg/membership"
)

var _ ServiceInterface = (*Service)(nil)

type Service struct {
	subscriptions SubscriptionsInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewService(
	subscriptions SubscriptionsInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	return &Service{
		subscriptions: subscriptions,
		tracer:        tracer,
		monitor:       monitor,
		logger:        logger,
	}
}

// HandleStripeEvent records the subscription carried by a verified event on
// its organization. Events for other types, or without an organization, are
// acknowledged and ignored.
func (s *Service) HandleStripeEvent(ctx context.Context, event stripe.Event) error {
	ctx, span := s.tracer.Start(ctx, "webhooks.Service.HandleStripeEvent")
	defer span.End()

	var (
		organizationID string
		subscription   *types.Subscription
	)

	switch string(event.Type) {
	case EventCheckoutCompleted:
		session := new(stripe.CheckoutSession)
		if err := json.Unmarshal(event.Data.Raw, session); err != nil {
			return fmt.Errorf("failed to decode checkout session: %w", err)
		}
		if session.Subscription == nil || session.Subscription.ID == "" {
			s.logger.Debugf("checkout session %s has no subscription, skipping", session.ID)
			return nil
		}
		organizationID = session.ClientReferenceID
		subscription = &types.Subscription{ID: session.Subscription.ID, Status: string(stripe.SubscriptionStatusActive)}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		sub := new(stripe.Subscription)
		if err := json.Unmarshal(event.Data.Raw, sub); err != nil {
			return fmt.Errorf("failed to decode subscription: %w", err)
		}
		organizationID = sub.Metadata[OrganizationIDMetadataKey]
		subscription = &types.Subscription{ID: sub.ID, Status: string(sub.Status)}
		if string(event.Type) == EventSubscriptionDeleted {
			subscription.Status = types.SubscriptionStatusCanceled
		}
	default:
		s.logger.Debugf("ignoring stripe event %s of type %s", event.ID, event.Type)
		return nil
	}

	if event.Created > 0 {
		subscription.UpdatedAt = time.Unix(event.Created, 0).UTC()
	}

	if organizationID == "" {
		s.logger.Warnw("stripe event without organization reference", "event_id", event.ID, "type", string(event.Type))
		return nil
	}

	err := s.subscriptions.SetSubscription(ctx, organizationID, subscription)
	if errors.Is(err, membership.ErrNotFound) {
		s.logger.Infow("subscription event for unknown organization", "event_id", event.ID, "organization_id", organizationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record subscription %s: %w", subscription.ID, err)
	}

	s.logger.Infow("subscription recorded",
		"event_id", event.ID,
		"organization_id", organizationID,
		"subscription_id", subscription.ID,
		"status", subscription.Status,
	)
	return nil
}
