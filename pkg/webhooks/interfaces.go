// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"context"

	"github.com/stripe/stripe-go/v76"

	"github.com/canonical/membership-service/internal/types"
)

// SubscriptionsInterface is the subset of the membership engine the billing
// webhooks need.
type SubscriptionsInterface interface {
	SetSubscription(ctx context.Context, organizationID string, subscription *types.Subscription) error
}

// ServiceInterface defines the webhook service operations.
type ServiceInterface interface {
	HandleStripeEvent(ctx context.Context, event stripe.Event) error
}
