// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
)

var _ CancelerInterface = (*StripeCanceler)(nil)

type StripeCanceler struct {
	api *client.API

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// CancelSubscription cancels immediately and invoices pending usage.
// Subscriptions that are missing or already canceled count as canceled.
func (c *StripeCanceler) CancelSubscription(ctx context.Context, subscriptionID string) error {
	ctx, span := c.tracer.Start(ctx, "billing.StripeCanceler.CancelSubscription")
	defer span.End()

	params := &stripe.SubscriptionCancelParams{InvoiceNow: stripe.Bool(true)}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Cancel(subscriptionID, params)
	if err == nil {
		c.logger.Infof("canceled subscription %s, status %s", sub.ID, sub.Status)
		return nil
	}

	if isResourceMissing(err) {
		c.logger.Infof("subscription %s does not exist, nothing to cancel", subscriptionID)
		return nil
	}

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx

	current, getErr := c.api.Subscriptions.Get(subscriptionID, getParams)
	if getErr == nil && current.Status == stripe.SubscriptionStatusCanceled {
		c.logger.Infof("subscription %s already canceled", subscriptionID)
		return nil
	}

	c.monitor.SetDependencyAvailability(map[string]string{"component": "stripe"}, 0)
	return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func NewStripeCanceler(secretKey string, backends *stripe.Backends, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *StripeCanceler {
	c := new(StripeCanceler)

	c.api = client.New(secretKey, backends)

	c.tracer = tracer
	c.monitor = monitor
	c.logger = logger

	return c
}
