// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package billing

import (
	"context"

	"github.com/canonical/membership-service/internal/logging"
)

type NoopCanceler struct {
	logger logging.LoggerInterface
}

func (c *NoopCanceler) CancelSubscription(_ context.Context, subscriptionID string) error {
	c.logger.Warnf("billing is not configured, subscription %s left untouched", subscriptionID)
	return nil
}

func NewNoopCanceler(logger logging.LoggerInterface) *NoopCanceler {
	return &NoopCanceler{logger: logger}
}
