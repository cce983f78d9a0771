// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package billing

import (
	"context"
)

type CancelerInterface interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
