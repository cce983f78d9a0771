// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package notifier

import (
	"context"

	"github.com/canonical/membership-service/internal/types"
)

type NotifierInterface interface {
	NotifyInvite(ctx context.Context, invite *types.Invite, organizationName string) error
	NotifyAccountDeleted(ctx context.Context, userID, email string) error
}
