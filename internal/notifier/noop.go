// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package notifier

import (
	"context"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/types"
)

var _ NotifierInterface = (*NoopNotifier)(nil)

type NoopNotifier struct {
	logger logging.LoggerInterface
}

func (n *NoopNotifier) NotifyInvite(_ context.Context, invite *types.Invite, _ string) error {
	n.logger.Debugf("notifications disabled, invite %s for %s not delivered", invite.Code, invite.Email)
	return nil
}

func (n *NoopNotifier) NotifyAccountDeleted(_ context.Context, userID, _ string) error {
	n.logger.Debugf("notifications disabled, account deletion of %s not delivered", userID)
	return nil
}

func NewNoopNotifier(logger logging.LoggerInterface) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}
