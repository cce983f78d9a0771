// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package kratos

import (
	"context"
	"errors"

	"github.com/canonical/membership-service/internal/types"
)

// ErrNoSession is returned when the request carries no valid session.
var ErrNoSession = errors.New("no active session")

type ClientInterface interface {
	GetIdentityIDByEmail(ctx context.Context, email string) (string, error)
	DeleteIdentity(ctx context.Context, identityID string) error
	RevokeSessions(ctx context.Context, identityID string) error
	Whoami(ctx context.Context, cookie string) (*types.Principal, error)
}
