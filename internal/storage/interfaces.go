// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"

	"github.com/canonical/membership-service/internal/types"
)

type StorageInterface interface {
	// WithTx runs fn atomically, nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(context.Context) error) error

	CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error)
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)
	ListOrganizationsByUserID(ctx context.Context, userID string) ([]*types.UserOrganization, error)
	// UpdateOrganization commits org only if its Version is still current.
	UpdateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	UpsertInvite(ctx context.Context, invite *types.Invite) (*types.Invite, error)
	GetInviteByCode(ctx context.Context, code string) (*types.Invite, error)
	ListInvitesByOrganizationID(ctx context.Context, organizationID string) ([]*types.Invite, error)
	DeleteInvite(ctx context.Context, code string) error
	// ConsumeInvite deletes the invite and returns the row it removed.
	ConsumeInvite(ctx context.Context, code string) (*types.Invite, error)
}
