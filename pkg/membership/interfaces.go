// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"context"

	"github.com/canonical/membership-service/internal/types"
)

type ServiceInterface interface {
	CreateOrganization(ctx context.Context, userID, name string) (*types.Organization, error)
	Onboard(ctx context.Context, userID, organizationName string, invites []InviteRequest) (*types.Organization, []*types.Invite, error)
	UpdateOrganizationDetails(ctx context.Context, organizationID, actingUserID, name, logoURL string) (*types.Organization, error)
	ListOrganizations(ctx context.Context, userID string) ([]*types.UserOrganization, error)
	DeleteOrganization(ctx context.Context, organizationID string) error
	SetSubscription(ctx context.Context, organizationID string, subscription *types.Subscription) error

	InviteMember(ctx context.Context, organizationID, inviterID, email string, role types.Role) (*types.Invite, error)
	InviteMembers(ctx context.Context, organizationID, inviterID string, requests []InviteRequest) ([]*types.Invite, error)
	AcceptInvite(ctx context.Context, code, userID, email string) (*types.Invite, error)
	RevokeInvite(ctx context.Context, organizationID, actingUserID, code string) error
	ListInvites(ctx context.Context, organizationID, actingUserID string) ([]*types.Invite, error)

	GetMembership(ctx context.Context, organizationID, userID string) (*types.Membership, error)
	RequireRole(ctx context.Context, organizationID, userID string, minRole types.Role) (*types.Membership, error)
	ListMembers(ctx context.Context, organizationID, actingUserID string) ([]types.Membership, error)
	RemoveMember(ctx context.Context, organizationID, actingUserID, targetUserID string) error
	UpdateMemberRole(ctx context.Context, organizationID, actingUserID, targetUserID string, role types.Role) error
	TransferOwnership(ctx context.Context, organizationID, currentOwnerID, newOwnerID string) error
	LeaveOrganization(ctx context.Context, organizationID, userID string) error

	DeleteUser(ctx context.Context, userID, email string, notify bool) error
}

type StorageInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error

	CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error)
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)
	ListOrganizationsByUserID(ctx context.Context, userID string) ([]*types.UserOrganization, error)
	UpdateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	UpsertInvite(ctx context.Context, invite *types.Invite) (*types.Invite, error)
	GetInviteByCode(ctx context.Context, code string) (*types.Invite, error)
	ListInvitesByOrganizationID(ctx context.Context, organizationID string) ([]*types.Invite, error)
	DeleteInvite(ctx context.Context, code string) error
	ConsumeInvite(ctx context.Context, code string) (*types.Invite, error)
}

type IdentityInterface interface {
	GetIdentityIDByEmail(ctx context.Context, email string) (string, error)
	RevokeSessions(ctx context.Context, identityID string) error
	DeleteIdentity(ctx context.Context, identityID string) error
}

type BillingInterface interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

type NotifierInterface interface {
	NotifyInvite(ctx context.Context, invite *types.Invite, organizationName string) error
	NotifyAccountDeleted(ctx context.Context, userID, email string) error
}
