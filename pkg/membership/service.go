// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/storage"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
)

const (
	DefaultOptimisticRetries = 5

	counterConflictRetries      = "membership_conflict_retries_total"
	counterInviteCleanupFailure = "invite_cleanup_failures_total"
	counterNotificationsDropped = "notifications_dropped_total"
)

var _ ServiceInterface = (*Service)(nil)

// InviteRequest is one row of an invite batch, rows are checked by validateBatch.
type InviteRequest struct {
	Email string     `json:"email"`
	Role  types.Role `json:"role"`
}

// inviteRow is a normalized InviteRequest with the identity its email resolves to.
type inviteRow struct {
	InviteRequest

	field      string
	identityID string
}

type Service struct {
	storage  StorageInterface
	identity IdentityInterface
	billing  BillingInterface
	notifier NotifierInterface

	retries  int
	validate *validator.Validate
	now      func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (s *Service) CreateOrganization(ctx context.Context, userID, name string) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.CreateOrganization")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newValidationError("name", "required", "organization name is required")
	}

	return s.createOrganization(ctx, userID, name)
}

func (s *Service) createOrganization(ctx context.Context, userID, name string) (*types.Organization, error) {
	now := s.now()
	org := &types.Organization{
		Name: name,
		Members: map[string]types.Membership{
			userID: {UserID: userID, Role: types.RoleOwner, JoinedAt: now},
		},
		CreatedAt: now,
	}

	created, err := s.storage.CreateOrganization(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	s.logger.Infow("organization created", "organization_id", created.ID, "owner_id", userID)
	return created, nil
}

// Onboard creates the first organization of a user and invites its initial
// members. Invite rows are validated before anything is persisted.
func (s *Service) Onboard(ctx context.Context, userID, organizationName string, invites []InviteRequest) (*types.Organization, []*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.Onboard")
	defer span.End()

	verr := new(ValidationError)

	organizationName = strings.TrimSpace(organizationName)
	if organizationName == "" {
		verr.Add("organization", "required", "organization name is required")
	}

	for i, r := range invites {
		if role, err := types.ParseRole(r.Role.String()); err == nil && !canGrant(types.RoleOwner, role) {
			verr.Add(fmt.Sprintf("invites[%d].role", i), "invalid_role", "ownership can only be transferred")
		}
	}

	owner := &types.Organization{Members: map[string]types.Membership{userID: {UserID: userID, Role: types.RoleOwner}}}

	rows, err := s.validateBatch(ctx, owner, invites)
	if err != nil {
		var rowErrs *ValidationError
		if !errors.As(err, &rowErrs) {
			return nil, nil, err
		}
		verr.Errors = append(verr.Errors, rowErrs.Errors...)
	}

	if verr.HasErrors() {
		return nil, nil, verr
	}

	var (
		org     *types.Organization
		created []*types.Invite
	)

	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if org, err = s.createOrganization(ctx, userID, organizationName); err != nil {
			return err
		}
		created, err = s.upsertInvites(ctx, org.ID, userID, rows)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifyInvites(ctx, created, org.Name)

	return org, created, nil
}

func (s *Service) UpdateOrganizationDetails(ctx context.Context, organizationID, actingUserID, name, logoURL string) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.UpdateOrganizationDetails")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newValidationError("name", "required", "organization name is required")
	}

	return s.mutate(ctx, "update_details", organizationID, func(org *types.Organization) error {
		role, ok := memberRole(org, actingUserID)
		if !ok {
			return ErrNotFound
		}
		if !role.AtLeast(types.RoleAdmin) {
			return ErrForbidden
		}

		org.Name = name
		org.LogoURL = strings.TrimSpace(logoURL)
		return nil
	})
}

func (s *Service) ListOrganizations(ctx context.Context, userID string) ([]*types.UserOrganization, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.ListOrganizations")
	defer span.End()

	orgs, err := s.storage.ListOrganizationsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}

	return orgs, nil
}

// DeleteOrganization cancels billing first and only then removes data. A
// billing failure leaves the organization and its invites untouched. Invite
// cleanup is best effort, leftovers are removed by the foreign key cascade.
func (s *Service) DeleteOrganization(ctx context.Context, organizationID string) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.DeleteOrganization")
	defer span.End()

	org, err := s.getOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	s.logger.Infow("deleting organization", "organization_id", organizationID, "step", "load")

	if org.Subscription != nil && org.Subscription.ID != "" {
		if err := s.billing.CancelSubscription(ctx, org.Subscription.ID); err != nil {
			s.logger.Errorw("subscription cancellation failed, organization kept",
				"organization_id", organizationID,
				"subscription_id", org.Subscription.ID,
				"error", err,
			)
			return &UpstreamBillingError{SubscriptionID: org.Subscription.ID, Err: err}
		}
		s.logger.Infow("deleting organization", "organization_id", organizationID, "step", "cancel_subscription", "subscription_id", org.Subscription.ID)
	}

	invites, err := s.storage.ListInvitesByOrganizationID(ctx, organizationID)
	if err != nil {
		s.logger.Errorw("failed to list invites for cleanup", "organization_id", organizationID, "error", err)
		s.monitor.IncCounter(counterInviteCleanupFailure, map[string]string{})
	}

	failed := 0
	for _, invite := range invites {
		if err := s.storage.DeleteInvite(ctx, invite.Code); err != nil && !errors.Is(err, storage.ErrNotFound) {
			failed++
			s.logger.Errorw("failed to delete invite", "organization_id", organizationID, "code", invite.Code, "error", err)
			s.monitor.IncCounter(counterInviteCleanupFailure, map[string]string{})
		}
	}
	s.logger.Infow("deleting organization", "organization_id", organizationID, "step", "delete_invites", "total", len(invites), "failed", failed)

	if err := s.storage.DeleteOrganization(ctx, organizationID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete organization %s: %w", organizationID, err)
	}
	s.logger.Infow("deleting organization", "organization_id", organizationID, "step", "delete_record")

	return nil
}

// SetSubscription records the billing state of an organization. Updates for
// the stored subscription that are older than the stored one, or that move
// it out of canceled, are dropped since billing events arrive out of order.
func (s *Service) SetSubscription(ctx context.Context, organizationID string, subscription *types.Subscription) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.SetSubscription")
	defer span.End()

	_, err := s.mutate(ctx, "set_subscription", organizationID, func(org *types.Organization) error {
		if subscription == nil {
			org.Subscription = nil
			return nil
		}
		if staleSubscription(org.Subscription, subscription) {
			return errStaleSubscription
		}
		sub := *subscription
		org.Subscription = &sub
		return nil
	})

	if errors.Is(err, errStaleSubscription) {
		s.logger.Infow("stale subscription update ignored",
			"organization_id", organizationID,
			"subscription_id", subscription.ID,
			"status", subscription.Status,
		)
		return nil
	}

	return err
}

func staleSubscription(current, next *types.Subscription) bool {
	if current == nil || current.ID != next.ID {
		return false
	}
	if current.Status == types.SubscriptionStatusCanceled && next.Status != types.SubscriptionStatusCanceled {
		return true
	}
	return !next.UpdatedAt.IsZero() && next.UpdatedAt.Before(current.UpdatedAt)
}

func (s *Service) InviteMember(ctx context.Context, organizationID, inviterID, email string, role types.Role) (*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.InviteMember")
	defer span.End()

	invites, err := s.InviteMembers(ctx, organizationID, inviterID, []InviteRequest{{Email: email, Role: role}})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Errors {
				if f.Code == "already_member" {
					return nil, ErrAlreadyMember
				}
			}
		}
		return nil, err
	}

	return invites[0], nil
}

// InviteMembers validates every row before persisting any of them. Rows the
// inviter may not grant fail the whole batch with ErrForbidden.
func (s *Service) InviteMembers(ctx context.Context, organizationID, inviterID string, requests []InviteRequest) ([]*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.InviteMembers")
	defer span.End()

	if len(requests) == 0 {
		return nil, newValidationError("invites", "required", "at least one invite is required")
	}

	org, err := s.getOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	actor, ok := memberRole(org, inviterID)
	if !ok {
		return nil, ErrNotFound
	}

	rows, err := s.validateBatch(ctx, org, requests)
	if err != nil {
		return nil, err
	}

	if err := s.checkGrants(org, actor, inviterID, rows); err != nil {
		return nil, err
	}

	// the inviter's role is checked again on the committed organization, the
	// version bump makes a concurrent removal or demotion conflict with the invites
	var invites []*types.Invite
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.mutate(ctx, "invite", organizationID, func(fresh *types.Organization) error {
			return s.authorizeInvites(fresh, inviterID, rows)
		})
		if err != nil {
			return err
		}
		org = current

		invites, err = s.upsertInvites(ctx, organizationID, inviterID, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyInvites(ctx, invites, org.Name)

	return invites, nil
}

// authorizeInvites checks that inviterID may grant every row of the batch
// and that no row targets a current member of org.
func (s *Service) authorizeInvites(org *types.Organization, inviterID string, rows []inviteRow) error {
	actor, ok := memberRole(org, inviterID)
	if !ok {
		return ErrNotFound
	}

	if err := s.checkGrants(org, actor, inviterID, rows); err != nil {
		return err
	}

	verr := new(ValidationError)
	for _, r := range rows {
		if _, member := org.Members[r.identityID]; r.identityID != "" && member {
			verr.Add(r.field+".email", "already_member", "user is already a member of this organization")
		}
	}
	if verr.HasErrors() {
		return verr
	}

	return nil
}

func (s *Service) checkGrants(org *types.Organization, actor types.Role, inviterID string, rows []inviteRow) error {
	for _, r := range rows {
		if !canGrant(actor, r.Role) {
			s.logger.Security().AuthzFailure(inviterID, "organization:"+org.ID,
				logging.String("action", "invite"),
				logging.String("role", r.Role.String()),
			)
			return ErrForbidden
		}
	}
	return nil
}

// validateBatch normalizes emails and roles and reports per row problems.
func (s *Service) validateBatch(ctx context.Context, org *types.Organization, requests []InviteRequest) ([]inviteRow, error) {
	verr := new(ValidationError)
	rows := make([]inviteRow, 0, len(requests))
	seen := make(map[string]int, len(requests))

	for i, r := range requests {
		field := fmt.Sprintf("invites[%d]", i)
		email := strings.ToLower(strings.TrimSpace(r.Email))

		if err := s.validate.Var(email, "required,email"); err != nil {
			verr.Add(field+".email", "invalid_email", "a valid email address is required")
			continue
		}

		role, err := types.ParseRole(r.Role.String())
		if err != nil {
			verr.Add(field+".role", "invalid_role", "role must be one of member, admin")
			continue
		}

		if first, ok := seen[email]; ok {
			verr.Add(field+".email", "duplicate_email", fmt.Sprintf("email already listed in invites[%d]", first))
			continue
		}
		seen[email] = i

		identityID, err := s.identity.GetIdentityIDByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up identity: %w", err)
		}
		if _, member := org.Members[identityID]; identityID != "" && member {
			verr.Add(field+".email", "already_member", "user is already a member of this organization")
			continue
		}

		rows = append(rows, inviteRow{
			InviteRequest: InviteRequest{Email: email, Role: role},
			field:         field,
			identityID:    identityID,
		})
	}

	if verr.HasErrors() {
		return nil, verr
	}

	return rows, nil
}

func (s *Service) upsertInvites(ctx context.Context, organizationID, inviterID string, rows []inviteRow) ([]*types.Invite, error) {
	invites := make([]*types.Invite, 0, len(rows))

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		invites = invites[:0]
		for _, r := range rows {
			invite, err := s.storage.UpsertInvite(ctx, &types.Invite{
				Code:           uuid.NewString(),
				OrganizationID: organizationID,
				Email:          r.Email,
				Role:           r.Role,
				InvitedBy:      inviterID,
			})
			if err != nil {
				if errors.Is(err, storage.ErrForeignKeyViolation) {
					return ErrNotFound
				}
				return fmt.Errorf("failed to store invite: %w", err)
			}
			invites = append(invites, invite)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return invites, nil
}

// notifyInvites hands invites to the notifier, failures are logged and never
// undo the stored invite.
func (s *Service) notifyInvites(ctx context.Context, invites []*types.Invite, organizationName string) {
	for _, invite := range invites {
		if err := s.notifier.NotifyInvite(ctx, invite, organizationName); err != nil {
			s.logger.Warnw("invite notification dropped", "organization_id", invite.OrganizationID, "code", invite.Code, "error", err)
			s.monitor.IncCounter(counterNotificationsDropped, map[string]string{"kind": "invite"})
		}
	}
}

// AcceptInvite consumes the invite and adds the membership in one
// transaction. The role comes from the row consumed inside the transaction,
// so a revoked or already accepted invite fails with ErrNotFound. A user who
// is already a member only consumes the invite.
func (s *Service) AcceptInvite(ctx context.Context, code, userID, email string) (*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.AcceptInvite")
	defer span.End()

	invite, err := s.storage.GetInviteByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load invite: %w", err)
	}

	if !strings.EqualFold(strings.TrimSpace(email), invite.Email) {
		s.logger.Security().AuthzFailure(userID, "invite:"+invite.OrganizationID, logging.String("reason", "email_mismatch"))
		return nil, ErrEmailMismatch
	}

	var consumed *types.Invite
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		var err error
		consumed, err = s.storage.ConsumeInvite(ctx, code)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to consume invite: %w", err)
		}

		// upserts keep the email of a code, a mismatch means the row was replaced
		if !strings.EqualFold(consumed.Email, invite.Email) {
			return ErrNotFound
		}

		_, err = s.mutate(ctx, "accept_invite", consumed.OrganizationID, func(org *types.Organization) error {
			if _, ok := org.Members[userID]; ok {
				return nil
			}
			org.Members[userID] = types.Membership{UserID: userID, Role: consumed.Role, JoinedAt: s.now()}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("invite accepted", "organization_id", consumed.OrganizationID, "user_id", userID, "role", consumed.Role)
	return consumed, nil
}

func (s *Service) RevokeInvite(ctx context.Context, organizationID, actingUserID, code string) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.RevokeInvite")
	defer span.End()

	actor, err := s.RequireRole(ctx, organizationID, actingUserID, types.RoleAdmin)
	if err != nil {
		return err
	}

	invite, err := s.storage.GetInviteByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load invite: %w", err)
	}
	if invite.OrganizationID != organizationID {
		return ErrNotFound
	}

	if !canGrant(actor.Role, invite.Role) {
		return ErrForbidden
	}

	if err := s.storage.DeleteInvite(ctx, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete invite: %w", err)
	}

	return nil
}

func (s *Service) ListInvites(ctx context.Context, organizationID, actingUserID string) ([]*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.ListInvites")
	defer span.End()

	if _, err := s.GetMembership(ctx, organizationID, actingUserID); err != nil {
		return nil, err
	}

	invites, err := s.storage.ListInvitesByOrganizationID(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}

	return invites, nil
}

// GetMembership returns ErrNotFound both for unknown organizations and for
// non members, so callers cannot probe organization existence.
func (s *Service) GetMembership(ctx context.Context, organizationID, userID string) (*types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.GetMembership")
	defer span.End()

	org, err := s.getOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	m, ok := org.Members[userID]
	if !ok {
		return nil, ErrNotFound
	}

	return &m, nil
}

func (s *Service) RequireRole(ctx context.Context, organizationID, userID string, minRole types.Role) (*types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.RequireRole")
	defer span.End()

	m, err := s.GetMembership(ctx, organizationID, userID)
	if err != nil {
		return nil, err
	}

	if !m.Role.AtLeast(minRole) {
		s.logger.Security().AuthzFailure(userID, "organization:"+organizationID, logging.String("required_role", minRole.String()))
		return nil, ErrForbidden
	}

	return m, nil
}

func (s *Service) ListMembers(ctx context.Context, organizationID, actingUserID string) ([]types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Service.ListMembers")
	defer span.End()

	org, err := s.getOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	if _, ok := org.Members[actingUserID]; !ok {
		return nil, ErrNotFound
	}

	members := make([]types.Membership, 0, len(org.Members))
	for _, m := range org.Members {
		members = append(members, m)
	}

	slices.SortFunc(members, func(a, b types.Membership) int {
		if n := b.Role.Rank() - a.Role.Rank(); n != 0 {
			return n
		}
		if n := a.JoinedAt.Compare(b.JoinedAt); n != 0 {
			return n
		}
		return strings.Compare(a.UserID, b.UserID)
	})

	return members, nil
}

// RemoveMember refuses self removal, members leave through LeaveOrganization.
func (s *Service) RemoveMember(ctx context.Context, organizationID, actingUserID, targetUserID string) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.RemoveMember")
	defer span.End()

	_, err := s.mutate(ctx, "remove_member", organizationID, func(org *types.Organization) error {
		actor, ok := memberRole(org, actingUserID)
		if !ok {
			return ErrNotFound
		}
		if !actor.AtLeast(types.RoleAdmin) || actingUserID == targetUserID {
			return ErrForbidden
		}

		target, ok := memberRole(org, targetUserID)
		if !ok {
			return ErrNotFound
		}
		if !canManage(actor, target) {
			return ErrForbidden
		}

		delete(org.Members, targetUserID)
		return nil
	})

	return err
}

func (s *Service) UpdateMemberRole(ctx context.Context, organizationID, actingUserID, targetUserID string, role types.Role) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.UpdateMemberRole")
	defer span.End()

	if !role.IsValid() {
		return newValidationError("role", "invalid_role", "role must be one of member, admin")
	}

	_, err := s.mutate(ctx, "update_role", organizationID, func(org *types.Organization) error {
		actor, ok := memberRole(org, actingUserID)
		if !ok {
			return ErrNotFound
		}

		target, ok := memberRole(org, targetUserID)
		if !ok {
			return ErrNotFound
		}

		if !canManage(actor, target) || !canGrant(actor, role) {
			return ErrForbidden
		}

		m := org.Members[targetUserID]
		m.Role = role
		org.Members[targetUserID] = m
		return nil
	})

	return err
}

// TransferOwnership promotes newOwnerID and demotes the current owner to
// admin in a single commit.
func (s *Service) TransferOwnership(ctx context.Context, organizationID, currentOwnerID, newOwnerID string) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.TransferOwnership")
	defer span.End()

	_, err := s.mutate(ctx, "transfer_ownership", organizationID, func(org *types.Organization) error {
		current, ok := memberRole(org, currentOwnerID)
		if !ok {
			return ErrNotFound
		}
		if current != types.RoleOwner || currentOwnerID == newOwnerID {
			return ErrForbidden
		}

		next, ok := org.Members[newOwnerID]
		if !ok {
			return ErrNotFound
		}

		prev := org.Members[currentOwnerID]
		prev.Role = types.RoleAdmin
		next.Role = types.RoleOwner

		org.Members[currentOwnerID] = prev
		org.Members[newOwnerID] = next
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infow("ownership transferred", "organization_id", organizationID, "from", currentOwnerID, "to", newOwnerID)
	return nil
}

func (s *Service) LeaveOrganization(ctx context.Context, organizationID, userID string) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.LeaveOrganization")
	defer span.End()

	_, err := s.mutate(ctx, "leave", organizationID, func(org *types.Organization) error {
		role, ok := memberRole(org, userID)
		if !ok {
			return ErrNotFound
		}
		if role == types.RoleOwner {
			return ErrForbidden
		}

		delete(org.Members, userID)
		return nil
	})

	return err
}

// DeleteUser removes every organization the user owns before touching the
// identity. The first failing organization aborts the run, organizations
// deleted earlier stay deleted.
func (s *Service) DeleteUser(ctx context.Context, userID, email string, notify bool) error {
	ctx, span := s.tracer.Start(ctx, "membership.Service.DeleteUser")
	defer span.End()

	orgs, err := s.storage.ListOrganizationsByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list organizations of user %s: %w", userID, err)
	}

	for _, org := range orgs {
		if org.Role != types.RoleOwner {
			continue
		}
		if err := s.DeleteOrganization(ctx, org.ID); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Errorw("user deletion aborted", "user_id", userID, "organization_id", org.ID, "error", err)
			return err
		}
	}

	for _, org := range orgs {
		if org.Role == types.RoleOwner {
			continue
		}
		if err := s.LeaveOrganization(ctx, org.ID, userID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to remove user %s from organization %s: %w", userID, org.ID, err)
		}
	}

	if err := s.identity.RevokeSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	if err := s.identity.DeleteIdentity(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	s.logger.Infow("user deleted", "user_id", userID, "owned_organizations", countOwned(orgs))

	if notify && email != "" {
		if err := s.notifier.NotifyAccountDeleted(ctx, userID, email); err != nil {
			s.logger.Warnw("account deletion notification dropped", "user_id", userID, "error", err)
			s.monitor.IncCounter(counterNotificationsDropped, map[string]string{"kind": "account_deleted"})
		}
	}

	return nil
}

func countOwned(orgs []*types.UserOrganization) int {
	n := 0
	for _, o := range orgs {
		if o.Role == types.RoleOwner {
			n++
		}
	}
	return n
}

func (s *Service) getOrganization(ctx context.Context, organizationID string) (*types.Organization, error) {
	org, err := s.storage.GetOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load organization %s: %w", organizationID, err)
	}

	return org, nil
}

// mutate runs a read-modify-write cycle on one organization. The rule sees a
// fresh copy on every attempt and the commit only lands if nobody else wrote
// in between. Conflicts are retried up to s.retries times.
func (s *Service) mutate(ctx context.Context, op, organizationID string, rule func(*types.Organization) error) (*types.Organization, error) {
	for attempt := 0; attempt <= s.retries; attempt++ {
		org, err := s.getOrganization(ctx, organizationID)
		if err != nil {
			return nil, err
		}

		next := org.Clone()
		if err := rule(next); err != nil {
			return nil, err
		}

		if next.CountRole(types.RoleOwner) != 1 {
			return nil, fmt.Errorf("%w: organization must keep exactly one owner", ErrForbidden)
		}

		updated, err := s.storage.UpdateOrganization(ctx, next)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update organization %s: %w", organizationID, err)
		}

		s.logger.Debugw("organization changed during update, retrying", "organization_id", organizationID, "operation", op, "attempt", attempt+1)
		s.monitor.IncCounter(counterConflictRetries, map[string]string{"operation": op})
	}

	return nil, fmt.Errorf("%w: %s on %s", ErrConflict, op, organizationID)
}

func NewService(
	storage StorageInterface,
	identity IdentityInterface,
	billing BillingInterface,
	notifier NotifierInterface,
	retries int,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.storage = storage
	s.identity = identity
	s.billing = billing
	s.notifier = notifier

	s.retries = retries
	if s.retries < 0 {
		s.retries = DefaultOptimisticRetries
	}
	s.validate = validator.New(validator.WithRequiredStructEnabled())
	s.now = func() time.Time { return time.Now().UTC() }

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
