// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/canonical/membership-service/internal/db"
	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
	"github.com/google/uuid"
)

var _ StorageInterface = (*Storage)(nil)

var inviteColumns = []string{"code", "organization_id", "email", "role", "invited_by", "created_at"}

type Storage struct {
	db db.DBClientInterface

	logger  logging.LoggerInterface
	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
}

func NewStorage(c db.DBClientInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Storage {
	s := new(Storage)

	s.db = c

	s.logger = logger
	s.tracer = tracer
	s.monitor = monitor

	return s
}

func (s *Storage) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return s.db.WithTx(ctx, fn)
}

func (s *Storage) CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateOrganization")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate organization ID: %w", err)
	}

	created := org.Clone()
	created.ID = id.String()

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		err := s.db.Statement(ctx).
			Insert("organizations").
			Columns("id", "name", "logo_url").
			Values(created.ID, created.Name, created.LogoURL).
			Suffix("RETURNING version, created_at").
			QueryRowContext(ctx).
			Scan(&created.Version, &created.CreatedAt)
		if err != nil {
			return wrapPgError(err, "failed to insert organization")
		}

		return s.insertMembers(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (s *Storage) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetOrganization")
	defer span.End()

	// single statement so the member rows match the version read
	rows, err := s.db.Statement(ctx).
		Select(
			"o.id", "o.name", "o.logo_url", "o.subscription_id", "o.subscription_status", "o.subscription_updated_at", "o.version", "o.created_at",
			"m.user_id", "m.role", "m.joined_at",
		).
		From("organizations o").
		LeftJoin("memberships m ON m.organization_id = o.id").
		Where(sq.Eq{"o.id": id}).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	defer rows.Close()

	var org *types.Organization
	for rows.Next() {
		var (
			o                types.Organization
			subID, subStatus sql.NullString
			subUpdatedAt     sql.NullTime
			userID, role     sql.NullString
			joinedAt         sql.NullTime
		)

		if err := rows.Scan(
			&o.ID, &o.Name, &o.LogoURL, &subID, &subStatus, &subUpdatedAt, &o.Version, &o.CreatedAt,
			&userID, &role, &joinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}

		if org == nil {
			org = &o
			org.Members = make(map[string]types.Membership)
			if subID.Valid && subID.String != "" {
				org.Subscription = &types.Subscription{ID: subID.String, Status: subStatus.String, UpdatedAt: subUpdatedAt.Time}
			}
		}

		if userID.Valid {
			org.Members[userID.String] = types.Membership{
				UserID:   userID.String,
				Role:     types.Role(role.String),
				JoinedAt: joinedAt.Time,
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if org == nil {
		return nil, ErrNotFound
	}

	return org, nil
}

func (s *Storage) ListOrganizationsByUserID(ctx context.Context, userID string) ([]*types.UserOrganization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListOrganizationsByUserID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("o.id", "o.name", "m.role").
		From("organizations o").
		Join("memberships m ON o.id = m.organization_id").
		Where(sq.Eq{"m.user_id": userID}).
		OrderBy("o.created_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]*types.UserOrganization, 0)
	for rows.Next() {
		var o types.UserOrganization
		if err := rows.Scan(&o.ID, &o.Name, &o.Role); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return orgs, nil
}

func (s *Storage) UpdateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateOrganization")
	defer span.End()

	updated := org.Clone()

	var subID, subStatus, subUpdatedAt interface{}
	if org.Subscription != nil {
		subID, subStatus = org.Subscription.ID, org.Subscription.Status
		if !org.Subscription.UpdatedAt.IsZero() {
			subUpdatedAt = org.Subscription.UpdatedAt
		}
	}

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		err := s.db.Statement(ctx).
			Update("organizations").
			Set("name", org.Name).
			Set("logo_url", org.LogoURL).
			Set("subscription_id", subID).
			Set("subscription_status", subStatus).
			Set("subscription_updated_at", subUpdatedAt).
			Set("version", sq.Expr("version + 1")).
			Where(sq.Eq{"id": org.ID, "version": org.Version}).
			Suffix("RETURNING version").
			QueryRowContext(ctx).
			Scan(&updated.Version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to update organization: %w", err)
		}

		if _, err := s.db.Statement(ctx).
			Delete("memberships").
			Where(sq.Eq{"organization_id": org.ID}).
			ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to clear memberships: %w", err)
		}

		return s.insertMembers(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *Storage) insertMembers(ctx context.Context, org *types.Organization) error {
	if len(org.Members) == 0 {
		return nil
	}

	q := s.db.Statement(ctx).
		Insert("memberships").
		Columns("organization_id", "user_id", "role", "joined_at")

	for _, id := range slices.Sorted(maps.Keys(org.Members)) {
		m := org.Members[id]
		q = q.Values(org.ID, id, string(m.Role), m.JoinedAt)
	}

	if _, err := q.ExecContext(ctx); err != nil {
		return wrapPgError(err, "failed to insert memberships")
	}

	return nil
}

// DeleteOrganization removes the organization, memberships and invites cascade.
// Deleting a missing organization is not an error.
func (s *Storage) DeleteOrganization(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteOrganization")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Delete("organizations").
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)

	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return nil
}

// UpsertInvite keeps one invite per organization and email, a repeated invite
// refreshes role, inviter and creation time but keeps its code.
func (s *Storage) UpsertInvite(ctx context.Context, invite *types.Invite) (*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "storage.UpsertInvite")
	defer span.End()

	code := invite.Code
	if code == "" {
		code = uuid.NewString()
	}

	var i types.Invite
	err := s.db.Statement(ctx).
		Insert("invites").
		Columns("code", "organization_id", "email", "role", "invited_by").
		Values(code, invite.OrganizationID, strings.ToLower(invite.Email), string(invite.Role), invite.InvitedBy).
		Suffix(
			"ON CONFLICT (organization_id, email) DO UPDATE SET " +
				"role = EXCLUDED.role, invited_by = EXCLUDED.invited_by, created_at = now() " +
				"RETURNING " + strings.Join(inviteColumns, ", "),
		).
		QueryRowContext(ctx).
		Scan(&i.Code, &i.OrganizationID, &i.Email, &i.Role, &i.InvitedBy, &i.CreatedAt)

	if err != nil {
		return nil, wrapPgError(err, "failed to upsert invite")
	}

	return &i, nil
}

func (s *Storage) GetInviteByCode(ctx context.Context, code string) (*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetInviteByCode")
	defer span.End()

	var i types.Invite
	err := s.db.Statement(ctx).
		Select(inviteColumns...).
		From("invites").
		Where(sq.Eq{"code": code}).
		QueryRowContext(ctx).
		Scan(&i.Code, &i.OrganizationID, &i.Email, &i.Role, &i.InvitedBy, &i.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}

	return &i, nil
}

func (s *Storage) ListInvitesByOrganizationID(ctx context.Context, organizationID string) ([]*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListInvitesByOrganizationID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(inviteColumns...).
		From("invites").
		Where(sq.Eq{"organization_id": organizationID}).
		OrderBy("created_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]*types.Invite, 0)
	for rows.Next() {
		var i types.Invite
		if err := rows.Scan(&i.Code, &i.OrganizationID, &i.Email, &i.Role, &i.InvitedBy, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, &i)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return invites, nil
}

func (s *Storage) DeleteInvite(ctx context.Context, code string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteInvite")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Delete("invites").
		Where(sq.Eq{"code": code}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete invite: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// ConsumeInvite deletes the invite in one statement, so two accepts of the
// same code cannot both observe it.
func (s *Storage) ConsumeInvite(ctx context.Context, code string) (*types.Invite, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ConsumeInvite")
	defer span.End()

	var i types.Invite
	err := s.db.Statement(ctx).
		Delete("invites").
		Where(sq.Eq{"code": code}).
		Suffix("RETURNING "+strings.Join(inviteColumns, ", ")).
		QueryRowContext(ctx).
		Scan(&i.Code, &i.OrganizationID, &i.Email, &i.Role, &i.InvitedBy, &i.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume invite: %w", err)
	}

	return &i, nil
}
