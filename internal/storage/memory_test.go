// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
)

func newMemoryStorage() *MemoryStorage {
	logger := logging.NewNoopLogger()
	return NewMemoryStorage(tracing.NewNoopTracer(), monitoring.NewNoopMonitor("test", logger), logger)
}

func seedOrganization(t *testing.T, s *MemoryStorage) *types.Organization {
	t.Helper()

	org, err := s.CreateOrganization(context.Background(), &types.Organization{
		Name:    "Acme",
		Members: map[string]types.Membership{"u1": {UserID: "u1", Role: types.RoleOwner}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return org
}

func TestMemoryStorage_UpdateOrganizationVersion(t *testing.T) {
	s := newMemoryStorage()
	ctx := context.Background()
	org := seedOrganization(t, s)

	first := org.Clone()
	first.Name = "First"
	updated, err := s.UpdateOrganization(ctx, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Version != org.Version+1 {
		t.Errorf("expected version %d, got %d", org.Version+1, updated.Version)
	}

	stale := org.Clone()
	stale.Name = "Stale"
	if _, err := s.UpdateOrganization(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	current, _ := s.GetOrganization(ctx, org.ID)
	if current.Name != "First" {
		t.Errorf("expected stale write to be rejected, got name %q", current.Name)
	}
}

func TestMemoryStorage_WithTxRollback(t *testing.T) {
	s := newMemoryStorage()
	ctx := context.Background()
	org := seedOrganization(t, s)

	invite, err := s.UpsertInvite(ctx, &types.Invite{OrganizationID: org.ID, Email: "bob@x.com", Role: types.RoleMember})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failure := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context) error {
		next := org.Clone()
		next.Members["u2"] = types.Membership{UserID: "u2", Role: types.RoleMember}
		if _, err := s.UpdateOrganization(ctx, next); err != nil {
			return err
		}
		if err := s.DeleteInvite(ctx, invite.Code); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected %v, got %v", failure, err)
	}

	current, _ := s.GetOrganization(ctx, org.ID)
	if _, ok := current.Members["u2"]; ok {
		t.Error("expected membership change to be rolled back")
	}
	if _, err := s.GetInviteByCode(ctx, invite.Code); err != nil {
		t.Errorf("expected invite to survive rollback, got %v", err)
	}
}

func TestMemoryStorage_UpsertInviteKeepsCode(t *testing.T) {
	s := newMemoryStorage()
	ctx := context.Background()
	org := seedOrganization(t, s)

	first, err := s.UpsertInvite(ctx, &types.Invite{OrganizationID: org.ID, Email: "Bob@x.com", Role: types.RoleMember})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.UpsertInvite(ctx, &types.Invite{OrganizationID: org.ID, Email: "bob@X.com", Role: types.RoleAdmin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Code != second.Code {
		t.Errorf("expected the same code, got %q and %q", first.Code, second.Code)
	}

	invites, _ := s.ListInvitesByOrganizationID(ctx, org.ID)
	if len(invites) != 1 || invites[0].Role != types.RoleAdmin {
		t.Errorf("expected a single admin invite, got %+v", invites)
	}

	if _, err := s.UpsertInvite(ctx, &types.Invite{OrganizationID: "missing", Email: "a@x.com", Role: types.RoleMember}); !errors.Is(err, ErrForeignKeyViolation) {
		t.Errorf("expected ErrForeignKeyViolation, got %v", err)
	}
}

func TestMemoryStorage_DeleteOrganizationCascades(t *testing.T) {
	s := newMemoryStorage()
	ctx := context.Background()
	org := seedOrganization(t, s)

	if _, err := s.UpsertInvite(ctx, &types.Invite{OrganizationID: org.ID, Email: "bob@x.com", Role: types.RoleMember}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.DeleteOrganization(ctx, org.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteOrganization(ctx, org.ID); err != nil {
		t.Fatalf("expected repeated delete to succeed, got %v", err)
	}

	if _, err := s.GetOrganization(ctx, org.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	invites, _ := s.ListInvitesByOrganizationID(ctx, org.ID)
	if len(invites) != 0 {
		t.Errorf("expected invites to be removed, got %d", len(invites))
	}

	orgs, _ := s.ListOrganizationsByUserID(ctx, "u1")
	if len(orgs) != 0 {
		t.Errorf("expected no organizations for u1, got %d", len(orgs))
	}
}

func TestMemoryStorage_ConsumeInvite(t *testing.T) {
	s := newMemoryStorage()
	ctx := context.Background()
	org := seedOrganization(t, s)

	if _, err := s.UpsertInvite(ctx, &types.Invite{Code: "c1", OrganizationID: org.ID, Email: "a@x.com", Role: types.RoleAdmin}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consumed, err := s.ConsumeInvite(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed.Role != types.RoleAdmin || consumed.OrganizationID != org.ID {
		t.Errorf("unexpected invite: %+v", consumed)
	}

	if _, err := s.ConsumeInvite(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected a second consume to fail with ErrNotFound, got %v", err)
	}
}
