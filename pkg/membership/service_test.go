// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/storage"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
)

//go:generate mockgen -build_flags=--mod=mod -package membership -destination ./mock_membership.go -source=./interfaces.go

var knownIdentities = map[string]string{
	"olive@x.com": "olive",
	"adam@x.com":  "adam",
	"mia@x.com":   "mia",
	"bob@x.com":   "bob",
	"test@x.com":  "tess",
}

type fixture struct {
	svc      *Service
	store    StorageInterface
	mem      *storage.MemoryStorage
	identity *MockIdentityInterface
	billing  *MockBillingInterface
	notifier *MockNotifierInterface
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStorage(t, nil)
}

func newFixtureWithStorage(t *testing.T, wrap func(*storage.MemoryStorage) StorageInterface) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)

	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("test", logger)

	f := new(fixture)
	f.mem = storage.NewMemoryStorage(tracer, monitor, logger)
	f.store = f.mem
	if wrap != nil {
		f.store = wrap(f.mem)
	}

	f.identity = NewMockIdentityInterface(ctrl)
	f.billing = NewMockBillingInterface(ctrl)
	f.notifier = NewMockNotifierInterface(ctrl)

	f.identity.EXPECT().GetIdentityIDByEmail(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, email string) (string, error) {
			return knownIdentities[email], nil
		},
	).AnyTimes()
	f.notifier.EXPECT().NotifyInvite(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	f.svc = NewService(f.store, f.identity, f.billing, f.notifier, DefaultOptimisticRetries, tracer, monitor, logger)

	return f
}

// seed stores an organization owned by olive, with adam as admin and mia as member.
func (f *fixture) seed(t *testing.T, subscription *types.Subscription) *types.Organization {
	t.Helper()

	org, err := f.mem.CreateOrganization(context.Background(), &types.Organization{
		Name: "Acme",
		Members: map[string]types.Membership{
			"olive": {UserID: "olive", Role: types.RoleOwner},
			"adam":  {UserID: "adam", Role: types.RoleAdmin},
			"mia":   {UserID: "mia", Role: types.RoleMember},
		},
		Subscription: subscription,
	})
	if err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}

	return org
}

func (f *fixture) org(t *testing.T, id string) *types.Organization {
	t.Helper()

	org, err := f.mem.GetOrganization(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load organization: %v", err)
	}
	return org
}

func (f *fixture) invites(t *testing.T, orgID string) []*types.Invite {
	t.Helper()

	invites, err := f.mem.ListInvitesByOrganizationID(context.Background(), orgID)
	if err != nil {
		t.Fatalf("failed to list invites: %v", err)
	}
	return invites
}

func TestService_InviteMemberUpsert(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)
	ctx := context.Background()

	first, err := f.svc.InviteMember(ctx, org.ID, "olive", "newbie@x.com", types.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Role != types.RoleMember {
		t.Errorf("expected role member, got %s", first.Role)
	}

	second, err := f.svc.InviteMember(ctx, org.ID, "olive", "Newbie@X.com", types.RoleAdmin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invites := f.invites(t, org.ID)
	if len(invites) != 1 {
		t.Fatalf("expected exactly one invite, got %d", len(invites))
	}
	if invites[0].Role != types.RoleAdmin {
		t.Errorf("expected invite role admin, got %s", invites[0].Role)
	}
	if second.Code != first.Code {
		t.Errorf("expected invite code to be kept, got %s and %s", first.Code, second.Code)
	}
}

func TestService_InviteMemberRules(t *testing.T) {
	tests := []struct {
		name        string
		inviter     string
		email       string
		role        types.Role
		expectedErr error
	}{
		{name: "owner invites admin", inviter: "olive", email: "new@x.com", role: types.RoleAdmin},
		{name: "owner invites member", inviter: "olive", email: "new@x.com", role: types.RoleMember},
		{name: "owner cannot invite owner", inviter: "olive", email: "new@x.com", role: types.RoleOwner, expectedErr: ErrForbidden},
		{name: "admin invites member", inviter: "adam", email: "new@x.com", role: types.RoleMember},
		{name: "admin cannot invite owner", inviter: "adam", email: "new@x.com", role: types.RoleOwner, expectedErr: ErrForbidden},
		{name: "admin cannot invite admin", inviter: "adam", email: "new@x.com", role: types.RoleAdmin, expectedErr: ErrForbidden},
		{name: "member cannot invite", inviter: "mia", email: "new@x.com", role: types.RoleMember, expectedErr: ErrForbidden},
		{name: "non member", inviter: "stranger", email: "new@x.com", role: types.RoleMember, expectedErr: ErrNotFound},
		{name: "existing member", inviter: "olive", email: "MIA@x.com", role: types.RoleMember, expectedErr: ErrAlreadyMember},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)

			invite, err := f.svc.InviteMember(context.Background(), org.ID, test.inviter, test.email, test.role)

			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}
			if test.expectedErr != nil {
				if n := len(f.invites(t, org.ID)); n != 0 {
					t.Errorf("expected no invites, got %d", n)
				}
				return
			}
			if invite.Role != test.role || invite.InvitedBy != test.inviter {
				t.Errorf("unexpected invite %+v", invite)
			}
		})
	}
}

func TestService_InviteMembersBatchValidation(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)

	_, err := f.svc.InviteMembers(context.Background(), org.ID, "olive", []InviteRequest{
		{Email: "one@x.com", Role: types.RoleMember},
		{Email: "ONE@x.com", Role: types.RoleAdmin},
		{Email: "not-an-email", Role: types.RoleMember},
		{Email: "two@x.com", Role: "superuser"},
		{Email: "bob@x.com", Role: types.RoleMember},
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	expected := []FieldError{
		{Field: "invites[1].email", Code: "duplicate_email"},
		{Field: "invites[2].email", Code: "invalid_email"},
		{Field: "invites[3].role", Code: "invalid_role"},
	}
	if len(verr.Errors) != len(expected) {
		t.Fatalf("expected %d field errors, got %+v", len(expected), verr.Errors)
	}
	for i, e := range expected {
		if verr.Errors[i].Field != e.Field || verr.Errors[i].Code != e.Code {
			t.Errorf("expected %s/%s, got %s/%s", e.Field, e.Code, verr.Errors[i].Field, verr.Errors[i].Code)
		}
	}

	if n := len(f.invites(t, org.ID)); n != 0 {
		t.Errorf("expected batch to persist nothing, got %d invites", n)
	}
}

func TestService_InviteMembersForbiddenRow(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)

	_, err := f.svc.InviteMembers(context.Background(), org.ID, "adam", []InviteRequest{
		{Email: "one@x.com", Role: types.RoleMember},
		{Email: "two@x.com", Role: types.RoleAdmin},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if n := len(f.invites(t, org.ID)); n != 0 {
		t.Errorf("expected batch to persist nothing, got %d invites", n)
	}
}

func TestService_InviteNotificationFailureKeepsInvite(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("test", logger)

	mem := storage.NewMemoryStorage(tracer, monitor, logger)
	identity := NewMockIdentityInterface(ctrl)
	notifier := NewMockNotifierInterface(ctrl)

	identity.EXPECT().GetIdentityIDByEmail(gomock.Any(), "new@x.com").Return("", nil)
	notifier.EXPECT().NotifyInvite(gomock.Any(), gomock.Any(), "Acme").Return(errors.New("redis down"))

	svc := NewService(mem, identity, NewMockBillingInterface(ctrl), notifier, DefaultOptimisticRetries, tracer, monitor, logger)

	org, err := svc.CreateOrganization(context.Background(), "olive", "Acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invite, err := svc.InviteMember(context.Background(), org.ID, "olive", "new@x.com", types.RoleMember)
	if err != nil {
		t.Fatalf("expected notification failure to be swallowed, got %v", err)
	}

	stored, err := mem.GetInviteByCode(context.Background(), invite.Code)
	if err != nil || stored.Email != "new@x.com" {
		t.Errorf("expected invite to be stored, got %+v, %v", stored, err)
	}
}

func TestService_AcceptInvite(t *testing.T) {
	tests := []struct {
		name         string
		invitedEmail string
		userID       string
		userEmail    string
		code         string
		expectedErr  error
		expectedRole types.Role
	}{
		{name: "round trip", invitedEmail: "bob@x.com", userID: "bob", userEmail: "bob@x.com", expectedRole: types.RoleAdmin},
		{name: "case insensitive match", invitedEmail: "test@x.com", userID: "tess", userEmail: "Test@x.com", expectedRole: types.RoleAdmin},
		{name: "email mismatch", invitedEmail: "bob@x.com", userID: "eve", userEmail: "eve@x.com", expectedErr: ErrEmailMismatch},
		{name: "unknown code", invitedEmail: "bob@x.com", userID: "bob", userEmail: "bob@x.com", code: "missing", expectedErr: ErrNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)
			ctx := context.Background()

			invite, err := f.svc.InviteMember(ctx, org.ID, "olive", test.invitedEmail, types.RoleAdmin)
			if err != nil {
				t.Fatalf("unexpected invite error: %v", err)
			}

			code := invite.Code
			if test.code != "" {
				code = test.code
			}

			accepted, err := f.svc.AcceptInvite(ctx, code, test.userID, test.userEmail)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			after := f.org(t, org.ID)
			if test.expectedErr != nil {
				if _, ok := after.Members[test.userID]; ok {
					t.Errorf("expected %s not to be a member", test.userID)
				}
				if n := len(f.invites(t, org.ID)); n != 1 {
					t.Errorf("expected invite to remain, got %d", n)
				}
				return
			}

			if accepted.OrganizationID != org.ID {
				t.Errorf("expected organization %s, got %s", org.ID, accepted.OrganizationID)
			}
			if m := after.Members[test.userID]; m.Role != test.expectedRole {
				t.Errorf("expected role %s, got %s", test.expectedRole, m.Role)
			}
			if n := len(f.invites(t, org.ID)); n != 0 {
				t.Errorf("expected invite to be consumed, got %d", n)
			}
		})
	}
}

func TestService_AcceptInviteAlreadyMember(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)
	ctx := context.Background()

	invite, err := f.mem.UpsertInvite(ctx, &types.Invite{Code: "c1", OrganizationID: org.ID, Email: "mia@x.com", Role: types.RoleAdmin, InvitedBy: "olive"})
	if err != nil {
		t.Fatalf("failed to seed invite: %v", err)
	}

	if _, err := f.svc.AcceptInvite(ctx, invite.Code, "mia", "mia@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := f.org(t, org.ID)
	if after.Members["mia"].Role != types.RoleMember {
		t.Errorf("expected existing role to be kept, got %s", after.Members["mia"].Role)
	}
	if n := len(f.invites(t, org.ID)); n != 0 {
		t.Errorf("expected invite to be consumed, got %d", n)
	}
}

// failingStorage injects failures into selected store calls.
type failingStorage struct {
	*storage.MemoryStorage

	deleteInviteErr error
	deleteOrgErr    error
	upsertInviteErr error
	updateErr       error
	updateCalls     int
	mu              sync.Mutex
}

func (s *failingStorage) UpsertInvite(ctx context.Context, invite *types.Invite) (*types.Invite, error) {
	if s.upsertInviteErr != nil {
		return nil, s.upsertInviteErr
	}
	return s.MemoryStorage.UpsertInvite(ctx, invite)
}

func (s *failingStorage) DeleteInvite(ctx context.Context, code string) error {
	if s.deleteInviteErr != nil {
		return s.deleteInviteErr
	}
	return s.MemoryStorage.DeleteInvite(ctx, code)
}

func (s *failingStorage) DeleteOrganization(ctx context.Context, id string) error {
	if s.deleteOrgErr != nil {
		return s.deleteOrgErr
	}
	return s.MemoryStorage.DeleteOrganization(ctx, id)
}

func (s *failingStorage) UpdateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	s.mu.Lock()
	s.updateCalls++
	s.mu.Unlock()

	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.MemoryStorage.UpdateOrganization(ctx, org)
}

func TestService_AcceptInviteRollsBackMembership(t *testing.T) {
	failing := new(failingStorage)
	f := newFixtureWithStorage(t, func(m *storage.MemoryStorage) StorageInterface {
		failing.MemoryStorage = m
		return failing
	})
	org := f.seed(t, nil)
	ctx := context.Background()

	invite, err := f.svc.InviteMember(ctx, org.ID, "olive", "bob@x.com", types.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing.updateErr = errors.New("disk full")

	if _, err := f.svc.AcceptInvite(ctx, invite.Code, "bob", "bob@x.com"); err == nil {
		t.Fatalf("expected error")
	}

	if _, ok := f.org(t, org.ID).Members["bob"]; ok {
		t.Errorf("expected bob not to be a member")
	}
	if _, err := f.mem.GetInviteByCode(ctx, invite.Code); err != nil {
		t.Errorf("expected the consumed invite to be restored, got %v", err)
	}
}

// racingStorage runs a competing write once, either right after the first
// organization read or right before the first transaction.
type racingStorage struct {
	*storage.MemoryStorage

	afterGet func()
	beforeTx func()
	once     sync.Once
}

func (s *racingStorage) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	org, err := s.MemoryStorage.GetOrganization(ctx, id)
	if s.afterGet != nil {
		s.once.Do(s.afterGet)
	}
	return org, err
}

func (s *racingStorage) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if s.beforeTx != nil {
		s.once.Do(s.beforeTx)
	}
	return s.MemoryStorage.WithTx(ctx, fn)
}

func TestService_AcceptInviteRevokedConcurrently(t *testing.T) {
	tests := []struct {
		name string
		race func(t *testing.T, m *storage.MemoryStorage, code string)
	}{
		{
			name: "revoked",
			race: func(t *testing.T, m *storage.MemoryStorage, code string) {
				if err := m.DeleteInvite(context.Background(), code); err != nil {
					t.Errorf("failed to revoke invite: %v", err)
				}
			},
		},
		{
			name: "accepted by another session",
			race: func(t *testing.T, m *storage.MemoryStorage, code string) {
				if _, err := m.ConsumeInvite(context.Background(), code); err != nil {
					t.Errorf("failed to consume invite: %v", err)
				}
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			racing := new(racingStorage)
			f := newFixtureWithStorage(t, func(m *storage.MemoryStorage) StorageInterface {
				racing.MemoryStorage = m
				return racing
			})
			org := f.seed(t, nil)
			ctx := context.Background()

			invite, err := f.mem.UpsertInvite(ctx, &types.Invite{Code: "c1", OrganizationID: org.ID, Email: "bob@x.com", Role: types.RoleAdmin, InvitedBy: "olive"})
			if err != nil {
				t.Fatalf("failed to seed invite: %v", err)
			}
			racing.beforeTx = func() { test.race(t, f.mem, invite.Code) }

			if _, err := f.svc.AcceptInvite(ctx, invite.Code, "bob", "bob@x.com"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if _, ok := f.org(t, org.ID).Members["bob"]; ok {
				t.Errorf("expected bob not to become a member through a consumed invite")
			}
		})
	}
}

func TestService_InviteMembersRechecksInviter(t *testing.T) {
	tests := []struct {
		name        string
		change      func(org *types.Organization)
		expectedErr error
	}{
		{
			name:        "inviter removed",
			change:      func(org *types.Organization) { delete(org.Members, "adam") },
			expectedErr: ErrNotFound,
		},
		{
			name: "inviter demoted",
			change: func(org *types.Organization) {
				org.Members["adam"] = types.Membership{UserID: "adam", Role: types.RoleMember}
			},
			expectedErr: ErrForbidden,
		},
		{
			name: "invitee joined",
			change: func(org *types.Organization) {
				org.Members["bob"] = types.Membership{UserID: "bob", Role: types.RoleMember}
			},
			expectedErr: ErrAlreadyMember,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			racing := new(racingStorage)
			f := newFixtureWithStorage(t, func(m *storage.MemoryStorage) StorageInterface {
				racing.MemoryStorage = m
				return racing
			})
			org := f.seed(t, nil)
			ctx := context.Background()

			racing.afterGet = func() {
				current, err := f.mem.GetOrganization(ctx, org.ID)
				if err != nil {
					t.Errorf("failed to load organization: %v", err)
					return
				}
				test.change(current)
				if _, err := f.mem.UpdateOrganization(ctx, current); err != nil {
					t.Errorf("failed to apply concurrent change: %v", err)
				}
			}

			if _, err := f.svc.InviteMember(ctx, org.ID, "adam", "bob@x.com", types.RoleMember); !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}
			if n := len(f.invites(t, org.ID)); n != 0 {
				t.Errorf("expected no invites, got %d", n)
			}
		})
	}
}

func TestService_RemoveMember(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		target      string
		expectedErr error
	}{
		{name: "member cannot remove admin", actor: "mia", target: "adam", expectedErr: ErrForbidden},
		{name: "owner removes admin", actor: "olive", target: "adam"},
		{name: "admin removes member", actor: "adam", target: "mia"},
		{name: "admin cannot remove owner", actor: "adam", target: "olive", expectedErr: ErrForbidden},
		{name: "owner cannot remove self", actor: "olive", target: "olive", expectedErr: ErrForbidden},
		{name: "admin cannot remove self", actor: "adam", target: "adam", expectedErr: ErrForbidden},
		{name: "unknown target", actor: "olive", target: "ghost", expectedErr: ErrNotFound},
		{name: "unknown actor", actor: "ghost", target: "mia", expectedErr: ErrNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)

			err := f.svc.RemoveMember(context.Background(), org.ID, test.actor, test.target)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			_, present := f.org(t, org.ID).Members[test.target]
			if test.expectedErr == nil && present {
				t.Errorf("expected %s to be removed", test.target)
			}
		})
	}
}

func TestService_UpdateMemberRole(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		target      string
		role        types.Role
		expectedErr error
	}{
		{name: "owner promotes member", actor: "olive", target: "mia", role: types.RoleAdmin},
		{name: "owner demotes admin", actor: "olive", target: "adam", role: types.RoleMember},
		{name: "owner cannot grant owner", actor: "olive", target: "adam", role: types.RoleOwner, expectedErr: ErrForbidden},
		{name: "admin cannot promote to admin", actor: "adam", target: "mia", role: types.RoleAdmin, expectedErr: ErrForbidden},
		{name: "admin cannot change owner", actor: "adam", target: "olive", role: types.RoleMember, expectedErr: ErrForbidden},
		{name: "member cannot change anyone", actor: "mia", target: "adam", role: types.RoleMember, expectedErr: ErrForbidden},
		{name: "unknown target", actor: "olive", target: "ghost", role: types.RoleMember, expectedErr: ErrNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)
			before := f.org(t, org.ID)

			err := f.svc.UpdateMemberRole(context.Background(), org.ID, test.actor, test.target, test.role)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			after := f.org(t, org.ID)
			if test.expectedErr != nil {
				if after.Version != before.Version {
					t.Errorf("expected organization to be untouched")
				}
				return
			}
			if after.Members[test.target].Role != test.role {
				t.Errorf("expected role %s, got %s", test.role, after.Members[test.target].Role)
			}
		})
	}
}

func TestService_UpdateMemberRoleInvalidRole(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)

	err := f.svc.UpdateMemberRole(context.Background(), org.ID, "olive", "mia", "superuser")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_TransferOwnership(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		next        string
		expectedErr error
	}{
		{name: "owner to member", current: "olive", next: "mia"},
		{name: "owner to admin", current: "olive", next: "adam"},
		{name: "admin cannot transfer", current: "adam", next: "mia", expectedErr: ErrForbidden},
		{name: "new owner must be a member", current: "olive", next: "ghost", expectedErr: ErrNotFound},
		{name: "self transfer", current: "olive", next: "olive", expectedErr: ErrForbidden},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)

			err := f.svc.TransferOwnership(context.Background(), org.ID, test.current, test.next)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			after := f.org(t, org.ID)
			if after.CountRole(types.RoleOwner) != 1 {
				t.Fatalf("expected exactly one owner, got %d", after.CountRole(types.RoleOwner))
			}
			if test.expectedErr != nil {
				return
			}
			if after.Owner() != test.next {
				t.Errorf("expected owner %s, got %s", test.next, after.Owner())
			}
			if after.Members[test.current].Role != types.RoleAdmin {
				t.Errorf("expected previous owner to be admin, got %s", after.Members[test.current].Role)
			}
		})
	}
}

func TestService_ConcurrentTransferOwnershipKeepsSingleOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	members := map[string]types.Membership{"olive": {UserID: "olive", Role: types.RoleOwner}}
	for i := range 8 {
		id := fmt.Sprintf("user-%d", i)
		members[id] = types.Membership{UserID: id, Role: types.RoleMember}
	}

	org, err := f.mem.CreateOrganization(ctx, &types.Organization{Name: "Race", Members: members})
	if err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.TransferOwnership(ctx, org.ID, "olive", fmt.Sprintf("user-%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrForbidden), errors.Is(err, ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("expected exactly one transfer to win, got %d", succeeded)
	}

	after := f.org(t, org.ID)
	if after.CountRole(types.RoleOwner) != 1 {
		t.Errorf("expected exactly one owner, got %d", after.CountRole(types.RoleOwner))
	}
	if after.Owner() == "olive" {
		t.Errorf("expected ownership to move away from olive")
	}
}

func TestService_ConcurrentRoleChangesAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	members := map[string]types.Membership{"olive": {UserID: "olive", Role: types.RoleOwner}}
	for i := range 6 {
		id := fmt.Sprintf("user-%d", i)
		members[id] = types.Membership{UserID: id, Role: types.RoleMember}
	}

	org, err := f.mem.CreateOrganization(ctx, &types.Organization{Name: "Race", Members: members})
	if err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}

	// retries sized so every writer eventually commits
	f.svc.retries = 20

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := f.svc.UpdateMemberRole(ctx, org.ID, "olive", fmt.Sprintf("user-%d", i), types.RoleAdmin); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	after := f.org(t, org.ID)
	if n := after.CountRole(types.RoleAdmin); n != 6 {
		t.Errorf("expected 6 admins, got %d", n)
	}
}

func TestService_MutateRetriesThenConflict(t *testing.T) {
	failing := &failingStorage{updateErr: storage.ErrVersionConflict}
	f := newFixtureWithStorage(t, func(m *storage.MemoryStorage) StorageInterface {
		failing.MemoryStorage = m
		return failing
	})
	org := f.seed(t, nil)

	err := f.svc.LeaveOrganization(context.Background(), org.ID, "mia")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if failing.updateCalls != DefaultOptimisticRetries+1 {
		t.Errorf("expected %d attempts, got %d", DefaultOptimisticRetries+1, failing.updateCalls)
	}
}

func TestService_LeaveOrganization(t *testing.T) {
	tests := []struct {
		name        string
		user        string
		expectedErr error
	}{
		{name: "member leaves", user: "mia"},
		{name: "admin leaves", user: "adam"},
		{name: "owner cannot leave", user: "olive", expectedErr: ErrForbidden},
		{name: "non member", user: "ghost", expectedErr: ErrNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)

			err := f.svc.LeaveOrganization(context.Background(), org.ID, test.user)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			after := f.org(t, org.ID)
			if after.Owner() != "olive" {
				t.Errorf("expected olive to stay owner")
			}
			if _, ok := after.Members[test.user]; ok && test.expectedErr == nil {
				t.Errorf("expected %s to be gone", test.user)
			}
		})
	}
}

func TestService_OwnerCannotLeaveWhileMembersChange(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := f.svc.LeaveOrganization(ctx, org.ID, "olive"); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected forbidden, got %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		f.svc.LeaveOrganization(ctx, org.ID, "mia")
	}()
	wg.Wait()

	if f.org(t, org.ID).Owner() != "olive" {
		t.Errorf("expected olive to stay owner")
	}
}

func TestService_DeleteOrganization(t *testing.T) {
	billingErr := errors.New("stripe unavailable")

	tests := []struct {
		name         string
		subscription *types.Subscription
		setupMocks   func(*MockBillingInterface)
		expectedErr  bool
		expectKept   bool
	}{
		{
			name:       "no subscription",
			setupMocks: func(*MockBillingInterface) {},
		},
		{
			name:         "subscription canceled first",
			subscription: &types.Subscription{ID: "sub_1", Status: "active"},
			setupMocks: func(b *MockBillingInterface) {
				b.EXPECT().CancelSubscription(gomock.Any(), "sub_1").Return(nil)
			},
		},
		{
			name:         "billing failure keeps everything",
			subscription: &types.Subscription{ID: "sub_1", Status: "active"},
			setupMocks: func(b *MockBillingInterface) {
				b.EXPECT().CancelSubscription(gomock.Any(), "sub_1").Return(billingErr)
			},
			expectedErr: true,
			expectKept:  true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, test.subscription)
			ctx := context.Background()

			if _, err := f.svc.InviteMembers(ctx, org.ID, "olive", []InviteRequest{
				{Email: "a@x.com", Role: types.RoleMember},
				{Email: "b@x.com", Role: types.RoleAdmin},
			}); err != nil {
				t.Fatalf("unexpected invite error: %v", err)
			}

			test.setupMocks(f.billing)

			err := f.svc.DeleteOrganization(ctx, org.ID)
			if (err != nil) != test.expectedErr {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			if test.expectedErr {
				var berr *UpstreamBillingError
				if !errors.As(err, &berr) || berr.SubscriptionID != "sub_1" || !errors.Is(err, billingErr) {
					t.Errorf("expected upstream billing error, got %v", err)
				}
			}

			_, getErr := f.mem.GetOrganization(ctx, org.ID)
			invites := f.invites(t, org.ID)

			if test.expectKept {
				if getErr != nil || len(invites) != 2 {
					t.Errorf("expected organization and invites to remain, got %v and %d invites", getErr, len(invites))
				}
				return
			}
			if !errors.Is(getErr, storage.ErrNotFound) || len(invites) != 0 {
				t.Errorf("expected organization and invites to be gone, got %v and %d invites", getErr, len(invites))
			}
		})
	}
}

func TestService_DeleteOrganizationInviteCleanupIsBestEffort(t *testing.T) {
	failing := new(failingStorage)
	f := newFixtureWithStorage(t, func(m *storage.MemoryStorage) StorageInterface {
		failing.MemoryStorage = m
		return failing
	})
	org := f.seed(t, nil)
	ctx := context.Background()

	if _, err := f.svc.InviteMember(ctx, org.ID, "olive", "a@x.com", types.RoleMember); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}

	failing.deleteInviteErr = errors.New("timeout")

	if err := f.svc.DeleteOrganization(ctx, org.ID); err != nil {
		t.Fatalf("expected invite failures to be tolerated, got %v", err)
	}
	if _, err := f.mem.GetOrganization(ctx, org.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected organization to be deleted, got %v", err)
	}
}

func TestService_DeleteOrganizationNotFound(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.DeleteOrganization(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_DeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.seed(t, &types.Subscription{ID: "sub_1", Status: "active"})
	second := f.seed(t, &types.Subscription{ID: "sub_2", Status: "active"})

	other, err := f.mem.CreateOrganization(ctx, &types.Organization{
		Name: "Other",
		Members: map[string]types.Membership{
			"zed":   {UserID: "zed", Role: types.RoleOwner},
			"olive": {UserID: "olive", Role: types.RoleMember},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}

	assertOrgsGone := func() {
		for _, id := range []string{first.ID, second.ID} {
			if _, err := f.mem.GetOrganization(ctx, id); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("expected organization %s to be deleted before the identity", id)
			}
		}
	}

	f.billing.EXPECT().CancelSubscription(gomock.Any(), "sub_1").Return(nil)
	f.billing.EXPECT().CancelSubscription(gomock.Any(), "sub_2").Return(nil)
	gomock.InOrder(
		f.identity.EXPECT().RevokeSessions(gomock.Any(), "olive").DoAndReturn(func(context.Context, string) error {
			assertOrgsGone()
			return nil
		}),
		f.identity.EXPECT().DeleteIdentity(gomock.Any(), "olive").Return(nil),
		f.notifier.EXPECT().NotifyAccountDeleted(gomock.Any(), "olive", "olive@x.com").Return(nil),
	)

	if err := f.svc.DeleteUser(ctx, "olive", "olive@x.com", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := f.org(t, other.ID).Members["olive"]; ok {
		t.Errorf("expected membership in non owned organization to be removed")
	}
}

func TestService_DeleteUserAbortsOnFailedOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, &types.Subscription{ID: "sub_1", Status: "active"})
	f.seed(t, &types.Subscription{ID: "sub_2", Status: "active"})

	// first owned organization cancels, the second fails, identity is never touched
	gomock.InOrder(
		f.billing.EXPECT().CancelSubscription(gomock.Any(), gomock.Any()).Return(nil),
		f.billing.EXPECT().CancelSubscription(gomock.Any(), gomock.Any()).Return(errors.New("stripe down")),
	)

	err := f.svc.DeleteUser(ctx, "olive", "olive@x.com", false)

	var berr *UpstreamBillingError
	if !errors.As(err, &berr) {
		t.Fatalf("expected upstream billing error, got %v", err)
	}

	orgs, err := f.mem.ListOrganizationsByUserID(ctx, "olive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs) != 1 {
		t.Errorf("expected exactly one organization to survive, got %d", len(orgs))
	}
}

func TestService_DeleteUserWithoutNotification(t *testing.T) {
	f := newFixture(t)

	f.identity.EXPECT().RevokeSessions(gomock.Any(), "solo").Return(nil)
	f.identity.EXPECT().DeleteIdentity(gomock.Any(), "solo").Return(nil)

	if err := f.svc.DeleteUser(context.Background(), "solo", "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_RevokeInvite(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		role        types.Role
		expectedErr error
	}{
		{name: "owner revokes admin invite", actor: "olive", role: types.RoleAdmin},
		{name: "admin revokes member invite", actor: "adam", role: types.RoleMember},
		{name: "admin cannot revoke admin invite", actor: "adam", role: types.RoleAdmin, expectedErr: ErrForbidden},
		{name: "member cannot revoke", actor: "mia", role: types.RoleMember, expectedErr: ErrForbidden},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)
			ctx := context.Background()

			invite, err := f.svc.InviteMember(ctx, org.ID, "olive", "new@x.com", test.role)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			err = f.svc.RevokeInvite(ctx, org.ID, test.actor, invite.Code)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}

			want := 0
			if test.expectedErr != nil {
				want = 1
			}
			if n := len(f.invites(t, org.ID)); n != want {
				t.Errorf("expected %d invites, got %d", want, n)
			}
		})
	}
}

func TestService_RevokeInviteOfOtherOrganization(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)
	other := f.seed(t, nil)
	ctx := context.Background()

	invite, err := f.svc.InviteMember(ctx, other.ID, "olive", "new@x.com", types.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.svc.RevokeInvite(ctx, org.ID, "olive", invite.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_RequireRole(t *testing.T) {
	tests := []struct {
		name        string
		user        string
		minRole     types.Role
		expectedErr error
	}{
		{name: "owner is owner", user: "olive", minRole: types.RoleOwner},
		{name: "admin is not owner", user: "adam", minRole: types.RoleOwner, expectedErr: ErrForbidden},
		{name: "admin is at least admin", user: "adam", minRole: types.RoleAdmin},
		{name: "member is at least member", user: "mia", minRole: types.RoleMember},
		{name: "stranger", user: "ghost", minRole: types.RoleMember, expectedErr: ErrNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)

			_, err := f.svc.RequireRole(context.Background(), org.ID, test.user, test.minRole)
			if !errors.Is(err, test.expectedErr) {
				t.Errorf("expected error %v, got %v", test.expectedErr, err)
			}
		})
	}
}

func TestService_ListMembersOrdersByRole(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)

	members, err := f.svc.ListMembers(context.Background(), org.ID, "mia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"olive", "adam", "mia"}
	if len(members) != len(expected) {
		t.Fatalf("expected %d members, got %d", len(expected), len(members))
	}
	for i, id := range expected {
		if members[i].UserID != id {
			t.Errorf("expected %s at position %d, got %s", id, i, members[i].UserID)
		}
	}

	if _, err := f.svc.ListMembers(context.Background(), org.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for non member, got %v", err)
	}
}

func TestService_Onboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, invites, err := f.svc.Onboard(ctx, "olive", "  Acme  ", []InviteRequest{
		{Email: "a@x.com", Role: types.RoleAdmin},
		{Email: "b@x.com", Role: types.RoleMember},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if org.Name != "Acme" || org.Owner() != "olive" {
		t.Errorf("unexpected organization %+v", org)
	}
	if len(invites) != 2 || len(f.invites(t, org.ID)) != 2 {
		t.Errorf("expected two invites")
	}
}

func TestService_OnboardValidationCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Onboard(ctx, "olive", "", []InviteRequest{
		{Email: "olive@x.com", Role: types.RoleMember},
		{Email: "a@x.com", Role: types.RoleOwner},
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 field errors, got %+v", verr.Errors)
	}

	orgs, _ := f.mem.ListOrganizationsByUserID(ctx, "olive")
	if len(orgs) != 0 {
		t.Errorf("expected no organization, got %d", len(orgs))
	}
}

func TestService_OnboardIsAtomic(t *testing.T) {
	failing := &failingStorage{upsertInviteErr: errors.New("disk full")}
	f := newFixtureWithStorage(t, func(m *storage.MemoryStorage) StorageInterface {
		failing.MemoryStorage = m
		return failing
	})
	ctx := context.Background()

	org, _, err := f.svc.Onboard(ctx, "olive", "Acme", []InviteRequest{{Email: "a@x.com", Role: types.RoleMember}})
	if err == nil {
		t.Fatal("expected error")
	}
	if org != nil {
		t.Errorf("expected no organization to be returned, got %+v", org)
	}

	orgs, _ := f.mem.ListOrganizationsByUserID(ctx, "olive")
	if len(orgs) != 0 {
		t.Errorf("expected the organization to be rolled back, got %d", len(orgs))
	}
}

func TestService_InviteMembersRequiresRowFields(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)

	_, err := f.svc.InviteMembers(context.Background(), org.ID, "olive", []InviteRequest{
		{Role: types.RoleMember},
		{Email: "a@x.com"},
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	expected := []FieldError{
		{Field: "invites[0].email", Code: "invalid_email"},
		{Field: "invites[1].role", Code: "invalid_role"},
	}
	if len(verr.Errors) != len(expected) {
		t.Fatalf("expected %d field errors, got %+v", len(expected), verr.Errors)
	}
	for i, e := range expected {
		if verr.Errors[i].Field != e.Field || verr.Errors[i].Code != e.Code {
			t.Errorf("expected %s/%s, got %s/%s", e.Field, e.Code, verr.Errors[i].Field, verr.Errors[i].Code)
		}
	}
}

func TestService_SetSubscription(t *testing.T) {
	f := newFixture(t)
	org := f.seed(t, nil)
	ctx := context.Background()

	if err := f.svc.SetSubscription(ctx, org.ID, &types.Subscription{ID: "sub_9", Status: "active"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub := f.org(t, org.ID).Subscription; sub == nil || sub.ID != "sub_9" {
		t.Errorf("expected subscription sub_9, got %+v", sub)
	}

	if err := f.svc.SetSubscription(ctx, org.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub := f.org(t, org.ID).Subscription; sub != nil {
		t.Errorf("expected subscription to be cleared, got %+v", sub)
	}

	if err := f.svc.SetSubscription(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_SetSubscriptionOutOfOrder(t *testing.T) {
	newer := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Minute)

	tests := []struct {
		name     string
		stored   *types.Subscription
		incoming *types.Subscription
		expected *types.Subscription
	}{
		{
			name:     "older update is dropped",
			stored:   &types.Subscription{ID: "sub_1", Status: "active", UpdatedAt: newer},
			incoming: &types.Subscription{ID: "sub_1", Status: "past_due", UpdatedAt: older},
			expected: &types.Subscription{ID: "sub_1", Status: "active", UpdatedAt: newer},
		},
		{
			name:     "newer update is applied",
			stored:   &types.Subscription{ID: "sub_1", Status: "active", UpdatedAt: older},
			incoming: &types.Subscription{ID: "sub_1", Status: "past_due", UpdatedAt: newer},
			expected: &types.Subscription{ID: "sub_1", Status: "past_due", UpdatedAt: newer},
		},
		{
			name:     "canceled is not reactivated",
			stored:   &types.Subscription{ID: "sub_1", Status: types.SubscriptionStatusCanceled, UpdatedAt: older},
			incoming: &types.Subscription{ID: "sub_1", Status: "active", UpdatedAt: newer},
			expected: &types.Subscription{ID: "sub_1", Status: types.SubscriptionStatusCanceled, UpdatedAt: older},
		},
		{
			name:     "new subscription replaces a canceled one",
			stored:   &types.Subscription{ID: "sub_1", Status: types.SubscriptionStatusCanceled, UpdatedAt: newer},
			incoming: &types.Subscription{ID: "sub_2", Status: "active", UpdatedAt: older},
			expected: &types.Subscription{ID: "sub_2", Status: "active", UpdatedAt: older},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, test.stored)

			if err := f.svc.SetSubscription(context.Background(), org.ID, test.incoming); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sub := f.org(t, org.ID).Subscription
			if sub == nil || sub.ID != test.expected.ID || sub.Status != test.expected.Status || !sub.UpdatedAt.Equal(test.expected.UpdatedAt) {
				t.Errorf("expected %+v, got %+v", test.expected, sub)
			}
		})
	}
}

func TestService_UpdateOrganizationDetails(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		newName     string
		expectedErr error
	}{
		{name: "admin renames", actor: "adam", newName: "Acme Corp"},
		{name: "member cannot rename", actor: "mia", newName: "Acme Corp", expectedErr: ErrForbidden},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.seed(t, nil)

			_, err := f.svc.UpdateOrganizationDetails(context.Background(), org.ID, test.actor, test.newName, "https://x/logo.png")
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}
			if test.expectedErr == nil && f.org(t, org.ID).Name != test.newName {
				t.Errorf("expected name %q", test.newName)
			}
		})
	}

	f := newFixture(t)
	org := f.seed(t, nil)
	_, err := f.svc.UpdateOrganizationDetails(context.Background(), org.ID, "olive", "  ", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected validation error for blank name, got %v", err)
	}
}
