// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
)

var _ StorageInterface = (*MemoryStorage)(nil)

type memTxKey struct{}

// MemoryStorage keeps organizations and invites in process memory.
// Mutations outside a transaction are serialized with running transactions,
// a failed transaction restores the state captured when it started.
type MemoryStorage struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	organizations map[string]*types.Organization
	invites       map[string]*types.Invite

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (s *MemoryStorage) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	orgs, invites := s.snapshot()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.organizations, s.invites = orgs, invites
		s.mu.Unlock()
		return err
	}

	return nil
}

func (s *MemoryStorage) CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.CreateOrganization")
	defer span.End()

	defer s.lockWrite(ctx)()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	created := org.Clone()
	created.ID = id.String()
	created.Version = 1
	created.CreatedAt = s.now()

	s.mu.Lock()
	s.organizations[created.ID] = created.Clone()
	s.mu.Unlock()

	return created, nil
}

func (s *MemoryStorage) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.GetOrganization")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}

	return org.Clone(), nil
}

func (s *MemoryStorage) ListOrganizationsByUserID(ctx context.Context, userID string) ([]*types.UserOrganization, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.ListOrganizationsByUserID")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*types.Organization, 0)
	for _, org := range s.organizations {
		if _, ok := org.Members[userID]; ok {
			matched = append(matched, org)
		}
	}

	slices.SortFunc(matched, func(a, b *types.Organization) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	orgs := make([]*types.UserOrganization, 0, len(matched))
	for _, org := range matched {
		orgs = append(orgs, &types.UserOrganization{ID: org.ID, Name: org.Name, Role: org.Members[userID].Role})
	}

	return orgs, nil
}

func (s *MemoryStorage) UpdateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.UpdateOrganization")
	defer span.End()

	defer s.lockWrite(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.organizations[org.ID]
	if !ok || current.Version != org.Version {
		return nil, ErrVersionConflict
	}

	updated := org.Clone()
	updated.Version = current.Version + 1
	updated.CreatedAt = current.CreatedAt
	s.organizations[org.ID] = updated.Clone()

	return updated, nil
}

func (s *MemoryStorage) DeleteOrganization(ctx context.Context, id string) error {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.DeleteOrganization")
	defer span.End()

	defer s.lockWrite(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.organizations, id)
	for code, i := range s.invites {
		if i.OrganizationID == id {
			delete(s.invites, code)
		}
	}

	return nil
}

func (s *MemoryStorage) UpsertInvite(ctx context.Context, invite *types.Invite) (*types.Invite, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.UpsertInvite")
	defer span.End()

	defer s.lockWrite(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[invite.OrganizationID]; !ok {
		return nil, ErrForeignKeyViolation
	}

	email := strings.ToLower(invite.Email)
	for _, existing := range s.invites {
		if existing.OrganizationID == invite.OrganizationID && existing.Email == email {
			existing.Role = invite.Role
			existing.InvitedBy = invite.InvitedBy
			existing.CreatedAt = s.now()

			i := *existing
			return &i, nil
		}
	}

	i := *invite
	i.Email = email
	i.CreatedAt = s.now()
	if i.Code == "" {
		i.Code = uuid.NewString()
	}
	if _, ok := s.invites[i.Code]; ok {
		return nil, ErrDuplicateKey
	}

	stored := i
	s.invites[i.Code] = &stored

	return &i, nil
}

func (s *MemoryStorage) GetInviteByCode(ctx context.Context, code string) (*types.Invite, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.GetInviteByCode")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.invites[code]
	if !ok {
		return nil, ErrNotFound
	}

	c := *i
	return &c, nil
}

func (s *MemoryStorage) ListInvitesByOrganizationID(ctx context.Context, organizationID string) ([]*types.Invite, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.ListInvitesByOrganizationID")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	invites := make([]*types.Invite, 0)
	for _, i := range s.invites {
		if i.OrganizationID == organizationID {
			c := *i
			invites = append(invites, &c)
		}
	}

	slices.SortFunc(invites, func(a, b *types.Invite) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.Email, b.Email)
	})

	return invites, nil
}

func (s *MemoryStorage) DeleteInvite(ctx context.Context, code string) error {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.DeleteInvite")
	defer span.End()

	defer s.lockWrite(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invites[code]; !ok {
		return ErrNotFound
	}
	delete(s.invites, code)

	return nil
}

func (s *MemoryStorage) ConsumeInvite(ctx context.Context, code string) (*types.Invite, error) {
	_, span := s.tracer.Start(ctx, "storage.MemoryStorage.ConsumeInvite")
	defer span.End()

	defer s.lockWrite(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.invites[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.invites, code)

	c := *i
	return &c, nil
}

// lockWrite serializes a mutation with transactions unless it already runs inside one.
func (s *MemoryStorage) lockWrite(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}

	s.txMu.Lock()
	return s.txMu.Unlock
}

func (s *MemoryStorage) snapshot() (map[string]*types.Organization, map[string]*types.Invite) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgs := make(map[string]*types.Organization, len(s.organizations))
	for id, o := range s.organizations {
		orgs[id] = o.Clone()
	}

	invites := make(map[string]*types.Invite, len(s.invites))
	for code, i := range s.invites {
		c := *i
		invites[code] = &c
	}

	return orgs, invites
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

func NewMemoryStorage(tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *MemoryStorage {
	s := new(MemoryStorage)

	s.organizations = make(map[string]*types.Organization)
	s.invites = make(map[string]*types.Invite)
	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
