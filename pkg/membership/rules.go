// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"github.com/canonical/membership-service/internal/types"
)

// canGrant reports whether actor may hand out role, through an invite or a
// role change. Ownership only moves through TransferOwnership.
func canGrant(actor, role types.Role) bool {
	return role.IsValid() && role != types.RoleOwner && actor.Outranks(role)
}

// canManage reports whether actor may act on a member currently holding target.
func canManage(actor, target types.Role) bool {
	return actor.Outranks(target)
}

func memberRole(org *types.Organization, userID string) (types.Role, bool) {
	m, ok := org.Members[userID]
	if !ok {
		return "", false
	}
	return m.Role, true
}
