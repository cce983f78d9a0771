// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// rank is the single source of the role order, higher outranks lower.
var rank = map[Role]int{
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Rank returns the position of the role in the hierarchy, 0 for unknown roles.
func (r Role) Rank() int {
	return rank[r]
}

func (r Role) IsValid() bool {
	_, ok := rank[r]
	return ok
}

// Outranks reports whether r is strictly above other.
func (r Role) Outranks(other Role) bool {
	return r.IsValid() && r.Rank() > other.Rank()
}

// AtLeast reports whether r is equal to or above other.
func (r Role) AtLeast(other Role) bool {
	return r.IsValid() && r.Rank() >= other.Rank()
}

func (r Role) String() string {
	return string(r)
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}
