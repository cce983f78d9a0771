// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"time"
)

type Organization struct {
	ID           string                `db:"id" json:"id"`
	Name         string                `db:"name" json:"name"`
	LogoURL      string                `db:"logo_url" json:"logoUrl,omitempty"`
	Members      map[string]Membership `json:"-"`
	Subscription *Subscription         `json:"subscription,omitempty"`
	Version      int64                 `db:"version" json:"-"`
	CreatedAt    time.Time             `db:"created_at" json:"createdAt"`
}

// Owner returns the user ID holding the owner role, empty if none.
func (o *Organization) Owner() string {
	for id, m := range o.Members {
		if m.Role == RoleOwner {
			return id
		}
	}
	return ""
}

// CountRole returns how many members hold the given role.
func (o *Organization) CountRole(role Role) int {
	n := 0
	for _, m := range o.Members {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Clone returns a deep copy, the member map included.
func (o *Organization) Clone() *Organization {
	c := *o
	c.Members = make(map[string]Membership, len(o.Members))
	for k, v := range o.Members {
		c.Members[k] = v
	}
	if o.Subscription != nil {
		s := *o.Subscription
		c.Subscription = &s
	}
	return &c
}

type Membership struct {
	UserID   string    `db:"user_id" json:"userId"`
	Role     Role      `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}

// SubscriptionStatusCanceled is terminal, a canceled subscription is never reactivated.
const SubscriptionStatusCanceled = "canceled"

// Subscription is the billing state of an organization. UpdatedAt is the
// creation time of the billing event that last changed it.
type Subscription struct {
	ID        string    `db:"subscription_id" json:"id"`
	Status    string    `db:"subscription_status" json:"status"`
	UpdatedAt time.Time `db:"subscription_updated_at" json:"updatedAt,omitzero"`
}

type Invite struct {
	Code           string    `db:"code" json:"code"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Email          string    `db:"email" json:"email"`
	Role           Role      `db:"role" json:"role"`
	InvitedBy      string    `db:"invited_by" json:"invitedBy"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// UserOrganization is an organization as seen by one of its members.
type UserOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Email  string
}
