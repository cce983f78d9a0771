// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"

	"github.com/canonical/membership-service/internal/types"
)

// Define a private custom type to avoid collisions
type contextKey int

const (
	userContextKey contextKey = iota
	principalContextKey
)

// WithUserID returns a new context with the given user ID derived from the parent context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// GetUserID retrieves the user ID from the context.
// Returns an empty string and false if the user ID is not present.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userContextKey).(string)
	return id, ok
}

// WithPrincipal stores the session principal, its user ID included.
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	ctx = WithUserID(ctx, p.UserID)
	return context.WithValue(ctx, principalContextKey, p)
}

func GetPrincipal(ctx context.Context) (*types.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*types.Principal)
	return p, ok && p != nil
}
