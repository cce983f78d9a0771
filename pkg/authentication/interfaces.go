// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"

	"github.com/canonical/membership-service/internal/types"
)

type TokenVerifierInterface interface {
	// VerifyToken verifies a raw JWT string and validates authorization claims
	// Returns the subject (user ID) if the token is valid and authorized, otherwise an error
	VerifyToken(ctx context.Context, rawToken string) (string, error)
}

type SessionVerifierInterface interface {
	// Whoami resolves a session cookie into the signed in principal
	Whoami(ctx context.Context, cookie string) (*types.Principal, error)
}
