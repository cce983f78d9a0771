// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
)

var ErrAccessDenied = errors.New("token does not grant admin access")

// AdminPolicy grants access to tokens whose subject is listed or that carry
// Scope. An empty policy grants nothing.
type AdminPolicy struct {
	Subjects []string
	Scope    string
}

func (p AdminPolicy) Empty() bool {
	return len(p.Subjects) == 0 && p.Scope == ""
}

func (p AdminPolicy) Allows(c adminClaims) bool {
	if slices.Contains(p.Subjects, c.Subject) {
		return true
	}
	return p.Scope != "" && slices.Contains(c.scopes(), p.Scope)
}

// adminClaims accepts both the space separated `scope` claim and the `scp` array.
type adminClaims struct {
	Subject string   `json:"sub"`
	Scope   string   `json:"scope"`
	Scp     []string `json:"scp"`
}

func (c adminClaims) scopes() []string {
	return append(strings.Fields(c.Scope), c.Scp...)
}

// JWTVerifier checks bearer tokens of operator clients calling the admin routes.
type JWTVerifier struct {
	verifier *oidc.IDTokenVerifier
	policy   AdminPolicy

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (v *JWTVerifier) VerifyToken(ctx context.Context, rawToken string) (string, error) {
	ctx, span := v.tracer.Start(ctx, "authentication.JWTVerifier.VerifyToken")
	defer span.End()

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims := adminClaims{}
	if err := token.Claims(&claims); err != nil {
		return "", fmt.Errorf("unreadable token claims: %w", err)
	}

	if !v.policy.Allows(claims) {
		v.logger.Security().AuthzFailure(claims.Subject, "admin_api")
		return "", ErrAccessDenied
	}

	return claims.Subject, nil
}

// NewJWTVerifier builds a verifier for issuer. Keys come from jwksURL when set,
// otherwise from OIDC discovery on the issuer.
func NewJWTVerifier(
	ctx context.Context,
	issuer, jwksURL string,
	policy AdminPolicy,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) (*JWTVerifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required for JWT authentication")
	}
	if policy.Empty() {
		return nil, fmt.Errorf("admin policy needs allowed subjects or a required scope")
	}

	ctx = oidc.ClientContext(ctx, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	config := &oidc.Config{SkipClientIDCheck: true}

	var keys oidc.KeySet
	if jwksURL != "" {
		logger.Infof("Admin tokens verified against JWKS %s", jwksURL)
		keys = oidc.NewRemoteKeySet(ctx, jwksURL)
	} else {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover issuer %s: %w", issuer, err)
		}
		logger.Infof("Admin tokens verified through discovery on %s", issuer)
		return newJWTVerifier(provider.Verifier(config), policy, tracer, monitor, logger), nil
	}

	return newJWTVerifier(oidc.NewVerifier(issuer, keys, config), policy, tracer, monitor, logger), nil
}

func newJWTVerifier(verifier *oidc.IDTokenVerifier, policy AdminPolicy, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *JWTVerifier {
	return &JWTVerifier{
		verifier: verifier,
		policy:   policy,
		tracer:   tracer,
		monitor:  monitor,
		logger:   logger,
	}
}
