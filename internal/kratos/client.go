// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package kratos

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	ory "github.com/ory/client-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
)

var _ ClientInterface = (*Client)(nil)

type Client struct {
	admin  *ory.APIClient
	public *ory.APIClient

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func newAPIClient(url string) *ory.APIClient {
	conf := ory.NewConfiguration()
	conf.Servers = ory.ServerConfigurations{{URL: url}}
	conf.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return ory.NewAPIClient(conf)
}

func NewClient(kratosAdminURL, kratosPublicURL string, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Client {
	return &Client{
		admin:   newAPIClient(kratosAdminURL),
		public:  newAPIClient(kratosPublicURL),
		tracer:  tracer,
		monitor: monitor,
		logger:  logger,
	}
}

func (c *Client) GetIdentityIDByEmail(ctx context.Context, email string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "kratos.GetIdentityIDByEmail")
	defer span.End()

	// NOTE: we are setting an empty page token because of https://github.com/ory/sdk/issues/461
	ids, r, err := c.admin.IdentityAPI.ListIdentities(ctx).CredentialsIdentifier(strings.ToLower(email)).PageToken("").Execute()
	if err != nil {
		if r != nil && r.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to list identities: %w", err)
	}

	if len(ids) == 0 {
		return "", nil
	}

	return ids[0].Id, nil
}

// DeleteIdentity removes the identity record, a missing identity counts as deleted.
func (c *Client) DeleteIdentity(ctx context.Context, identityID string) error {
	ctx, span := c.tracer.Start(ctx, "kratos.DeleteIdentity")
	defer span.End()

	r, err := c.admin.IdentityAPI.DeleteIdentity(ctx, identityID).Execute()
	if err != nil {
		if r != nil && r.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	return nil
}

// RevokeSessions invalidates every session of the identity, a missing identity has none.
func (c *Client) RevokeSessions(ctx context.Context, identityID string) error {
	ctx, span := c.tracer.Start(ctx, "kratos.RevokeSessions")
	defer span.End()

	r, err := c.admin.IdentityAPI.DeleteIdentitySessions(ctx, identityID).Execute()
	if err != nil {
		if r != nil && r.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	return nil
}

// Whoami resolves the session carried by the cookie header into a principal.
func (c *Client) Whoami(ctx context.Context, cookie string) (*types.Principal, error) {
	ctx, span := c.tracer.Start(ctx, "kratos.Whoami")
	defer span.End()

	session, r, err := c.public.FrontendAPI.ToSession(ctx).Cookie(cookie).Execute()
	if err != nil {
		if r != nil && (r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden) {
			return nil, ErrNoSession
		}
		c.monitor.SetDependencyAvailability(map[string]string{"component": "kratos"}, 0)
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	if !session.GetActive() {
		return nil, ErrNoSession
	}

	identity := session.GetIdentity()

	p := &types.Principal{UserID: identity.Id}
	if traits, ok := identity.GetTraits().(map[string]interface{}); ok {
		if email, ok := traits["email"].(string); ok {
			p.Email = strings.ToLower(email)
		}
	}

	if p.UserID == "" {
		return nil, ErrNoSession
	}

	return p, nil
}
