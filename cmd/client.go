// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// adminClient calls the operator endpoints of a running server.
type adminClient struct {
	endpoint string
	client   *http.Client
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error (status %d, %s): %s", e.Status, e.Code, e.Message)
}

// newAdminClient prefers an explicit --token and falls back to the client
// credentials flow.
func newAdminClient(ctx context.Context) (*adminClient, error) {
	endpoint := httpEndpoint
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}

	var client *http.Client
	switch {
	case accessToken != "":
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	case clientID != "":
		config, err := clientCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client = config.Client(ctx)
	default:
		return nil, fmt.Errorf("either --token or --client-id and --client-secret must be provided")
	}
	client.Timeout = 30 * time.Second

	return &adminClient{endpoint: strings.TrimSuffix(endpoint, "/"), client: client}, nil
}

func (c *adminClient) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	e := new(apiError)
	if err := json.Unmarshal(body, e); err != nil || e.Code == "" {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}
	return e
}

func (c *adminClient) DeleteOrganization(ctx context.Context, organizationID string) error {
	return c.post(ctx, "/api/admin/organizations/"+url.PathEscape(organizationID)+"/delete")
}

func (c *adminClient) DeleteUser(ctx context.Context, userID string) error {
	return c.post(ctx, "/api/admin/users/"+url.PathEscape(userID)+"/delete")
}
