// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package kratos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
)

const identityJSON = `{"id":"user-1","schema_id":"default","schema_url":"http://kratos/schemas/default","traits":{"email":"Bob@X.com"}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logging.NewNoopLogger()
	return NewClient(srv.URL, srv.URL, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("test", logger), logger)
}

func TestClient_GetIdentityIDByEmail(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectedID string
	}{
		{name: "identity found", body: "[" + identityJSON + "]", expectedID: "user-1"},
		{name: "no identity", body: "[]", expectedID: ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/admin/identities" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("credentials_identifier"); got != "bob@x.com" {
					t.Errorf("expected lower cased identifier, got %q", got)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(test.body))
			})

			id, err := c.GetIdentityIDByEmail(context.Background(), "Bob@X.com")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != test.expectedID {
				t.Errorf("expected %q, got %q", test.expectedID, id)
			}
		})
	}
}

func TestClient_DeleteIdentityAndSessions(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusNotFound},
		{name: "upstream failure", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var paths []string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("expected DELETE, got %s", r.Method)
				}
				paths = append(paths, r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(test.status)
				if test.status >= 400 {
					fmt.Fprintf(w, `{"error":{"code":%d,"message":"error"}}`, test.status)
				}
			})

			err := c.RevokeSessions(context.Background(), "user-1")
			if (err != nil) != test.wantErr {
				t.Errorf("RevokeSessions: expected error %v, got %v", test.wantErr, err)
			}

			err = c.DeleteIdentity(context.Background(), "user-1")
			if (err != nil) != test.wantErr {
				t.Errorf("DeleteIdentity: expected error %v, got %v", test.wantErr, err)
			}

			expected := []string{"/admin/identities/user-1/sessions", "/admin/identities/user-1"}
			if len(paths) != 2 || paths[0] != expected[0] || paths[1] != expected[1] {
				t.Errorf("expected calls %v, got %v", expected, paths)
			}
		})
	}
}

func TestClient_Whoami(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		expectedUser  string
		expectedEmail string
		expectedErr   error
	}{
		{
			name:          "active session",
			status:        http.StatusOK,
			body:          `{"id":"session-1","active":true,"identity":` + identityJSON + `}`,
			expectedUser:  "user-1",
			expectedEmail: "bob@x.com",
		},
		{
			name:        "inactive session",
			status:      http.StatusOK,
			body:        `{"id":"session-1","active":false,"identity":` + identityJSON + `}`,
			expectedErr: ErrNoSession,
		},
		{
			name:        "no session",
			status:      http.StatusUnauthorized,
			body:        `{"error":{"code":401,"message":"no session"}}`,
			expectedErr: ErrNoSession,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/sessions/whoami" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.Header.Get("Cookie") != "ory_kratos_session=abc" {
					t.Errorf("expected cookie to be forwarded, got %q", r.Header.Get("Cookie"))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			})

			p, err := c.Whoami(context.Background(), "ory_kratos_session=abc")
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}
			if test.expectedErr != nil {
				return
			}
			if p.UserID != test.expectedUser || p.Email != test.expectedEmail {
				t.Errorf("unexpected principal %+v", p)
			}
		})
	}
}
