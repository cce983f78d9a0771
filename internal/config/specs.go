// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"time"
)

// EnvSpec is the basic environment configuration setup needed for the app to start
type EnvSpec struct {
	OtelGRPCEndpoint string `envconfig:"otel_grpc_endpoint"`
	OtelHTTPEndpoint string `envconfig:"otel_http_endpoint"`
	TracingEnabled   bool   `envconfig:"tracing_enabled" default:"true"`

	LogLevel string `envconfig:"log_level" default:"error"`
	Debug    bool   `envconfig:"debug" default:"false"`

	Port int `envconfig:"port" default:"8080"`

	StorageDriver string `envconfig:"storage_driver" default:"postgres"`

	DSN string `envconfig:"DSN"`

	DBMaxConns        int32         `envconfig:"db_max_conns" default:"25"`
	DBMinConns        int32         `envconfig:"db_min_conns" default:"2"`
	DBMaxConnLifetime time.Duration `envconfig:"db_max_conn_lifetime" default:"1h"`
	DBMaxConnIdleTime time.Duration `envconfig:"db_max_conn_idle_time" default:"30m"`

	KratosAdminURL    string `envconfig:"kratos_admin_url" required:"true"`
	KratosPublicURL   string `envconfig:"kratos_public_url" required:"true"`
	SessionCookieName string `envconfig:"session_cookie_name" default:"ory_kratos_session"`

	CSRFAuthKey      string   `envconfig:"csrf_auth_key" required:"true"`
	CSRFSecureCookie bool     `envconfig:"csrf_secure_cookie" default:"true"`
	CSRFPlaintext    bool     `envconfig:"csrf_plaintext" default:"false"`
	TrustedOrigins   []string `envconfig:"trusted_origins"`
	CORSAllowedHosts []string `envconfig:"cors_allowed_origins" default:"*"`

	StripeSecretKey     string `envconfig:"stripe_secret_key"`
	StripeWebhookSecret string `envconfig:"stripe_webhook_secret"`

	RedisURL            string `envconfig:"redis_url"`
	NotificationsStream string `envconfig:"notifications_stream" default:"membership:notifications"`
	InviteBaseURL       string `envconfig:"invite_base_url" default:"http://localhost:3000/auth/sign-up"`
	AppHomePath         string `envconfig:"app_home_path" default:"/dashboard"`

	OptimisticRetries int `envconfig:"optimistic_retries" default:"5"`

	RateLimitRPS   int `envconfig:"rate_limit_rps" default:"20"`
	RateLimitBurst int `envconfig:"rate_limit_burst" default:"40"`

	AdminJWTIssuer       string   `envconfig:"admin_jwt_issuer"`
	AdminJWKSURL         string   `envconfig:"admin_jwks_url"`
	AdminAllowedSubjects []string `envconfig:"admin_allowed_subjects"`
	AdminRequiredScope   string   `envconfig:"admin_required_scope" default:"membership:admin"`
}
