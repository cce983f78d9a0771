// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"go.uber.org/zap"
)

// Field is an extra key/value attached to a security event.
type Field = zap.Field

func String(key, value string) Field {
	return zap.String(key, value)
}

const (
	eventAuthnFailure   = "authn_failure"
	eventAuthzFailure   = "authz_failure"
	eventAdminAction    = "admin_action"
	eventSystemStartup  = "sys_startup"
	eventSystemShutdown = "sys_shutdown"
)

type SecurityLogger struct {
	l *zap.Logger
}

func (s *SecurityLogger) AuthnFailure(reason string, fields ...Field) {
	s.l.Warn("authentication failure", append(fields, zap.String("event", eventAuthnFailure), zap.String("reason", reason))...)
}

func (s *SecurityLogger) AuthzFailure(user, resource string, fields ...Field) {
	s.l.Warn(
		"authorization failure",
		append(fields, zap.String("event", eventAuthzFailure), zap.String("user", user), zap.String("resource", resource))...,
	)
}

func (s *SecurityLogger) AdminAction(user, action, resource string, fields ...Field) {
	s.l.Info(
		"admin action",
		append(fields, zap.String("event", eventAdminAction), zap.String("user", user), zap.String("action", action), zap.String("resource", resource))...,
	)
}

func (s *SecurityLogger) SystemStartup(fields ...Field) {
	s.l.Info("system startup", append(fields, zap.String("event", eventSystemStartup))...)
}

func (s *SecurityLogger) SystemShutdown(fields ...Field) {
	s.l.Info("system shutdown", append(fields, zap.String("event", eventSystemShutdown))...)
}

func newSecurityLogger(l *zap.Logger) *SecurityLogger {
	return &SecurityLogger{l: l.With(zap.String("type", "security"))}
}
