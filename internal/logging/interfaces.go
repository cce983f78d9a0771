// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

type LoggerInterface interface {
	Errorf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Debugf(string, ...interface{})
	Fatalf(string, ...interface{})
	Error(...interface{})
	Info(...interface{})
	Warn(...interface{})
	Debug(...interface{})
	Fatal(...interface{})
	Errorw(string, ...interface{})
	Infow(string, ...interface{})
	Warnw(string, ...interface{})
	Debugw(string, ...interface{})
	Sync() error

	Security() SecurityLoggerInterface
}

// SecurityLoggerInterface emits security relevant events on a dedicated stream.
type SecurityLoggerInterface interface {
	AuthnFailure(reason string, fields ...Field)
	AuthzFailure(user, resource string, fields ...Field)
	AdminAction(user, action, resource string, fields ...Field)
	SystemStartup(fields ...Field)
	SystemShutdown(fields ...Field)
}
