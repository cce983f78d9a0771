// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ LoggerInterface = (*Logger)(nil)

type Logger struct {
	*zap.SugaredLogger

	security *SecurityLogger
}

func (l *Logger) Security() SecurityLoggerInterface {
	return l.security
}

// NewLogger creates a JSON logger at the given level; an unknown level panics.
func NewLogger(l string) *Logger {
	level, err := zapcore.ParseLevel(l)
	if err != nil {
		panic(fmt.Sprintf("invalid log level %q: %v", l, err))
	}

	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(level)
	c.EncoderConfig.TimeKey = "@timestamp"
	c.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	if level == zapcore.DebugLevel {
		c.Development = true
	}

	z, err := c.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}

	logger := new(Logger)
	logger.SugaredLogger = z.Sugar()
	logger.security = newSecurityLogger(z)

	return logger
}
