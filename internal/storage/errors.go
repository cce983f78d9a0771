// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrDuplicateKey        = errors.New("duplicate key violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrVersionConflict means the organization changed since it was read.
	ErrVersionConflict = errors.New("organization version conflict")
)

// constraint violation codes raised by the membership schema
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// wrapPgError maps constraint violations onto the storage sentinels, the
// single owner index surfaces as ErrDuplicateKey.
func wrapPgError(err error, msg string) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w", msg, ErrDuplicateKey)
	case codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", msg, ErrForeignKeyViolation)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
