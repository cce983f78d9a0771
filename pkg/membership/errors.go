// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrEmailMismatch = errors.New("invite was issued to a different email")
	ErrAlreadyMember = errors.New("user is already a member")
	// ErrConflict is returned once optimistic retries are exhausted.
	ErrConflict = errors.New("organization was modified concurrently")

	errStaleSubscription = errors.New("subscription update is older than the stored state")
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries one entry per rejected input field, batch rows use
// indexed field names such as "invites[2].email".
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Add(field, code, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Errors) > 0
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, f := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func newValidationError(field, code, message string) *ValidationError {
	e := new(ValidationError)
	e.Add(field, code, message)
	return e
}

type UpstreamBillingError struct {
	SubscriptionID string
	Err            error
}

func (e *UpstreamBillingError) Error() string {
	return fmt.Sprintf("failed to cancel subscription %s: %v", e.SubscriptionID, e.Err)
}

func (e *UpstreamBillingError) Unwrap() error {
	return e.Err
}
