// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/canonical/membership-service/internal/logging"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Status  int          `json:"status"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, logger logging.LoggerInterface, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("failed to encode %d response: %v", status, err)
	}
}

func writeSuccess(w http.ResponseWriter, logger logging.LoggerInterface) {
	writeJSON(w, logger, http.StatusOK, successResponse{Success: true})
}

// errorResponse maps engine errors to a stable status and code. Unknown
// errors are reported as internal without leaking their text.
func errorResponse(err error) ErrorResponse {
	var (
		validationErr *ValidationError
		billingErr    *UpstreamBillingError
	)

	switch {
	case errors.As(err, &validationErr):
		return ErrorResponse{
			Status:  http.StatusBadRequest,
			Code:    "validation_error",
			Message: "request is invalid",
			Errors:  validationErr.Errors,
		}
	case errors.Is(err, ErrEmailMismatch):
		return ErrorResponse{Status: http.StatusForbidden, Code: "email_mismatch", Message: "invite was issued to a different email address"}
	case errors.Is(err, ErrForbidden):
		return ErrorResponse{Status: http.StatusForbidden, Code: "forbidden", Message: "not allowed to perform this action"}
	case errors.Is(err, ErrNotFound):
		return ErrorResponse{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	case errors.Is(err, ErrAlreadyMember):
		return ErrorResponse{Status: http.StatusConflict, Code: "already_member", Message: "user is already a member of the organization"}
	case errors.Is(err, ErrConflict):
		return ErrorResponse{Status: http.StatusConflict, Code: "conflict", Message: "organization was modified concurrently, retry the request"}
	case errors.As(err, &billingErr):
		return ErrorResponse{Status: http.StatusBadGateway, Code: "billing_unavailable", Message: "billing provider unavailable, nothing was deleted, retry later"}
	default:
		return ErrorResponse{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"}
	}
}

func writeError(w http.ResponseWriter, logger logging.LoggerInterface, err error) {
	resp := errorResponse(err)
	if resp.Status >= http.StatusInternalServerError {
		logger.Errorf("request failed: %v", err)
	} else {
		logger.Debugf("request rejected: %v", err)
	}
	writeJSON(w, logger, resp.Status, resp)
}

func writeUnauthenticated(w http.ResponseWriter, logger logging.LoggerInterface) {
	writeJSON(w, logger, http.StatusUnauthorized, ErrorResponse{
		Status:  http.StatusUnauthorized,
		Code:    "unauthenticated",
		Message: "missing session",
	})
}

// newValidator reports struct errors under their json field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a single JSON document and validates it when dst is a struct.
func decodeBody(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return newValidationError("body", "required", "request body is required")
		}
		return newValidationError("body", "malformed", "request body is not valid JSON")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return newValidationError("body", "malformed", "unexpected data after JSON body")
	}

	if reflect.Indirect(reflect.ValueOf(dst)).Kind() != reflect.Struct {
		return nil
	}

	if err := v.Struct(dst); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return err
		}
		out := new(ValidationError)
		for _, fe := range errs {
			out.Add(fe.Field(), fe.Tag(), fieldMessage(fe))
		}
		return out
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fe.Field() + " is invalid"
	}
}
