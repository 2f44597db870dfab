// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers can use errors.As to extract the structured
// information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN", "M_UNKNOWN_TOKEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// IsMatrixError checks whether err is a *MatrixError with the given
// error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// AuthRetryExhaustedError reports that a request was rejected as
// unauthorized on both the header-auth attempt and the query-parameter
// fallback attempt. The token is bad (or the server rejects both
// schemes) — retrying the same request cannot succeed.
type AuthRetryExhaustedError struct {
	// HeaderErr is the 401 from the Authorization-header attempt.
	HeaderErr error
	// QueryErr is the 401 from the access_token query-parameter attempt.
	QueryErr error
}

func (e *AuthRetryExhaustedError) Error() string {
	return fmt.Sprintf("messaging: both auth schemes rejected: header: %v; query: %v", e.HeaderErr, e.QueryErr)
}

// Unwrap returns the error from the final (query-parameter) attempt.
func (e *AuthRetryExhaustedError) Unwrap() error { return e.QueryErr }

// isAuthFailure reports whether err is a 401 response — the trigger
// for the query-parameter auth fallback.
func isAuthFailure(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.StatusCode == http.StatusUnauthorized
}
