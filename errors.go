package iam

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the backend rejected the credential or none was presented.
	ErrUnauthenticated = errors.New("iam: unauthenticated")

	// ErrForbidden means the credential is valid but lacks the required role.
	ErrForbidden = errors.New("iam: forbidden")

	// ErrMalformedResponse means a backend reply could not be decoded or was incomplete.
	ErrMalformedResponse = errors.New("iam: malformed response")

	// ErrVerificationPending means registration succeeded but no credential was issued yet.
	ErrVerificationPending = errors.New("iam: verification pending")
)

// APIError is a non-2xx reply from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("iam: backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("iam: backend returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps auth status codes onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}
