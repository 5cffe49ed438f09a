// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels matched by errors.Is against an *APIError.
var (
	// ErrNotFound matches a 404: an unknown repository, commit or pull
	// request, or a token that cannot see the repository.
	ErrNotFound = errors.New("github: not found")

	// ErrUnknownCommit matches the 422 GitHub returns for a status
	// posted on a SHA it has never seen.
	ErrUnknownCommit = errors.New("github: unknown commit")

	// ErrRateLimited matches a primary (403) or secondary (429) rate
	// limit response. Reads see it only when still limited after one
	// backoff; writes see it on the first limited response.
	ErrRateLimited = errors.New("github: rate limited")
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Message    string

	// Fields lists the per-field failures of a 422 response.
	Fields []FieldError
}

// FieldError is one entry of a 422 response's "errors" array.
type FieldError struct {
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (field FieldError) String() string {
	detail := field.Message
	if detail == "" {
		detail = field.Code
	}
	return field.Resource + "." + field.Field + ": " + detail
}

func (err *APIError) Error() string {
	message := fmt.Sprintf("github: HTTP %d: %s", err.StatusCode, err.Message)
	if len(err.Fields) == 0 {
		return message
	}
	details := make([]string, len(err.Fields))
	for index, field := range err.Fields {
		details[index] = field.String()
	}
	return message + " (" + strings.Join(details, "; ") + ")"
}

// Is maps the response onto the package sentinels.
func (err *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return err.StatusCode == http.StatusNotFound
	case ErrUnknownCommit:
		return err.StatusCode == http.StatusUnprocessableEntity
	case ErrRateLimited:
		return isRateLimitResponse(err.StatusCode, err.Message)
	}
	return false
}

// isRateLimitResponse separates a rate-limit 403 from a permission
// 403 by its message.
func isRateLimitResponse(statusCode int, message string) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		lower := strings.ToLower(message)
		return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
	}
	return false
}
