// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jenkins

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrDuplicateSubmission is returned by SubmitBuild when Jenkins
// already has an identical request queued.
var ErrDuplicateSubmission = errors.New("jenkins: build already queued")

// APIError is a non-2xx response from Jenkins.
type APIError struct {
	StatusCode int
	Method     string
	Path       string

	// Message is the first line of the response body.
	Message string
}

func (err *APIError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("jenkins: %s %s: HTTP %d", err.Method, err.Path, err.StatusCode)
	}
	return fmt.Sprintf("jenkins: %s %s: HTTP %d: %s", err.Method, err.Path, err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a 404 from Jenkins. A queue item
// that has been garbage-collected and a build number that never
// existed both produce this.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsForbidden reports whether err is a 403, which Jenkins returns for
// bad credentials and for a stale CSRF crumb.
func IsForbidden(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusForbidden
}
