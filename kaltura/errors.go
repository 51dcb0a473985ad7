package kaltura

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a structured KalturaAPIException returned by the service.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error ...
func (e *APIError) Error() string {
	return fmt.Sprintf("kaltura api error %s: %s", e.Code, e.Message)
}

// transientAPICodes are service-side conditions worth retrying against the
// same upload token.
var transientAPICodes = map[string]bool{
	"INTERNAL_DATABASE_ERROR": true,
	"SERVICE_UNAVAILABLE":     true,
	"UPLOAD_ERROR":            true,
	"QUERY_TIMEOUT":           true,
	"CONCURRENT_UPLOAD_LIMIT": true,
}

// Transient reports whether the failure is worth retrying. Auth, quota and
// not-found conditions are permanent.
func (e *APIError) Transient() bool {
	return transientAPICodes[e.Code]
}

type exceptionProbe struct {
	ObjectType string `json:"objectType"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// parseAPIError returns the exception carried in body, if any. The API wraps
// failures in HTTP 200 responses, so this must run on every body.
func parseAPIError(body []byte) *APIError {
	var probe exceptionProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		// Scalar responses (e.g. a bare KS string) are not exceptions.
		return nil
	}
	if probe.ObjectType != "KalturaAPIException" {
		return nil
	}
	return &APIError{Code: probe.Code, Message: probe.Message}
}

// statusError is a non-2xx response without a structured exception body.
type statusError struct {
	status int
	body   string
}

// Error ...
func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.status, e.body)
}

// Transient ...
func (e *statusError) Transient() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// transportError is a network-level failure: dial, reset, attempt timeout.
type transportError struct {
	err error
}

// Error ...
func (e *transportError) Error() string {
	return fmt.Sprintf("transport: %s", e.err)
}

// Unwrap ...
func (e *transportError) Unwrap() error {
	return e.err
}

// Transient ...
func (e *transportError) Transient() bool {
	return true
}
