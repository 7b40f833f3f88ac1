package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/problem+json")
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 problem details response
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// ProblemFromStatus creates a ProblemDetails from an HTTP status code
func ProblemFromStatus(status int, detail, traceID string) *ProblemDetails {
	var title, problemType string

	switch status {
	case http.StatusBadRequest:
		title = "Bad Request"
		problemType = "/errors/bad-request"
	case http.StatusUnauthorized:
		title = "Unauthorized"
		problemType = "/errors/unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
		problemType = "/errors/forbidden"
	case http.StatusNotFound:
		title = "Not Found"
		problemType = "/errors/not-found"
	case http.StatusConflict:
		title = "Conflict"
		problemType = "/errors/conflict"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
		problemType = "/errors/rate-limit-exceeded"
	case http.StatusInternalServerError:
		title = "Internal Server Error"
		problemType = "/errors/internal-server-error"
	case http.StatusServiceUnavailable:
		title = "Service Unavailable"
		problemType = "/errors/service-unavailable"
	case http.StatusGatewayTimeout:
		title = "Gateway Timeout"
		problemType = "/errors/gateway-timeout"
	default:
		title = http.StatusText(status)
		problemType = "/errors/unknown"
	}

	pd := NewProblemDetails(status, problemType, title, detail, "")
	if traceID != "" {
		pd.WithExtension("trace_id", traceID)
	}
	return pd
}

// MapError converts domain errors to RFC 7807 problem details.
// Storage failures deliberately map to a generic 500: the real cause is
// logged server-side, never exposed to the caller.
func MapError(err error, traceID string) *ProblemDetails {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return ProblemFromStatus(http.StatusBadRequest, err.Error(), traceID)
	case errors.Is(err, ErrLicenseNotFound):
		return ProblemFromStatus(http.StatusNotFound, "License not found", traceID)
	case errors.Is(err, ErrStorageUnavailable):
		return ProblemFromStatus(http.StatusInternalServerError, "A storage error occurred while processing the request", traceID)
	case errors.Is(err, context.DeadlineExceeded):
		return ProblemFromStatus(http.StatusGatewayTimeout, "The request timed out while processing", traceID)
	case errors.Is(err, context.Canceled):
		return ProblemFromStatus(http.StatusRequestTimeout, "The request was canceled before completion", traceID)
	default:
		return ProblemFromStatus(http.StatusInternalServerError, "An unexpected error occurred", traceID)
	}
}
