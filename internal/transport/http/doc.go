// Package http holds the HTTP transport layer: chi handlers that bind and
// validate requests, call the service layer, and render responses. Errors
// surface as RFC 7807 problem details.
package http
