// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Starting, inspecting and cancelling work on an issue
//   - Listing active sessions and pooled workers
//   - Server-sent event streams of session progress
//   - Health checks
//   - Prometheus metrics
//
// Responses use a {success, data} envelope; failures carry
// {success: false, error: {code, message}}.
package http
