// Package http provides the administrative REST API.
//
// The HTTP server exposes endpoints for:
//   - Graph submission and dependency management
//   - Work item and edge queries
//   - Fleet inspection and broadcasts
//   - Trigger management
//   - Health checks and Prometheus metrics
package http
