// Package api provides the HTTP API envelope types for the Resolve
// research service.
//
// This package contains the shared request/response shapes used by
// cmd/resolve's HTTP server.
//
// # API Overview
//
// Resolve exposes a RESTful API for:
//   - Running a single query through the research pipeline (POST /v1/research)
//   - Health monitoring and metrics
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
