// Copyright (c) Resolve Authors.
// Licensed under the MIT License.

/*
Package handlers provides request handlers for the Resolve HTTP API.

# Overview

handlers implements the research endpoint's surrounding HTTP plumbing —
health checks and the shared response/error envelope — used by cmd/resolve's
server. Every handler follows the standard net/http interface.

# Core types

  - HealthHandler    — service health checks (/health, /healthz, /ready)
  - Response         — unified JSON response envelope (success + data + error + timestamp)
  - ErrorInfo        — structured error info with code, message, retryable flag
  - ResponseWriter   — wraps http.ResponseWriter to capture the status code
  - HealthCheck      — pluggable health check interface (database, redis, ...)

# Capabilities

  - Unified response helpers: WriteSuccess / WriteError / WriteJSON
  - Request validation: DecodeJSONBody (1 MB limit + strict mode), ValidateContentType
  - ErrorCode -> HTTP status mapping (4xx/5xx)
  - Extensible health checks: RegisterCheck for custom HealthCheck implementations
*/
package handlers
