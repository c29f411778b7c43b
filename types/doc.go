// Copyright (c) Resolve Authors.
// Licensed under the MIT License.

/*
Package types provides the shared error vocabulary used across Resolve's
HTTP surface.

# Overview

types is the lowest-level package in the module: it has no internal
dependencies, so the api/handlers package and anything else that needs a
structured, HTTP-mappable error can import it without risking an import
cycle.

# Core types

  - ErrorCode — a stable, machine-readable error classification
  - Error     — a structured error carrying a code, message, HTTP status,
    retryability, and an optional wrapped cause

# Capabilities

  - NewError / WithCause / WithHTTPStatus / WithRetryable / WithProvider
    build up an *Error fluently
  - IsRetryable / GetErrorCode extract classification from an arbitrary
    error via a type assertion
*/
package types
