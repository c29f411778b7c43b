// Copyright (c) Resolve Authors.
// Licensed under the MIT License.

/*
Package main provides the resolve command-line entry point.

# Overview

cmd/resolve is the executable front door to the research pipeline: it
wires together configuration loading, provider registration, the
classifier, context detector, cache store, vector index, research
engine, and feedback sink into a single Pipeline, then drives it from
either a one-shot CLI query or a long-running serve loop.

# Core types

  - none exported; main wires concrete constructors from config,
    provider/{openai,anthropic,gemini}, provider/manager, classify,
    ctxdetect, store, vector, embedding, engine, feedback and pipeline.

# Capabilities

  - Subcommand "research": runs a single query end-to-end and prints the
    resulting ResearchResult as JSON, honoring --provider, --cross-validate
    and --quality-threshold.
  - Subcommand "serve": starts the pipeline behind the config hot-reload
    manager and a metrics endpoint, for long-running deployments.
  - Subcommand "version": prints build metadata.
  - Environment-sourced provider API keys, with placeholder detection per
    the external interface contract.
*/
package main
