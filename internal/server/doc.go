// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server serves the browser front end for local Ollama models.
//
// The page lets the user pick an installed model, type a prompt, choose a
// reasoning mode and watch the answer appear as it is produced. Generations
// are delivered as server-sent events over a POST request, so the page reads
// them with fetch instead of EventSource.
//
// # Endpoints
//
//   - GET  /                   - Prompt form (embedded template)
//   - GET  /static/*           - Embedded JS and CSS
//   - POST /api/generate       - Stream a generation as SSE
//   - GET  /api/models         - Current model catalog
//   - POST /api/models/refresh - Re-list models and return the catalog
//   - GET  /health             - Liveness and Ollama status
//
// # Event Stream
//
// POST /api/generate answers with, in order:
//
//	event: status    {"status": "Processing... Preparing to stream response.", "level": "info"}
//	event: status    {"status": "Streaming response...", "level": "info"}
//	event: snapshot  {"text": "<full text so far>"}   (repeated)
//	event: done      {"status": ..., "level": ..., "outcome": {...}, "text": ..., "elapsed_ms": ...}
//
// Snapshots carry the whole accumulated text, never a delta. A request that
// fails before the model produces anything goes straight to done.
//
// # Middleware
//
// Every route runs behind recovery, request IDs, security headers and request
// logging. /api/generate is additionally rate limited per client IP.
//
// # Usage
//
//	srv, err := server.New(server.Options{Config: cfg, Version: version})
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server
