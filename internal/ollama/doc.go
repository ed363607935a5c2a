// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama runs the ollama command-line tool.
//
// Every operation spawns the executable: `list` for model discovery, a health
// subcommand (`ps` by default) for availability, and `run <model>` commands
// built for the streaming bridge. Nothing talks to the Ollama HTTP API.
//
// # Key Types
//
//   - Client: Bounded invocations of the executable
//   - ClientConfig: Binary, health arguments, timeouts and the command factory
//   - CommandError: Typed failure with exit code and captured stderr
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{Binary: "ollama"})
//	if client.IsAvailable(ctx) {
//	    for _, m := range client.ListModels(ctx) {
//	        fmt.Println(m)
//	    }
//	}
//
// ListModels and IsAvailable never return errors; Models and CheckRunning
// expose the underlying CommandError for callers that report it.
package ollama
