// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the reasonweb command line.
//
// The default command starts the web UI. The other commands reach the same
// Ollama backend from a terminal, which is handy for checking a setup before
// opening the browser.
//
// # Commands
//
//   - serve:   Start the web UI (default when no command is given)
//   - ask:     Stream a single answer to stdout
//   - chat:    Interactive prompt loop with line editing and history
//   - models:  List installed models, marking the preselected one
//   - status:  Ollama and configuration status
//   - version: Version information
//
// ask, models, status and version accept --json for scripting.
//
// # Usage
//
//	os.Exit(cli.Execute())
package cli
