// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for reasonweb.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: HTTP listener, prompt size cap and rate limiting
//   - OllamaConfig: How the ollama executable is invoked and timed out
//   - StreamConfig: Typing animation settings
//   - UIConfig: Title, model preferences and offered reasoning modes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (REASONWEB_*)
//   - --config flag path
//   - ~/.reasonweb/config.toml
//   - ~/.reasonweb/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Watch a file and react to edits:
//
//	err := config.Watch(ctx, path, 250*time.Millisecond, func(cfg *config.Config) {
//	    srv.ApplyConfig(cfg)
//	})
package config
