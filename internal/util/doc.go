// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the reasonweb packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis (log previews)
//   - TruncateWidth: display-width truncation for terminal status lines
//   - IsBlank: whitespace-only check
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	log.Printf("GENERATE_START | prompt=%q", util.TruncateRunes(prompt, 60))
//	fmt.Println(util.TruncateWidth(status, width))
package util
