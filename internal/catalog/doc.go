// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog keeps the list of installed models and the form defaults
// derived from it: the preselected model and the example prompts.
//
// The catalog starts empty and is filled by Refresh, which the server calls at
// startup, on demand, after a config reload and optionally on an interval.
// Readers always get a consistent Snapshot.
package catalog
