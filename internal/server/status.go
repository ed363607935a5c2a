// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/util"
)

// Level is the severity shown next to a status line.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Status line texts.
const (
	StatusPreparing  = "Processing... Preparing to stream response."
	StatusStreaming  = "Streaming response..."
	StatusIssues     = "Completed with issues."
	StatusEmpty      = "Model returned an empty response."
	StatusNoOutput   = "Completed, but no substantive output received."
	StatusSuccessful = "Response generated successfully!"
)

// Status is a rendered status line.
type Status struct {
	Text  string `json:"status"`
	Level Level  `json:"level"`
}

// StatusFor maps a final outcome and its text to the status line. A snapshot
// that is not final maps to the streaming status.
func StatusFor(o bridge.Outcome, text string) Status {
	switch o.Kind {
	case bridge.OutcomeError:
		return Status{Text: StatusIssues, Level: LevelError}
	case bridge.OutcomeEmpty:
		return Status{Text: StatusEmpty, Level: LevelWarning}
	case bridge.OutcomeSuccess:
		if util.IsBlank(text) {
			return Status{Text: StatusNoOutput, Level: LevelWarning}
		}
		return Status{Text: StatusSuccessful, Level: LevelSuccess}
	default:
		return Status{Text: StatusStreaming, Level: LevelInfo}
	}
}
