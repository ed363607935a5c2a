// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		outcome bridge.Outcome
		text    string
		want    Status
	}{
		{"streaming", bridge.Outcome{}, "partial", Status{StatusStreaming, LevelInfo}},
		{"success", bridge.Outcome{Kind: bridge.OutcomeSuccess}, "answer", Status{StatusSuccessful, LevelSuccess}},
		{"success blank", bridge.Outcome{Kind: bridge.OutcomeSuccess}, " \n\t", Status{StatusNoOutput, LevelWarning}},
		{"empty", bridge.Outcome{Kind: bridge.OutcomeEmpty}, bridge.MsgEmptyResponse, Status{StatusEmpty, LevelWarning}},
		{"runtime error", bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorRuntime}, "x", Status{StatusIssues, LevelError}},
		{"canceled", bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorCanceled}, bridge.MsgCanceled, Status{StatusIssues, LevelError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.outcome, tt.text))
		})
	}
}

// Error-looking text from a successful run is not treated as a failure.
func TestStatusFor_IgnoresTextContent(t *testing.T) {
	got := StatusFor(bridge.Outcome{Kind: bridge.OutcomeSuccess}, "Error: this is what the model said")
	assert.Equal(t, StatusSuccessful, got.Text)
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(Status{Text: StatusEmpty, Level: LevelWarning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Model returned an empty response.","level":"warning"}`, string(data))
}
