// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStream_KilledBySignal(t *testing.T) {
	snaps := collectAll(newTestBridge(newFake("killed")).Stream(context.Background(), request("hi")))
	assertWellFormed(t, snaps)

	last := snaps[len(snaps)-1]
	assert.Equal(t, "x\n\n\n--- Ollama Error (code -9) ---\n", last.Text)
	assert.Equal(t, failure(ErrorRuntime, ""), last.Outcome)
}
