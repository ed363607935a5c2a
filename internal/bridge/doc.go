// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bridge streams model output from `ollama run` as growing text
// snapshots.
//
// A stream validates the request (model, prompt, service availability and
// installed models), spawns the model, writes the prompt with its reasoning
// mode directive to stdin and closes it, then emits the accumulated text after
// every character read from stdout. The last snapshot carries a tagged
// Outcome so callers never inspect the text to learn what happened.
//
// # Key Types
//
//   - Bridge: Produces snapshot sequences; safe for concurrent use
//   - Request: Model, prompt and reasoning mode of one submission
//   - Snapshot: Accumulated text, final flag and outcome
//   - Outcome: Success, Empty or Error with an ErrorKind
//   - Typist: Optional per-character pacing
//
// # Usage
//
//	b := bridge.New(client, bridge.Config{CharDelay: 20 * time.Millisecond})
//	for snap := range b.Stream(ctx, bridge.Request{Model: "qwen3:4b", Prompt: p, Mode: bridge.ModeThink}) {
//	    render(snap.Text)
//	    if snap.Final {
//	        report(snap.Outcome)
//	    }
//	}
//
// Breaking out of the loop or canceling ctx kills the model process.
package bridge
