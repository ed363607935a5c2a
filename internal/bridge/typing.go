// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"time"
	"unicode"
)

// DefaultCharDelay is the pause after each visible character.
const DefaultCharDelay = 20 * time.Millisecond

// Typist paces emitted characters to simulate typing.
// A Typist with zero Delay never sleeps.
type Typist struct {
	Delay time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewTypist creates a Typist that pauses delay after each non-whitespace rune.
func NewTypist(delay time.Duration) *Typist {
	return &Typist{Delay: delay, sleep: sleepContext}
}

// Enabled reports whether the typist introduces any delay.
func (t *Typist) Enabled() bool {
	return t != nil && t.Delay > 0
}

// Pause waits after r was emitted. Whitespace is never delayed.
// Returns false if ctx ended while waiting.
func (t *Typist) Pause(ctx context.Context, r rune) bool {
	if !t.Enabled() || unicode.IsSpace(r) {
		return ctx.Err() == nil
	}
	sleep := t.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, t.Delay)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
