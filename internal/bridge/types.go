// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"fmt"
	"strings"
)

// =============================================================================
// REQUEST
// =============================================================================

// Mode is the reasoning mode appended to the prompt as a slash directive.
type Mode string

const (
	// ModeThink asks the model to reason step by step.
	ModeThink Mode = "think"

	// ModeNoThink asks the model for a direct answer.
	ModeNoThink Mode = "no_think"
)

// Request is a single generation submission.
type Request struct {
	Model  string
	Prompt string
	Mode   Mode
}

// ComposePrompt returns the line written to the model's stdin, without the
// trailing newline: the trimmed prompt followed by " /" and the mode.
func ComposePrompt(prompt string, mode Mode) string {
	return strings.TrimSpace(prompt) + " /" + string(mode)
}

// =============================================================================
// OUTCOME
// =============================================================================

// OutcomeKind classifies how a generation ended.
type OutcomeKind int

const (
	// OutcomeNone marks snapshots that are not final.
	OutcomeNone OutcomeKind = iota
	OutcomeSuccess
	OutcomeEmpty
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeError:
		return "error"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*k = OutcomeSuccess
	case "empty":
		*k = OutcomeEmpty
	case "error":
		*k = OutcomeError
	case "none", "":
		*k = OutcomeNone
	default:
		return fmt.Errorf("unknown outcome kind %q", text)
	}
	return nil
}

// ErrorKind categorizes failed generations.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	// ErrorValidation: missing model or blank prompt.
	ErrorValidation
	// ErrorEnvironment: ollama not running, model missing or executable not found.
	ErrorEnvironment
	// ErrorRuntime: the model process exited non-zero.
	ErrorRuntime
	// ErrorTimeout: the process did not exit within the wait timeout.
	ErrorTimeout
	// ErrorCanceled: the request context ended before completion.
	ErrorCanceled
	// ErrorUnexpected: pipe, write or read failures.
	ErrorUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorValidation:
		return "validation"
	case ErrorEnvironment:
		return "environment"
	case ErrorRuntime:
		return "runtime"
	case ErrorTimeout:
		return "timeout"
	case ErrorCanceled:
		return "canceled"
	case ErrorUnexpected:
		return "unexpected"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "validation":
		*k = ErrorValidation
	case "environment":
		*k = ErrorEnvironment
	case "runtime":
		*k = ErrorRuntime
	case "timeout":
		*k = ErrorTimeout
	case "canceled":
		*k = ErrorCanceled
	case "unexpected":
		*k = ErrorUnexpected
	case "none", "":
		*k = ErrorNone
	default:
		return fmt.Errorf("unknown error kind %q", text)
	}
	return nil
}

// Outcome is the tagged result carried by the final snapshot.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Err is set when Kind is OutcomeError.
	Err ErrorKind `json:"error,omitempty"`
	// Detail is the underlying cause, such as captured stderr or a Go error.
	Detail string `json:"detail,omitempty"`
}

// Failed reports whether the outcome is an error.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeError
}

func (o Outcome) String() string {
	if o.Kind == OutcomeError {
		return o.Kind.String() + "/" + o.Err.String()
	}
	return o.Kind.String()
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is one item of a generation stream: the full text accumulated so
// far, never a delta.
type Snapshot struct {
	Text string
	// Final is set on the last item only.
	Final bool
	// Outcome is meaningful only when Final is set.
	Outcome Outcome
}

func finalSnapshot(text string, o Outcome) Snapshot {
	return Snapshot{Text: text, Final: true, Outcome: o}
}

func failure(kind ErrorKind, detail string) Outcome {
	return Outcome{Kind: OutcomeError, Err: kind, Detail: detail}
}

// =============================================================================
// USER-VISIBLE MESSAGES
// =============================================================================

const (
	MsgNoModel       = "Error: No model selected. Please choose a model."
	MsgEmptyPrompt   = "Error: Prompt cannot be empty."
	MsgNotRunning    = "Error: Ollama service does not seem to be running or accessible. Please start Ollama."
	MsgNotInstalled  = "Error: 'ollama' command not found. Please ensure Ollama is installed and in your PATH."
	MsgWaitTimeout   = "Error: Ollama process timed out while waiting for completion."
	MsgEmptyResponse = "Model returned an empty response."
	MsgCanceled      = "Error: Generation canceled."
	msgModelNotFound = "Error: Model '%s' selected, but not found by Ollama at runtime. Available: %v. Please ensure it was pulled."
	msgUnexpected    = "An unexpected error occurred: %v"
	errorBlockFormat = "\n\n--- Ollama Error (code %d) ---\n%s"
)
