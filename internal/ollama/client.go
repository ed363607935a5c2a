// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log"
	"os/exec"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a failed invocation of the ollama executable.
type CommandError struct {
	Type     ErrorType
	Message  string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *CommandError) Error() string {
	msg := e.Message
	if e.Stderr != "" {
		msg += " (" + e.Stderr + ")"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes command errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotFound
	ErrTypeTimeout
	ErrTypeExit
)

// IsNotFound checks if an error means the ollama executable could not be started.
func IsNotFound(err error) bool {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Type == ErrTypeNotFound
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// CommandFunc builds the command for one ollama invocation.
// It matches exec.CommandContext and is replaced in tests.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// ClientConfig holds configuration options for the ollama client.
type ClientConfig struct {
	// Binary is the executable name or path (default: "ollama").
	Binary string

	// HealthArgs are passed to Binary by the availability check (default: ["ps"]).
	HealthArgs []string

	// ListTimeout bounds the model listing command (default: 10s).
	ListTimeout time.Duration

	// StatusTimeout bounds the availability check (default: 5s).
	StatusTimeout time.Duration

	// Command builds each invocation (default: exec.CommandContext).
	Command CommandFunc

	// Logger receives failure events (default: log.Default()).
	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Binary:        "ollama",
		HealthArgs:    []string{"ps"},
		ListTimeout:   10 * time.Second,
		StatusTimeout: 5 * time.Second,
		Command:       exec.CommandContext,
		Logger:        log.Default(),
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client runs the ollama command-line tool.
// It lists installed models, checks whether the service answers and builds
// commands for the streaming bridge.
//
// The Client is safe for concurrent use; every call spawns its own process.
//
// Example:
//
//	client := ollama.NewClient()
//	if !client.IsAvailable(ctx) {
//	    log.Fatal("ollama is not running")
//	}
//	models := client.ListModels(ctx)
type Client struct {
	config *ClientConfig
	binary string
}

// NewClient creates a new ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	// Fill in defaults for any zero values
	defaults := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = defaults.Binary
	}
	if len(cfg.HealthArgs) == 0 {
		cfg.HealthArgs = defaults.HealthArgs
	}
	if cfg.ListTimeout == 0 {
		cfg.ListTimeout = defaults.ListTimeout
	}
	if cfg.StatusTimeout == 0 {
		cfg.StatusTimeout = defaults.StatusTimeout
	}
	if cfg.Command == nil {
		cfg.Command = defaults.Command
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	return &Client{
		config: &cfg,
		binary: ResolveExecutable(cfg.Binary),
	}
}

// GetConfig returns a copy of the client configuration.
func (c *Client) GetConfig() ClientConfig {
	return *c.config
}

// Binary returns the resolved executable path or name.
func (c *Client) Binary() string {
	return c.binary
}

// Command builds an ollama invocation with the given arguments.
// The process is bound to ctx.
func (c *Client) Command(ctx context.Context, args ...string) *exec.Cmd {
	return c.config.Command(ctx, c.binary, args...)
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning runs the health command and reports why it failed, if it did.
func (c *Client) CheckRunning(ctx context.Context) error {
	_, err := c.run(ctx, c.config.StatusTimeout, c.config.HealthArgs...)
	return err
}

// IsAvailable reports whether the health command exits successfully within
// the status timeout. A missing executable, non-zero exit or timeout all
// report false.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.CheckRunning(ctx) == nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// Models runs the listing command and returns the parsed identifiers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, c.config.ListTimeout, "list")
	if err != nil {
		return nil, err
	}
	return ParseModelList(string(out)), nil
}

// ListModels returns the installed models, sorted and deduplicated.
// Failures are logged and yield an empty list.
func (c *Client) ListModels(ctx context.Context) []string {
	models, err := c.Models(ctx)
	if err != nil {
		c.config.Logger.Printf("MODEL_LIST_FAILED | binary=%s error=%v", c.binary, err)
		return []string{}
	}
	return models
}

// =============================================================================
// PROCESS EXECUTION
// =============================================================================

// run executes one short-lived command bounded by timeout and returns stdout.
func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := c.Command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Descendants holding the pipes open must not stall the wait.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	name := strings.Join(append([]string{c.binary}, args...), " ")
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, &CommandError{Type: ErrTypeTimeout, Message: name + " timed out after " + timeout.String(), Cause: err}
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		return nil, &CommandError{Type: ErrTypeNotFound, Message: name + ": executable not found", Cause: err}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &CommandError{
			Type:     ErrTypeExit,
			Message:  name + " failed",
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Cause:    err,
		}
	}
	return nil, &CommandError{Type: ErrTypeUnknown, Message: name + " failed", Cause: err}
}
