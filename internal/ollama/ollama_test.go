// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPER PROCESS
// =============================================================================

const listOutput = `NAME            ID              SIZE      MODIFIED
qwen3:4b        2bfd38a7daaf    2.6 GB    2 days ago
llama3.2:latest a80c4f17acd5    2.0 GB    3 weeks ago
qwen3:1.7b      458ce03a2187    1.4 GB    2 days ago
qwen3:4b        2bfd38a7daaf    2.6 GB    2 days ago
`

// helperCommand re-executes the test binary as a fake ollama.
func helperCommand(scenario string) CommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_SCENARIO="+scenario)
		return cmd
	}
}

// TestHelperProcess is not a real test. It stands in for the ollama
// executable when invoked by helperCommand.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "no subcommand")
		os.Exit(2)
	}
	sub := args[2]

	switch os.Getenv("HELPER_SCENARIO") {
	case "ok":
		if sub == "list" {
			fmt.Print(listOutput)
		}
	case "empty":
		if sub == "list" {
			fmt.Println("NAME    ID    SIZE    MODIFIED")
		}
	case "down":
		fmt.Fprintln(os.Stderr, "Error: could not connect to ollama app, is it running?")
		os.Exit(1)
	case "slow":
		time.Sleep(30 * time.Second)
	}
}

func newTestClient(scenario string, logs *bytes.Buffer) *Client {
	cfg := &ClientConfig{
		Binary:        "ollama",
		ListTimeout:   5 * time.Second,
		StatusTimeout: 5 * time.Second,
		Command:       helperCommand(scenario),
	}
	if logs != nil {
		cfg.Logger = log.New(logs, "", 0)
	}
	return NewClientWithConfig(cfg)
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseModelList(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"table", listOutput, []string{"llama3.2:latest", "qwen3:1.7b", "qwen3:4b"}},
		{"header only", "NAME ID SIZE MODIFIED\n", []string{}},
		{"empty", "", []string{}},
		{"blank rows skipped", "NAME\n\n  \nb 1\na 2\n", []string{"a", "b"}},
		{"leading blank lines", "\n\nNAME ID\nm:1 x\n", []string{"m:1"}},
		{"crlf", "NAME ID\r\nm:2 x\r\nm:1 y\r\n", []string{"m:1", "m:2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseModelList(tt.output)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseModelList_SortedAndUnique(t *testing.T) {
	out := "NAME\nc\nb\na\nb\nc\nc\n"
	got := ParseModelList(out)

	assert.Equal(t, []string{"a", "b", "c"}, got)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

// =============================================================================
// CLIENT
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{})
	cfg := c.GetConfig()

	assert.Equal(t, "ollama", cfg.Binary)
	assert.Equal(t, []string{"ps"}, cfg.HealthArgs)
	assert.Equal(t, 10*time.Second, cfg.ListTimeout)
	assert.Equal(t, 5*time.Second, cfg.StatusTimeout)
	assert.NotNil(t, cfg.Command)
	assert.NotNil(t, cfg.Logger)
}

func TestClient_ListModels(t *testing.T) {
	c := newTestClient("ok", nil)
	assert.Equal(t, []string{"llama3.2:latest", "qwen3:1.7b", "qwen3:4b"}, c.ListModels(context.Background()))
}

func TestClient_ListModels_HeaderOnly(t *testing.T) {
	c := newTestClient("empty", nil)
	assert.Equal(t, []string{}, c.ListModels(context.Background()))
}

func TestClient_ListModels_FailureIsLoggedNotReturned(t *testing.T) {
	var logs bytes.Buffer
	c := newTestClient("down", &logs)

	models := c.ListModels(context.Background())
	assert.NotNil(t, models)
	assert.Empty(t, models)
	assert.Contains(t, logs.String(), "MODEL_LIST_FAILED")

	_, err := c.Models(context.Background())
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, ErrTypeExit, cmdErr.Type)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "could not connect")
}

func TestClient_IsAvailable(t *testing.T) {
	assert.True(t, newTestClient("ok", nil).IsAvailable(context.Background()))
	assert.False(t, newTestClient("down", nil).IsAvailable(context.Background()))
}

func TestClient_IsAvailable_Timeout(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{
		StatusTimeout: 100 * time.Millisecond,
		Command:       helperCommand("slow"),
	})

	start := time.Now()
	err := c.CheckRunning(context.Background())
	assert.True(t, IsTimeout(err), "expected timeout, got %v", err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, c.IsAvailable(context.Background()))
}

func TestClient_MissingExecutable(t *testing.T) {
	var logs bytes.Buffer
	c := NewClientWithConfig(&ClientConfig{
		Binary: filepath.Join(t.TempDir(), "no-such-ollama"),
		Logger: log.New(&logs, "", 0),
	})

	err := c.CheckRunning(context.Background())
	assert.True(t, IsNotFound(err), "expected not found, got %v", err)
	assert.False(t, c.IsAvailable(context.Background()))
	assert.Empty(t, c.ListModels(context.Background()))
	assert.Contains(t, logs.String(), "executable not found")
}

func TestClient_CustomHealthArgs(t *testing.T) {
	var seen []string
	c := NewClientWithConfig(&ClientConfig{
		HealthArgs: []string{"list"},
		Command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			seen = args
			return helperCommand("ok")(ctx, name, args...)
		},
	})
	require.True(t, c.IsAvailable(context.Background()))
	assert.Equal(t, []string{"list"}, seen)
}

// =============================================================================
// EXECUTABLE LOOKUP
// =============================================================================

func TestResolveExecutable(t *testing.T) {
	t.Run("path returned unchanged", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "ollama")
		assert.Equal(t, p, ResolveExecutable(p))
	})

	t.Run("found on PATH", func(t *testing.T) {
		dir := t.TempDir()
		bin := filepath.Join(dir, "fake-ollama")
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
		t.Setenv("PATH", dir)
		assert.Equal(t, bin, ResolveExecutable("fake-ollama"))
	})

	t.Run("home install dir", func(t *testing.T) {
		home := t.TempDir()
		bin := filepath.Join(home, ".local", "bin", "fake-ollama")
		require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
		t.Setenv("PATH", t.TempDir())
		t.Setenv("HOME", home)
		assert.Equal(t, bin, ResolveExecutable("fake-ollama"))
	})

	t.Run("unresolved name kept", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		t.Setenv("HOME", t.TempDir())
		assert.Equal(t, "definitely-not-ollama", ResolveExecutable("definitely-not-ollama"))
	})
}

func TestIsNotFound_PlainErrors(t *testing.T) {
	_, err := exec.LookPath("definitely-not-a-real-binary-name")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(fmt.Errorf("other")))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
}
