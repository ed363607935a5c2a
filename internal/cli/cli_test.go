// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterh/liner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/config"
	"github.com/ankanpy/qwen3-ollama/internal/server"
)

// =============================================================================
// HELPERS
// =============================================================================

// TestHelperProcess is not a real test. It plays `ollama run` for the
// scenario named in HELPER_SCENARIO.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("HELPER_SCENARIO") {
	case "echo":
		in, _ := io.ReadAll(os.Stdin)
		fmt.Print("got:" + string(in))
	case "fail":
		fmt.Print("half\n")
		fmt.Fprint(os.Stderr, "model crashed\n")
		os.Exit(3)
	}
}

type fakeOllama struct {
	available bool
	models    []string
	scenario  string
}

func (f *fakeOllama) IsAvailable(ctx context.Context) bool    { return f.available }
func (f *fakeOllama) ListModels(ctx context.Context) []string { return f.models }

func (f *fakeOllama) Command(ctx context.Context, args ...string) *exec.Cmd {
	cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_SCENARIO="+f.scenario)
	return cmd
}

// isolateEnv points HOME at an empty directory and clears the environment
// overrides so the developer's own config never leaks into a test.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, name := range []string{
		"REASONWEB_ADDR", "REASONWEB_OLLAMA_BIN", "REASONWEB_CHAR_DELAY",
		"REASONWEB_NO_TYPING", "REASONWEB_PREFERRED_MODEL",
	} {
		t.Setenv(name, "")
	}
	config.ResetGlobalForTesting()
	t.Cleanup(config.ResetGlobalForTesting)
	ForceColorsEnabled(false)
	return home
}

func useFake(t *testing.T, fake *fakeOllama) {
	t.Helper()
	prev := ollamaFactory
	ollamaFactory = func(*config.Config, *log.Logger) bridge.Ollama { return fake }
	t.Cleanup(func() { ollamaFactory = prev })
}

func runCLI(t *testing.T, ctx context.Context, fake *fakeOllama, args ...string) (string, string, error) {
	t.Helper()
	useFake(t, fake)

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func installed() *fakeOllama {
	return &fakeOllama{available: true, models: []string{"llama3:8b", "qwen3:4b"}, scenario: "echo"}
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

func TestStreamPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &streamPrinter{w: &buf}

	for _, text := range []string{"H", "He", "Hel", "Hello"} {
		require.NoError(t, p.Update(text))
	}
	assert.Equal(t, "Hello", buf.String())

	require.NoError(t, p.Update("Error: something else"))
	assert.Equal(t, "Hello\nError: something else", buf.String())

	require.NoError(t, p.Finish("Error: something else"))
	assert.Equal(t, "Hello\nError: something else\n", buf.String())
}

func TestStreamPrinter_FinishKeepsTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	p := &streamPrinter{w: &buf}
	require.NoError(t, p.Update("line\n"))
	require.NoError(t, p.Finish("line\n"))
	assert.Equal(t, "line\n", buf.String())
}

func TestStreamPrinter_FinishEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&streamPrinter{w: &buf}).Finish(""))
	assert.Empty(t, buf.String())
}

// =============================================================================
// SMALL HELPERS
// =============================================================================

func TestDisplayURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"0.0.0.0:7860", "http://localhost:7860"},
		{":8080", "http://localhost:8080"},
		{"[::]:7860", "http://localhost:7860"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
		{"example.local:80", "http://example.local:80"},
		{"nonsense", "http://nonsense"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, displayURL(tt.addr), tt.addr)
	}
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", WrapText("short", 40))
	assert.Equal(t, "aaaa bbbb\ncccc", WrapText("aaaa bbbb cccc", 12))
	assert.Equal(t, "one\n\ntwo", WrapText("one\n\ntwo", 40))

	// Wide runes take two columns each.
	wrapped := WrapText("世界世界 世界世界 世界", 20)
	assert.Equal(t, "世界世界 世界世界\n世界", wrapped)
}

func TestRenderStatus(t *testing.T) {
	assert.Contains(t, RenderStatus("ok"), "[OK]")
	assert.Contains(t, RenderStatus("running"), "[OK]")
	assert.Contains(t, RenderStatus("error"), "[FAIL]")
	assert.Contains(t, RenderStatus("warning"), "[WARN]")
	assert.Contains(t, RenderStatus("mystery"), "[MYSTERY]")
}

func TestRenderLevel(t *testing.T) {
	for _, s := range []server.Status{
		{Text: server.StatusSuccessful, Level: server.LevelSuccess},
		{Text: server.StatusEmpty, Level: server.LevelWarning},
		{Text: server.StatusIssues, Level: server.LevelError},
		{Text: server.StatusStreaming, Level: server.LevelInfo},
	} {
		assert.Contains(t, RenderLevel(s), s.Text)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("x"), ExitGeneralError},
		{"validation", NewValidationError("mode", "x", "bad"), ExitUsageError},
		{"config", &ConfigError{Path: "c.toml", Err: errors.New("bad")}, ExitConfigError},
		{"wrapped config", fmt.Errorf("outer: %w", &ConfigError{Err: errors.New("bad")}), ExitConfigError},
		{"generation validation", &GenerationError{Outcome: bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorValidation}}, ExitUsageError},
		{"generation environment", &GenerationError{Outcome: bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorEnvironment}}, ExitUnavailable},
		{"generation timeout", &GenerationError{Outcome: bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorTimeout}}, ExitTimeoutError},
		{"generation canceled", &GenerationError{Outcome: bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorCanceled}}, ExitCanceled},
		{"generation runtime", &GenerationError{Outcome: bridge.Outcome{Kind: bridge.OutcomeError, Err: bridge.ErrorRuntime}}, ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, NewValidationErrorWithExample("mode", "ponder", "unknown reasoning mode", "--mode think"), true)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "validation_error", out["error_type"])
	assert.Equal(t, "ponder", out["value"])
	assert.Equal(t, false, out["success"])

	buf.Reset()
	DisplayError(&buf, errors.New("plain failure"), false)
	assert.Contains(t, buf.String(), "[ERROR]")
	assert.Contains(t, buf.String(), "plain failure")

	buf.Reset()
	DisplayError(&buf, nil, false)
	assert.Empty(t, buf.String())
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersionCmd(t *testing.T) {
	isolateEnv(t)

	stdout, _, err := runCLI(t, context.Background(), installed(), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "reasonweb version "+Version)

	stdout, _, err = runCLI(t, context.Background(), installed(), "version", "--json")
	require.NoError(t, err)
	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, Version, resp.Data["version"])
}

func TestModelsCmd(t *testing.T) {
	isolateEnv(t)

	stdout, _, err := runCLI(t, context.Background(), installed(), "models")
	require.NoError(t, err)
	assert.Contains(t, stdout, "  llama3:8b\n")
	assert.Contains(t, stdout, "* qwen3:4b")

	stdout, _, err = runCLI(t, context.Background(), installed(), "models", "--json")
	require.NoError(t, err)
	var resp struct {
		Data modelsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, []string{"llama3:8b", "qwen3:4b"}, resp.Data.Models)
	assert.Equal(t, "qwen3:4b", resp.Data.Selected)
	assert.Len(t, resp.Data.Examples, 3)
}

func TestModelsCmd_None(t *testing.T) {
	isolateEnv(t)

	stdout, stderr, err := runCLI(t, context.Background(), &fakeOllama{}, "models")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "No models found - check Ollama setup")
}

func TestStatusCmd(t *testing.T) {
	isolateEnv(t)

	stdout, _, err := runCLI(t, context.Background(), installed(), "status", "--json")
	require.NoError(t, err)

	var resp struct {
		Data StatusInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.Data.OllamaRunning)
	assert.Equal(t, "(defaults)", resp.Data.ConfigPath)
	assert.Equal(t, "0.0.0.0:7860", resp.Data.Addr)
	assert.Equal(t, "qwen3:4b", resp.Data.Selected)
	assert.Equal(t, []string{"think", "no_think"}, resp.Data.Modes)

	stdout, _, err = runCLI(t, context.Background(), &fakeOllama{}, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "not running")
	assert.Contains(t, stdout, "0 installed")
	assert.Contains(t, stdout, "(none)")
}

func TestAskCmd_Streams(t *testing.T) {
	isolateEnv(t)

	stdout, stderr, err := runCLI(t, context.Background(), installed(), "ask", "--no-typing", "--mode", "no_think", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "got:hello there /no_think\n", stdout)
	assert.Contains(t, stderr, server.StatusSuccessful)
}

func TestAskCmd_ExplicitModelAndDefaultMode(t *testing.T) {
	isolateEnv(t)

	stdout, _, err := runCLI(t, context.Background(), installed(), "ask", "-m", "llama3:8b", "hi")
	require.NoError(t, err)
	assert.Equal(t, "got:hi /think\n", stdout)
}

func TestAskCmd_JSON(t *testing.T) {
	isolateEnv(t)

	stdout, _, err := runCLI(t, context.Background(), installed(), "ask", "--json", "hi")
	require.NoError(t, err)

	var resp struct {
		Success bool      `json:"success"`
		Data    askResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "qwen3:4b", resp.Data.Model)
	assert.Equal(t, "think", resp.Data.Mode)
	assert.Equal(t, "got:hi /think\n", resp.Data.Text)
	assert.Equal(t, server.StatusSuccessful, resp.Data.Status)
	assert.Equal(t, bridge.OutcomeSuccess, resp.Data.Outcome.Kind)
}

func TestAskCmd_Failure(t *testing.T) {
	isolateEnv(t)
	fake := installed()
	fake.scenario = "fail"

	stdout, stderr, err := runCLI(t, context.Background(), fake, "ask", "hi")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, bridge.ErrorRuntime, genErr.Outcome.Err)
	assert.Equal(t, ExitGeneralError, GetExitCode(err))
	assert.Equal(t, "half\n\n\n--- Ollama Error (code 3) ---\nmodel crashed\n", stdout)
	assert.Contains(t, stderr, server.StatusIssues)
}

func TestAskCmd_NoModels(t *testing.T) {
	isolateEnv(t)

	stdout, _, err := runCLI(t, context.Background(), &fakeOllama{available: true}, "ask", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
	assert.Equal(t, bridge.MsgNoModel+"\n", stdout)
}

func TestAskCmd_UnknownMode(t *testing.T) {
	isolateEnv(t)

	_, _, err := runCLI(t, context.Background(), installed(), "ask", "--mode", "ponder", "hi")
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "mode", valErr.Field)
}

func TestConfigFlag(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server\n"), 0600))
	_, _, err := runCLI(t, context.Background(), installed(), "--config", bad, "models")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, bad, cfgErr.Path)
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	good := filepath.Join(dir, "good.toml")
	require.NoError(t, os.WriteFile(good, []byte("[ui]\npreferred_model = \"llama3:8b\"\n"), 0600))
	stdout, _, err := runCLI(t, context.Background(), installed(), "--config", good, "models")
	require.NoError(t, err)
	assert.Contains(t, stdout, "* llama3:8b")
	assert.Equal(t, "llama3:8b", config.Global().UI.PreferredModel)
}

func TestServeCmd_StartsAndStops(t *testing.T) {
	isolateEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, stderr, err := runCLI(t, ctx, installed(), "serve", "--addr", "127.0.0.1:0", "--no-typing")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Qwen3 Reasoning with Ollama")
	assert.Contains(t, stderr, "http://127.0.0.1:0")
}

func TestServeCmd_InvalidAddr(t *testing.T) {
	isolateEnv(t)

	_, _, err := runCLI(t, context.Background(), installed(), "serve", "--addr", "no-port-here")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestServeOptions_Apply(t *testing.T) {
	base := config.Default()
	opts := &serveOptions{addr: "127.0.0.1:9999", noTyping: true}

	next := opts.apply(base)
	assert.Equal(t, "127.0.0.1:9999", next.Server.Addr)
	assert.False(t, next.Stream.Typing)
	assert.Equal(t, "0.0.0.0:7860", base.Server.Addr, "base config untouched")
	assert.True(t, base.Stream.Typing)
}

func TestServeOptions_Validate(t *testing.T) {
	opts := &serveOptions{addr: "no-port-here"}
	err := opts.validate(opts.apply(config.Default()), "")
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "addr", valErr.Field)
	assert.Equal(t, "no-port-here", valErr.Value)

	cfg := config.Default()
	cfg.UI.Modes = []string{"think", "think"}
	err = (&serveOptions{}).validate(cfg, "/etc/reasonweb.toml")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "/etc/reasonweb.toml", cfgErr.Path)
	assert.Contains(t, err.Error(), "duplicate mode")
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	// A valid --addr does not hide a bad file setting.
	err = (&serveOptions{addr: "127.0.0.1:0"}).validate(cfg, "")
	require.ErrorAs(t, err, &cfgErr)

	assert.NoError(t, (&serveOptions{}).validate(config.Default(), ""))
}

func TestReloadConfig(t *testing.T) {
	isolateEnv(t)

	require.NoError(t, reloadConfig(""))
	assert.Equal(t, "0.0.0.0:7860", config.Global().Server.Addr)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ui]\ntitle = \"Reloaded\"\n"), 0600))
	require.NoError(t, reloadConfig(path))
	assert.Equal(t, "Reloaded", config.Global().UI.Title)

	require.NoError(t, os.WriteFile(path, []byte("[server\n"), 0600))
	assert.Error(t, reloadConfig(path))
	assert.Equal(t, "Reloaded", config.Global().UI.Title, "a bad file keeps the previous config")
}

func TestReloadOnSignal(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[stream]\ntyping = false\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	applied := make(chan *config.Config, 1)
	go reloadOnSignal(ctx, sig, path, func() { applied <- config.Global() })

	sig <- os.Interrupt
	select {
	case cfg := <-applied:
		assert.False(t, cfg.Stream.Typing)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not applied after the signal")
	}
}

// =============================================================================
// CHAT
// =============================================================================

// scriptedInput feeds fixed lines to the chat loop, then reports EOF.
func scriptedInput(lines ...string) readLineFunc {
	return func(prompt string) (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}
}

func newTestSession(fake *fakeOllama) (*ChatSession, *bytes.Buffer, *bytes.Buffer) {
	cfg := config.Default()
	var out, errOut bytes.Buffer
	s := &ChatSession{
		cfg:     cfg,
		backend: fake,
		bridge:  bridge.New(fake, bridge.Config{WaitTimeout: 5 * time.Second, Logger: log.New(io.Discard, "", 0)}),
		out:     &out,
		errOut:  &errOut,
		Model:   "qwen3:4b",
		Mode:    bridge.ModeThink,
		Models:  fake.models,
	}
	return s, &out, &errOut
}

func TestChatLoop(t *testing.T) {
	s, out, errOut := newTestSession(installed())

	err := runChatLoop(context.Background(), s, scriptedInput(
		"",
		"/mode no_think",
		"hello",
		"/mode ponder",
		"/model llama3:8b",
		"again",
		"/bogus",
		"/quit",
		"never sent",
	))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Prompts)
	assert.Equal(t, "llama3:8b", s.Model)
	assert.Equal(t, bridge.ModeNoThink, s.Mode)
	assert.Contains(t, out.String(), "Mode set to no_think")
	assert.Contains(t, out.String(), "got:hello /no_think\n")
	assert.Contains(t, out.String(), "got:again /no_think\n")
	assert.Contains(t, out.String(), "Goodbye. 2 prompt(s) sent.")
	assert.NotContains(t, out.String(), "never sent")
	assert.Contains(t, errOut.String(), "unknown reasoning mode")
	assert.Contains(t, errOut.String(), "unknown command /bogus")
	assert.Contains(t, errOut.String(), server.StatusSuccessful)
}

func TestChatLoop_UnknownModelWarns(t *testing.T) {
	s, out, _ := newTestSession(installed())

	require.NoError(t, runChatLoop(context.Background(), s, scriptedInput("/model mistral:7b", "exit")))
	assert.Equal(t, "mistral:7b", s.Model)
	assert.Contains(t, out.String(), "mistral:7b is not in the installed list")
}

func TestChatLoop_ModelsAndHelp(t *testing.T) {
	fake := installed()
	s, out, _ := newTestSession(fake)
	fake.models = []string{"gemma:2b", "qwen3:4b"}

	require.NoError(t, runChatLoop(context.Background(), s, scriptedInput("/help", "/models", "/mode", "/model")))
	assert.Equal(t, []string{"gemma:2b", "qwen3:4b"}, s.Models)
	assert.Contains(t, out.String(), "/models")
	assert.Contains(t, out.String(), "  gemma:2b\n")
	assert.Contains(t, out.String(), "(available: think, no_think)")
}

func TestChatLoop_Abort(t *testing.T) {
	s, out, _ := newTestSession(installed())

	read := func(string) (string, error) { return "", liner.ErrPromptAborted }
	require.NoError(t, runChatLoop(context.Background(), s, read))
	assert.Contains(t, out.String(), "Goodbye. 0 prompt(s) sent.")
}

func TestChatLoop_ReadError(t *testing.T) {
	s, _, _ := newTestSession(installed())

	read := func(string) (string, error) { return "", errors.New("tty gone") }
	err := runChatLoop(context.Background(), s, read)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "chat", cmdErr.Command)
}

func TestChatLoop_StopsWhenContextDone(t *testing.T) {
	s, _, _ := newTestSession(installed())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	read := func(string) (string, error) {
		called = true
		return "hello", nil
	}
	require.NoError(t, runChatLoop(ctx, s, read))
	assert.False(t, called)
}
