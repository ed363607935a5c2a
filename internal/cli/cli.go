// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/catalog"
	"github.com/ankanpy/qwen3-ollama/internal/config"
	"github.com/ankanpy/qwen3-ollama/internal/server"
)

// Version information (overridden at build time with -ldflags)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ollamaFactory builds the Ollama backend for every command. Tests replace it.
var ollamaFactory server.OllamaFactory = server.DefaultOllamaFactory

// rootOptions are the persistent flags shared by all commands.
type rootOptions struct {
	configPath string
	jsonOutput bool
	verbose    bool
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCmd builds the reasonweb command tree. Running it without a
// subcommand starts the web server.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := &serveOptions{watch: true}

	root := &cobra.Command{
		Use:   "reasonweb",
		Short: "Browser front end for local Ollama reasoning models",
		Long: `reasonweb serves a web page for chatting with locally installed Ollama
models. Pick a model, choose "think" for step-by-step reasoning or
"no_think" for a direct answer, and watch the response stream in.

Configuration is read from ~/.reasonweb/config.toml (or config.json).`,
		Example: `  reasonweb                         Start the web UI on 0.0.0.0:7860
  reasonweb serve --addr :8080      Start on another port
  reasonweb ask "Why is the sky blue?"
  reasonweb chat --model qwen3:4b`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, serve)
		},
	}
	root.SetVersionTemplate(versionString() + "\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.reasonweb/config.toml)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Output JSON where supported")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log backend activity to stderr")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newModelsCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		jsonMode, _ := root.PersistentFlags().GetBool("json")
		DisplayError(root.ErrOrStderr(), err, jsonMode)
	}
	return GetExitCode(err)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// loadConfig loads the --config file, or the default locations, and installs
// the result as the global configuration. The returned path is the file that
// was read, or "" when only defaults apply.
func loadConfig(opts *rootOptions) (*config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		path = config.ResolvePath()
	}

	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFromPath(path)
	}
	if err != nil {
		return nil, "", &ConfigError{Path: path, Err: err}
	}

	config.SetGlobal(cfg)
	return cfg, path, nil
}

// logger returns the logger for backend activity: stderr with --verbose,
// discarded otherwise.
func (o *rootOptions) logger(cmd *cobra.Command) *log.Logger {
	if o.verbose {
		return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// preferences maps the [ui] section to catalog preferences.
func preferences(cfg *config.Config) catalog.Preferences {
	return catalog.Preferences{
		PreferredModel:       cfg.UI.PreferredModel,
		PreferredMarker:      cfg.UI.PreferredMarker,
		FallbackExampleModel: cfg.UI.FallbackExampleModel,
	}
}

// resolveMode returns mode, or the first configured mode when empty, and
// rejects modes outside ui.modes.
func resolveMode(cfg *config.Config, mode string) (bridge.Mode, error) {
	if mode == "" {
		return bridge.Mode(cfg.UI.Modes[0]), nil
	}
	if !cfg.HasMode(mode) {
		return "", NewValidationErrorWithExample("mode", mode, "unknown reasoning mode",
			fmt.Sprintf("--mode %s", cfg.UI.Modes[0]))
	}
	return bridge.Mode(mode), nil
}

// =============================================================================
// VERSION
// =============================================================================

func versionString() string {
	return fmt.Sprintf("reasonweb version %s\n  Git commit: %s\n  Built:      %s\n  Go:         %s",
		Version, GitCommit, BuildDate, runtime.Version())
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jsonOutput {
				return NewJSONResponse("version", map[string]string{
					"version":    Version,
					"git_commit": GitCommit,
					"build_date": BuildDate,
					"go":         runtime.Version(),
				}).Print(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return nil
		},
	}
}
