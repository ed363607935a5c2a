// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ankanpy/qwen3-ollama/internal/catalog"
	"github.com/ankanpy/qwen3-ollama/internal/config"
)

// StatusInfo is the status report, also emitted with --json.
type StatusInfo struct {
	Version       string   `json:"version"`
	ConfigPath    string   `json:"config_path"`
	Addr          string   `json:"addr"`
	OllamaBinary  string   `json:"ollama_binary"`
	OllamaRunning bool     `json:"ollama_running"`
	Models        []string `json:"models"`
	Selected      string   `json:"selected"`
	Modes         []string `json:"modes"`
	Typing        bool     `json:"typing"`
	CharDelay     string   `json:"char_delay"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"s", "info"},
		Short:   "Show Ollama and configuration status",
		Example: `  reasonweb status
  reasonweb status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(root)
			if err != nil {
				return err
			}
			info := collectStatus(cmd, root, cfg, path)

			if root.jsonOutput {
				return NewJSONResponse("status", info).Print(cmd.OutOrStdout())
			}
			printStatus(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func collectStatus(cmd *cobra.Command, root *rootOptions, cfg *config.Config, path string) StatusInfo {
	ctx := cmd.Context()
	backend := ollamaFactory(cfg, root.logger(cmd))
	models := backend.ListModels(ctx)

	if path == "" {
		path = "(defaults)"
	}
	return StatusInfo{
		Version:       Version,
		ConfigPath:    path,
		Addr:          cfg.Server.Addr,
		OllamaBinary:  cfg.Ollama.Binary,
		OllamaRunning: backend.IsAvailable(ctx),
		Models:        models,
		Selected:      catalog.SelectInitial(models, preferences(cfg)),
		Modes:         cfg.UI.Modes,
		Typing:        cfg.Stream.Typing,
		CharDelay:     cfg.EffectiveCharDelay().String(),
	}
}

func printStatus(w io.Writer, info StatusInfo) {
	fmt.Fprintln(w, TitleStyle.Render("reasonweb "+info.Version))
	fmt.Fprintln(w, RenderSeparator())

	running := "error"
	runningText := "not running"
	if info.OllamaRunning {
		running = "ok"
		runningText = "running"
	}
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("Ollama"), RenderStatus(running), ValueStyle.Render(runningText))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Binary"), ValueStyle.Render(info.OllamaBinary))

	modelsStatus := "ok"
	if len(info.Models) == 0 {
		modelsStatus = "warning"
	}
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("Models"), RenderStatus(modelsStatus), ValueStyle.Render(fmt.Sprintf("%d installed", len(info.Models))))
	selected := info.Selected
	if selected == "" {
		selected = "(none)"
	}
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Preselected"), ValueStyle.Render(selected))

	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Config"), ValueStyle.Render(info.ConfigPath))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Listen"), ValueStyle.Render(info.Addr))
	typing := "off"
	if info.Typing {
		typing = info.CharDelay + " per character"
	}
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Typing"), ValueStyle.Render(typing))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Modes"), ValueStyle.Render(fmt.Sprint(info.Modes)))
}
