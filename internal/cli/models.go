// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ankanpy/qwen3-ollama/internal/catalog"
)

// modelsResult is the --json payload of models.
type modelsResult struct {
	Models   []string          `json:"models"`
	Selected string            `json:"selected"`
	Examples []catalog.Example `json:"examples"`
}

func newModelsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Aliases: []string{"list", "ls"},
		Short:   "List installed models",
		Long: `List the models reported by "ollama list". The model the web UI would
preselect is marked with *.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(root)
			if err != nil {
				return err
			}

			logger := root.logger(cmd)
			c := catalog.New(ollamaFactory(cfg, logger), preferences(cfg))
			c.SetLogger(logger)
			snap := c.Refresh(cmd.Context())

			if root.jsonOutput {
				return NewJSONResponse("models", modelsResult{
					Models:   snap.Models,
					Selected: snap.Selected,
					Examples: snap.Examples,
				}).Print(cmd.OutOrStdout())
			}

			if len(snap.Models) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", RenderStatus("warning"), "No models found - check Ollama setup")
				return nil
			}
			printModels(cmd.OutOrStdout(), snap.Models, snap.Selected)
			return nil
		},
	}
}

// printModels prints one model per line, marking the selected one.
func printModels(w io.Writer, models []string, selected string) {
	if len(models) == 0 {
		fmt.Fprintln(w, WarningStyle.Render("No models found - check Ollama setup"))
		return
	}
	for _, m := range models {
		if m == selected {
			fmt.Fprintf(w, "%s %s\n", HighlightStyle.Render("*"), HighlightStyle.Render(m))
			continue
		}
		fmt.Fprintf(w, "  %s\n", m)
	}
}
