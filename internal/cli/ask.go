// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/catalog"
	"github.com/ankanpy/qwen3-ollama/internal/server"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders markdown content for terminal display.
// Returns content unchanged if rendering fails.
func renderMarkdown(content string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes a stream of snapshots to a terminal. Snapshots carry
// the full text so far, so only the new suffix is written. A snapshot that
// does not extend the printed text starts on a fresh line.
type streamPrinter struct {
	w       io.Writer
	printed string
}

func (p *streamPrinter) Update(text string) error {
	if strings.HasPrefix(text, p.printed) {
		_, err := io.WriteString(p.w, text[len(p.printed):])
		p.printed = text
		return err
	}
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		if _, err := io.WriteString(p.w, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(p.w, text)
	p.printed = text
	return err
}

// Finish writes the final text and ends the output with a newline.
func (p *streamPrinter) Finish(text string) error {
	if err := p.Update(text); err != nil {
		return err
	}
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		_, err := io.WriteString(p.w, "\n")
		return err
	}
	return nil
}

// =============================================================================
// ASK COMMAND
// =============================================================================

type askOptions struct {
	model    string
	mode     string
	render   bool
	noTyping bool
}

// askResult is the --json payload of ask.
type askResult struct {
	Model   string         `json:"model"`
	Mode    string         `json:"mode"`
	Text    string         `json:"text"`
	Status  string         `json:"status"`
	Level   server.Level   `json:"level"`
	Outcome bridge.Outcome `json:"outcome"`
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [flags] PROMPT...",
		Short: "Ask a single question and stream the answer",
		Long: `Send one prompt to a local model and stream the answer to stdout.

Without --model the model is picked the same way the web UI preselects it.
The prompt can also be piped on stdin.`,
		Example: `  reasonweb ask "What is the capital of France?"
  reasonweb ask --mode no_think "Write a haiku about tea"
  reasonweb ask --model qwen3:1.7b --render "Explain recursion with an example"
  echo "Summarize Go's memory model" | reasonweb ask`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" && !IsTTY() {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return &CommandError{Command: "ask", Action: "read stdin", Reason: "could not read prompt", Err: err}
				}
				prompt = string(data)
			}
			return runAsk(cmd, root, opts, prompt)
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model to use (default: preselected model)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Reasoning mode (default: first of ui.modes)")
	cmd.Flags().BoolVarP(&opts.render, "render", "r", false, "Render the answer as markdown once complete")
	cmd.Flags().BoolVar(&opts.noTyping, "no-typing", false, "Print output as soon as it arrives")
	return cmd
}

func runAsk(cmd *cobra.Command, root *rootOptions, opts *askOptions, prompt string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, _, err := loadConfig(root)
	if err != nil {
		return err
	}
	mode, err := resolveMode(cfg, opts.mode)
	if err != nil {
		return err
	}

	logger := root.logger(cmd)
	backend := ollamaFactory(cfg, logger)
	model := opts.model
	if model == "" {
		model = catalog.SelectInitial(backend.ListModels(ctx), preferences(cfg))
	}

	// Typing only makes sense when the text is shown as it streams.
	delay := cfg.EffectiveCharDelay()
	if opts.noTyping || opts.render || root.jsonOutput || !IsStdoutTTY() {
		delay = 0
	}
	b := bridge.New(backend, bridge.Config{
		CharDelay:   delay,
		WaitTimeout: cfg.Ollama.WaitTimeout.Duration,
		Logger:      logger,
	})

	final, err := streamAnswer(ctx, b, bridge.Request{Model: model, Prompt: prompt, Mode: mode}, out, !opts.render && !root.jsonOutput)
	if err != nil {
		return &CommandError{Command: "ask", Action: "write output", Reason: "output closed", Err: err}
	}

	status := server.StatusFor(final.Outcome, final.Text)
	if root.jsonOutput {
		result := askResult{
			Model:   model,
			Mode:    string(mode),
			Text:    final.Text,
			Status:  status.Text,
			Level:   status.Level,
			Outcome: final.Outcome,
		}
		if final.Outcome.Failed() {
			genErr := &GenerationError{Outcome: final.Outcome}
			if err := NewJSONErrorResponse("ask", result, genErr).Print(out); err != nil {
				return err
			}
			return genErr
		}
		return NewJSONResponse("ask", result).Print(out)
	}

	if opts.render {
		if final.Outcome.Kind == bridge.OutcomeSuccess {
			fmt.Fprint(out, renderMarkdown(final.Text, GetTerminalWidth()))
		} else {
			fmt.Fprintln(out, final.Text)
		}
	}

	fmt.Fprintln(cmd.ErrOrStderr(), RenderLevel(status))
	if final.Outcome.Failed() {
		return &GenerationError{Outcome: final.Outcome}
	}
	return nil
}

// streamAnswer drains a generation. With live set, every snapshot is
// printed as it arrives; otherwise only the final snapshot is returned.
func streamAnswer(ctx context.Context, b *bridge.Bridge, req bridge.Request, out io.Writer, live bool) (bridge.Snapshot, error) {
	if !live {
		return bridge.Collect(b.Stream(ctx, req)), nil
	}

	printer := &streamPrinter{w: out}
	var final bridge.Snapshot
	for snap := range b.Stream(ctx, req) {
		if snap.Final {
			final = snap
			break
		}
		if err := printer.Update(snap.Text); err != nil {
			return bridge.Snapshot{}, err
		}
	}
	return final, printer.Finish(final.Text)
}
