// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/catalog"
	"github.com/ankanpy/qwen3-ollama/internal/config"
	"github.com/ankanpy/qwen3-ollama/internal/server"
	"github.com/ankanpy/qwen3-ollama/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
// Supports history navigation with arrow keys.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// ChatSession holds the state of one interactive chat. Every prompt is an
// independent generation; there is no conversation memory.
type ChatSession struct {
	cfg     *config.Config
	backend bridge.Ollama
	bridge  *bridge.Bridge
	out     io.Writer
	errOut  io.Writer

	Model   string
	Mode    bridge.Mode
	Models  []string
	Prompts int
}

// promptModelWidth caps the model name shown in the chat prompt.
const promptModelWidth = 24

// readLineFunc reads one line of input. It returns io.EOF or
// liner.ErrPromptAborted when the user is done.
type readLineFunc func(prompt string) (string, error)

type chatOptions struct {
	model    string
	mode     string
	noTyping bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive prompt loop in the terminal",
		Long: `Start an interactive prompt loop. Each line is sent to the model as a
separate prompt and the answer is streamed back.

Commands:
  /mode [MODE]     Show or switch the reasoning mode
  /model [NAME]    Show or switch the model
  /models          Re-list installed models
  /help            Show this help
  /quit            Leave (also Ctrl+C or Ctrl+D)`,
		Example: `  reasonweb chat
  reasonweb chat --model qwen3:4b --mode no_think`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newChatSession(cmd, root, opts)
			if err != nil {
				return err
			}

			input := NewChatCLI()
			defer input.Close()

			printWelcome(session)
			return runChatLoop(cmd.Context(), session, func(prompt string) (string, error) {
				return input.ReadInput(prompt)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model to use (default: preselected model)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Reasoning mode (default: first of ui.modes)")
	cmd.Flags().BoolVar(&opts.noTyping, "no-typing", false, "Print output as soon as it arrives")
	return cmd
}

func newChatSession(cmd *cobra.Command, root *rootOptions, opts *chatOptions) (*ChatSession, error) {
	cfg, _, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	mode, err := resolveMode(cfg, opts.mode)
	if err != nil {
		return nil, err
	}

	logger := root.logger(cmd)
	backend := ollamaFactory(cfg, logger)

	delay := cfg.EffectiveCharDelay()
	if opts.noTyping || !IsStdoutTTY() {
		delay = 0
	}

	s := &ChatSession{
		cfg:     cfg,
		backend: backend,
		bridge: bridge.New(backend, bridge.Config{
			CharDelay:   delay,
			WaitTimeout: cfg.Ollama.WaitTimeout.Duration,
			Logger:      logger,
		}),
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		Mode:   mode,
	}
	s.refreshModels(cmd.Context())
	s.Model = opts.model
	if s.Model == "" {
		s.Model = catalog.SelectInitial(s.Models, preferences(cfg))
	}
	return s, nil
}

func (s *ChatSession) refreshModels(ctx context.Context) {
	s.Models = s.backend.ListModels(ctx)
}

// runChatLoop reads prompts until the user quits or ctx ends.
func runChatLoop(ctx context.Context, s *ChatSession, readLine readLineFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := readLine(PromptStyle.Render(fmt.Sprintf("%s/%s> ", util.TruncateWidth(s.Model, promptModelWidth), s.Mode)))
		if err != nil {
			fmt.Fprintln(s.out)
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				printExitSummary(s)
				return nil
			}
			return &CommandError{Command: "chat", Action: "read input", Reason: "terminal error", Err: err}
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !handleSlashCommand(ctx, s, input) {
				printExitSummary(s)
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(s)
			return nil
		}

		if err := processPrompt(ctx, s, input); err != nil {
			return &CommandError{Command: "chat", Action: "write output", Reason: "output closed", Err: err}
		}
	}
}

// processPrompt streams one answer and prints its status line.
func processPrompt(ctx context.Context, s *ChatSession, prompt string) error {
	s.Prompts++
	final, err := streamAnswer(ctx, s.bridge, bridge.Request{Model: s.Model, Prompt: prompt, Mode: s.Mode}, s.out, true)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.errOut, RenderLevel(server.StatusFor(final.Outcome, final.Text)))
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a /command. It returns false when the session
// should end.
func handleSlashCommand(ctx context.Context, s *ChatSession, input string) bool {
	fields := strings.Fields(input)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return false

	case "/help", "/h", "/?":
		printHelp(s)

	case "/mode":
		if len(args) == 0 {
			fmt.Fprintf(s.out, "%s %s %s\n", RenderLabel("Mode"), ValueStyle.Render(string(s.Mode)),
				DimStyle.Render("(available: "+strings.Join(s.cfg.UI.Modes, ", ")+")"))
			break
		}
		mode, err := resolveMode(s.cfg, args[0])
		if err != nil {
			fmt.Fprintf(s.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			break
		}
		s.Mode = mode
		fmt.Fprintf(s.out, "%s %s\n", RenderStatus("ok"), "Mode set to "+string(mode))

	case "/model":
		if len(args) == 0 {
			fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Model"), ValueStyle.Render(s.Model))
			break
		}
		s.Model = args[0]
		if !contains(s.Models, s.Model) {
			fmt.Fprintf(s.out, "%s %s\n", RenderStatus("warning"),
				fmt.Sprintf("%s is not in the installed list; Ollama will report it if missing.", s.Model))
		}
		fmt.Fprintf(s.out, "%s %s\n", RenderStatus("ok"), "Model set to "+s.Model)

	case "/models":
		s.refreshModels(ctx)
		printModels(s.out, s.Models, s.Model)

	default:
		fmt.Fprintf(s.errOut, "%s unknown command %s (try /help)\n", ErrorStyle.Render("[Error]"), name)
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// =============================================================================
// OUTPUT
// =============================================================================

func printWelcome(s *ChatSession) {
	fmt.Fprintln(s.out, TitleStyle.Render(s.cfg.UI.Title))
	model := s.Model
	if model == "" {
		model = "(none - check Ollama setup)"
	}
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Model"), ValueStyle.Render(model))
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Mode"), ValueStyle.Render(string(s.Mode)))
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, /quit to leave."))
	fmt.Fprintln(s.out)
}

func printHelp(s *ChatSession) {
	help := `/mode [MODE]     Show or switch the reasoning mode (` + strings.Join(s.cfg.UI.Modes, ", ") + `)
/model [NAME]    Show or switch the model
/models          Re-list installed models
/help            Show this help
/quit            Leave`
	fmt.Fprintln(s.out, WrapText(help, 0))
}

func printExitSummary(s *ChatSession) {
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("Goodbye. %d prompt(s) sent.", s.Prompts)))
}
