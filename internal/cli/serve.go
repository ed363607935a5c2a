// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ankanpy/qwen3-ollama/internal/config"
	"github.com/ankanpy/qwen3-ollama/internal/server"
)

// serveOptions are the serve flags. They are reapplied on every config
// reload so a file change cannot undo them.
type serveOptions struct {
	addr     string
	noTyping bool
	watch    bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI",
		Long: `Start the web UI and stream generations from the local Ollama install.

The config file is watched while the server runs; edits to the typing
delay, rate limits, model preferences and Ollama settings apply without a
restart. The listen address only changes on restart.`,
		Example: `  reasonweb serve
  reasonweb serve --addr 127.0.0.1:9000 --no-typing
  reasonweb serve --config ./reasonweb.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.noTyping, "no-typing", false, "Disable the typing animation")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "Reload the config file when it changes")
	return cmd
}

// apply returns a copy of cfg with the flag overrides in place.
func (o *serveOptions) apply(cfg *config.Config) *config.Config {
	next := cfg.Clone()
	if o.addr != "" {
		next.Server.Addr = o.addr
	}
	if o.noTyping {
		next.Stream.Typing = false
	}
	return next
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	ctx := cmd.Context()

	base, path, err := loadConfig(root)
	if err != nil {
		return err
	}
	cfg := opts.apply(base)
	if err := opts.validate(cfg, path); err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Config:    cfg,
		Version:   Version,
		Logger:    log.Default(),
		NewOllama: ollamaFactory,
	})
	if err != nil {
		return &CommandError{Command: "serve", Action: "start", Reason: "could not build server", Err: err}
	}

	// Both reload paths install the new config globally before applying it.
	apply := func() {
		srv.ApplyConfig(ctx, opts.apply(config.Global()))
	}
	if opts.watch && path != "" {
		err := config.Watch(ctx, path, config.DefaultDebounce, func(*config.Config) { apply() })
		if err != nil {
			log.Printf("CONFIG_WATCH_DISABLED | path=%s error=%v", path, err)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, path, apply)

	printBanner(cmd.ErrOrStderr(), cfg, path)
	return srv.Run(ctx)
}

// validate checks the effective serve config. A bad --addr is a usage
// error; anything else came from the config file or environment.
func (o *serveOptions) validate(cfg *config.Config, path string) error {
	err := cfg.Validate()
	if err == nil {
		return nil
	}

	var errs config.ValidateErrors
	if o.addr != "" && errors.As(err, &errs) {
		for _, e := range errs {
			if e.Field == "server.addr" {
				return NewValidationErrorWithExample("addr", o.addr, e.Message, "--addr 127.0.0.1:7860")
			}
		}
	}
	return &ConfigError{Path: path, Err: err}
}

// reloadConfig re-reads the config the server started from and installs it
// as the global config. With no file, the default locations are searched
// again.
func reloadConfig(path string) error {
	if path == "" {
		return config.ReloadGlobal()
	}
	_, err := config.ReloadFrom(path)
	return err
}

// reloadOnSignal reloads the config and calls apply for every signal received
// until ctx is done.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, path string, apply func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := reloadConfig(path); err != nil {
				log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", path, err)
				continue
			}
			log.Printf("CONFIG_RELOADED | path=%s signal=hup", path)
			apply()
		}
	}
}

// printBanner shows where the UI can be reached.
func printBanner(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, TitleStyle.Render(cfg.UI.Title))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("URL"), ValueStyle.Render(displayURL(cfg.Server.Addr)))
	if path == "" {
		path = "(defaults)"
	}
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Config"), ValueStyle.Render(path))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Ollama"), ValueStyle.Render(cfg.Ollama.Binary))
	fmt.Fprintln(w, DimStyle.Render("Press Ctrl+C to stop."))
}

// displayURL turns a listen address into a URL a browser on this machine can
// open. Wildcard hosts become localhost.
func displayURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
