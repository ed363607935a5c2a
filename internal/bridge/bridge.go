// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os/exec"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ankanpy/qwen3-ollama/internal/ollama"
	"github.com/ankanpy/qwen3-ollama/internal/util"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Ollama is the subset of the ollama client used by the bridge.
// *ollama.Client satisfies it.
type Ollama interface {
	IsAvailable(ctx context.Context) bool
	ListModels(ctx context.Context) []string
	Command(ctx context.Context, args ...string) *exec.Cmd
}

// Config holds bridge options.
type Config struct {
	// CharDelay is the typing pause after each visible character (0 disables it).
	CharDelay time.Duration

	// WaitTimeout bounds the wait for process exit after its output closes (default: 10s).
	WaitTimeout time.Duration

	// Logger receives lifecycle events (default: log.Default()).
	Logger *log.Logger
}

// DefaultWaitTimeout is used when Config.WaitTimeout is zero.
const DefaultWaitTimeout = 10 * time.Second

// killGrace bounds Wait after the process was killed, in case descendants
// keep the output pipes open.
const killGrace = 2 * time.Second

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge turns generation requests into streams of growing text snapshots
// produced by `ollama run`.
//
// A Bridge holds no per-request state and is safe for concurrent use. Each
// stream owns its process and accumulator.
type Bridge struct {
	ollama      Ollama
	typist      *Typist
	waitTimeout time.Duration
	logger      *log.Logger
}

// New creates a bridge over the given ollama client.
func New(o Ollama, cfg Config) *Bridge {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Bridge{
		ollama:      o,
		typist:      NewTypist(cfg.CharDelay),
		waitTimeout: cfg.WaitTimeout,
		logger:      cfg.Logger,
	}
}

// Stream returns the snapshot sequence for req.
//
// The sequence is lazy: nothing runs until it is iterated. It can be iterated
// once; later iterations yield nothing. Every path ends with exactly one
// snapshot whose Final flag is set, unless the consumer stops early. Stopping
// early or canceling ctx kills the process, and the process is always reaped
// before the sequence returns.
func (b *Bridge) Stream(ctx context.Context, req Request) iter.Seq[Snapshot] {
	var used atomic.Bool
	return func(yield func(Snapshot) bool) {
		if used.Swap(true) {
			return
		}
		b.stream(ctx, req, yield)
	}
}

// Texts projects a snapshot sequence onto its plain text items.
func Texts(seq iter.Seq[Snapshot]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for s := range seq {
			if !yield(s.Text) {
				return
			}
		}
	}
}

// Collect drains seq and returns its last snapshot.
func Collect(seq iter.Seq[Snapshot]) Snapshot {
	var last Snapshot
	for s := range seq {
		last = s
	}
	return last
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

// check validates req in order and returns the final error snapshot of the
// first failed precondition.
func (b *Bridge) check(ctx context.Context, req Request) (Snapshot, bool) {
	if req.Model == "" {
		return finalSnapshot(MsgNoModel, failure(ErrorValidation, "model is empty")), false
	}
	if util.IsBlank(req.Prompt) {
		return finalSnapshot(MsgEmptyPrompt, failure(ErrorValidation, "prompt is blank")), false
	}
	if ctx.Err() != nil {
		return finalSnapshot(MsgCanceled, failure(ErrorCanceled, ctx.Err().Error())), false
	}
	if !b.ollama.IsAvailable(ctx) {
		return finalSnapshot(MsgNotRunning, failure(ErrorEnvironment, "health check failed")), false
	}
	models := b.ollama.ListModels(ctx)
	if !slices.Contains(models, req.Model) {
		msg := fmt.Sprintf(msgModelNotFound, req.Model, models)
		return finalSnapshot(msg, failure(ErrorEnvironment, "model not installed")), false
	}
	return Snapshot{}, true
}

// =============================================================================
// STREAMING
// =============================================================================

// generation is the state of one in-flight request.
type generation struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stderr bytes.Buffer
	acc    strings.Builder
	yield  func(Snapshot) bool
	reaped bool
}

// kill terminates and reaps the process. Safe to call more than once.
func (g *generation) kill() {
	if g.reaped || g.cmd.Process == nil {
		return
	}
	g.reaped = true
	_ = g.cmd.Process.Kill()
	_ = g.cmd.Wait()
}

// failWithPartial emits msg and, when text was already produced, the
// accumulated text as the trailing final item.
func (g *generation) failWithPartial(msg string, o Outcome) {
	if g.acc.Len() == 0 {
		g.yield(finalSnapshot(msg, o))
		return
	}
	if !g.yield(Snapshot{Text: msg}) {
		return
	}
	g.yield(finalSnapshot(g.acc.String(), o))
}

func (g *generation) unexpected(err error) {
	g.failWithPartial(fmt.Sprintf(msgUnexpected, err), failure(ErrorUnexpected, err.Error()))
}

func (g *generation) canceled() {
	g.yield(finalSnapshot(MsgCanceled, failure(ErrorCanceled, context.Cause(g.ctx).Error())))
}

func (b *Bridge) stream(ctx context.Context, req Request, yield func(Snapshot) bool) {
	if snap, ok := b.check(ctx, req); !ok {
		b.logger.Printf("BRIDGE_REJECTED | model=%s reason=%s", req.Model, snap.Outcome.Detail)
		yield(snap)
		return
	}

	start := time.Now()
	g := &generation{ctx: ctx, yield: yield}
	g.cmd = b.ollama.Command(ctx, "run", req.Model)
	g.cmd.Stderr = &g.stderr
	g.cmd.WaitDelay = killGrace

	stdin, err := g.cmd.StdinPipe()
	if err != nil {
		g.unexpected(err)
		return
	}
	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		g.unexpected(err)
		return
	}

	if err := g.cmd.Start(); err != nil {
		if ollama.IsNotFound(err) {
			b.logger.Printf("BRIDGE_NOT_INSTALLED | binary=%s error=%v", g.cmd.Path, err)
			yield(finalSnapshot(MsgNotInstalled, failure(ErrorEnvironment, err.Error())))
			return
		}
		g.unexpected(err)
		return
	}
	defer g.kill()

	b.logger.Printf("BRIDGE_SPAWN | pid=%d model=%s mode=%s prompt=%q",
		g.cmd.Process.Pid, req.Model, req.Mode, util.TruncateRunes(util.SingleLine(req.Prompt), 60))

	// The whole prompt goes in before any output is read; stdin is closed so
	// the model sees end of input.
	if _, err := io.WriteString(stdin, ComposePrompt(req.Prompt, req.Mode)+"\n"); err != nil {
		stdin.Close()
		g.kill()
		g.unexpected(fmt.Errorf("write prompt: %w", err))
		return
	}
	if err := stdin.Close(); err != nil {
		g.kill()
		g.unexpected(fmt.Errorf("close stdin: %w", err))
		return
	}

	if !b.pump(g, stdout) {
		return
	}

	if ctx.Err() != nil {
		g.kill()
		g.canceled()
		return
	}

	code, ok := b.wait(g)
	if !ok {
		return
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	text := g.acc.String()
	switch {
	case code != 0:
		detail := strings.TrimSpace(g.stderr.String())
		block := fmt.Sprintf(errorBlockFormat, code, detail)
		if text == "" {
			text = strings.TrimSpace(block)
		} else if !strings.HasSuffix(text, block) {
			text += block
		}
		b.logger.Printf("BRIDGE_DONE | model=%s outcome=error code=%d chars=%d elapsed=%s", req.Model, code, len(text), elapsed)
		yield(finalSnapshot(text, failure(ErrorRuntime, detail)))

	case util.IsBlank(text):
		b.logger.Printf("BRIDGE_DONE | model=%s outcome=empty elapsed=%s", req.Model, elapsed)
		yield(finalSnapshot(MsgEmptyResponse, Outcome{Kind: OutcomeEmpty}))

	default:
		b.logger.Printf("BRIDGE_DONE | model=%s outcome=success chars=%d elapsed=%s", req.Model, len(text), elapsed)
		yield(finalSnapshot(text, Outcome{Kind: OutcomeSuccess}))
	}
}

// pump reads stdout line by line and emits one snapshot per rune. Output
// that is not valid UTF-8 ends the generation as an unexpected failure. It returns
// false when the sequence has already ended: the consumer stopped, or a read
// failure was reported.
func (b *Bridge) pump(g *generation, stdout io.Reader) bool {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		for i := 0; i < len(line); {
			r, size := utf8.DecodeRuneInString(line[i:])
			if r == utf8.RuneError && size == 1 {
				g.kill()
				g.unexpected(fmt.Errorf("read output: invalid UTF-8 byte 0x%02x", line[i]))
				return false
			}
			i += size

			g.acc.WriteRune(r)
			if !g.yield(Snapshot{Text: g.acc.String()}) {
				g.kill()
				b.logger.Printf("BRIDGE_STOPPED | pid=%d chars=%d", g.cmd.Process.Pid, g.acc.Len())
				return false
			}
			if !b.typist.Pause(g.ctx, r) {
				// Context ended; the caller reports cancellation.
				return true
			}
		}

		if err == io.EOF {
			return true
		}
		if err != nil {
			g.kill()
			if g.ctx.Err() != nil {
				g.canceled()
			} else {
				g.unexpected(fmt.Errorf("read output: %w", err))
			}
			return false
		}
	}
}

// wait reaps the process after its output closed, bounded by the wait
// timeout. It returns the exit code, or false when a terminal item was
// already emitted.
func (b *Bridge) wait(g *generation) (int, bool) {
	waitCh := make(chan error, 1)
	go func() {
		waitCh <- g.cmd.Wait()
	}()

	timer := time.NewTimer(b.waitTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-waitCh:
		g.reaped = true

	case <-timer.C:
		_ = g.cmd.Process.Kill()
		<-waitCh
		g.reaped = true
		b.logger.Printf("BRIDGE_TIMEOUT | pid=%d wait=%s", g.cmd.Process.Pid, b.waitTimeout)
		g.failWithPartial(MsgWaitTimeout, failure(ErrorTimeout, "wait exceeded "+b.waitTimeout.String()))
		return 0, false

	case <-g.ctx.Done():
		_ = g.cmd.Process.Kill()
		<-waitCh
		g.reaped = true
		g.canceled()
		return 0, false
	}

	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if g.ctx.Err() != nil {
			g.canceled()
			return 0, false
		}
		return exitCode(exitErr), true
	}
	g.unexpected(fmt.Errorf("wait: %w", err))
	return 0, false
}
