// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/util"
)

// ============================================================================
// REQUEST
// ============================================================================

// GenerateRequest is the body of POST /api/generate, sent as JSON or as a
// urlencoded or multipart form.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
}

// decodeGenerateRequest reads the request body according to its content type.
func decodeGenerateRequest(r *http.Request) (GenerateRequest, error) {
	var req GenerateRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return req, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return req, err
		}
	}

	req.Model = r.PostFormValue("model")
	req.Prompt = r.PostFormValue("prompt")
	req.Mode = r.PostFormValue("mode")
	return req, nil
}

// ============================================================================
// EVENTS
// ============================================================================

// SnapshotEvent is the data of a "snapshot" event: the full text so far.
type SnapshotEvent struct {
	Text string `json:"text"`
}

// DoneEvent is the data of the closing "done" event.
type DoneEvent struct {
	Status
	Outcome   bridge.Outcome `json:"outcome"`
	Text      string         `json:"text"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// eventWriter writes server-sent events and flushes each one.
type eventWriter struct {
	w   io.Writer
	rc  *http.ResponseController
	id  string
	seq int
}

func (e *eventWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.seq++
	if _, err := fmt.Fprintf(e.w, "id: %s-%d\nevent: %s\ndata: %s\n\n", e.id, e.seq, event, data); err != nil {
		return err
	}
	return e.rc.Flush()
}

// ============================================================================
// HANDLER
// ============================================================================

// handleGenerate handles POST /api/generate. Validation failures answer with
// a JSON error; everything after that, including bridge errors, is reported
// inside the event stream.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	rt := s.state.Load()
	cfg := rt.cfg
	requestID := RequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.Server.MaxPromptBytes)+formOverhead)
	req, err := decodeGenerateRequest(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if len(req.Prompt) > cfg.Server.MaxPromptBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Prompt exceeds maximum size of %d bytes", cfg.Server.MaxPromptBytes))
		return
	}
	if req.Mode == "" {
		req.Mode = cfg.UI.Modes[0]
	}
	if !cfg.HasMode(req.Mode) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Unknown reasoning mode %q. Expected one of: %s", req.Mode, strings.Join(cfg.UI.Modes, ", ")))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := &eventWriter{w: w, rc: http.NewResponseController(w), id: requestID}
	start := time.Now()
	s.logger.Printf("GENERATE_START | request_id=%s model=%s mode=%s prompt=%q",
		requestID, req.Model, req.Mode, util.TruncateRunes(util.SingleLine(req.Prompt), 60))

	if err := events.send("status", Status{Text: StatusPreparing, Level: LevelInfo}); err != nil {
		s.logger.Printf("GENERATE_ABORTED | request_id=%s error=%v", requestID, err)
		return
	}

	streaming := false
	var final *bridge.Snapshot
	var writeErr error

	seq := rt.bridge.Stream(r.Context(), bridge.Request{
		Model:  req.Model,
		Prompt: req.Prompt,
		Mode:   bridge.Mode(req.Mode),
	})
	for snap := range seq {
		if snap.Final {
			final = &snap
			break
		}
		if !streaming {
			streaming = true
			if writeErr = events.send("status", StatusFor(bridge.Outcome{}, "")); writeErr != nil {
				break
			}
		}
		if writeErr = events.send("snapshot", SnapshotEvent{Text: snap.Text}); writeErr != nil {
			break
		}
	}

	elapsed := time.Since(start)
	if final == nil {
		s.logger.Printf("GENERATE_ABORTED | request_id=%s model=%s elapsed=%s error=%v",
			requestID, req.Model, elapsed.Round(time.Millisecond), writeErr)
		return
	}

	status := StatusFor(final.Outcome, final.Text)
	text := final.Text
	if status.Text == StatusNoOutput {
		text = ""
	}
	if err := events.send("done", DoneEvent{
		Status:    status,
		Outcome:   final.Outcome,
		Text:      text,
		ElapsedMS: elapsed.Milliseconds(),
	}); err != nil {
		s.logger.Printf("GENERATE_ABORTED | request_id=%s error=%v", requestID, err)
		return
	}

	s.logger.Printf("GENERATE_DONE | request_id=%s model=%s mode=%s outcome=%s chars=%d elapsed=%s",
		requestID, req.Model, req.Mode, final.Outcome, len([]rune(final.Text)), elapsed.Round(time.Millisecond))
}
