// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// TYPES
// =============================================================================

// Lister returns the installed model identifiers.
// *ollama.Client satisfies it.
type Lister interface {
	ListModels(ctx context.Context) []string
}

// Preferences control the initial model selection and example prompts.
type Preferences struct {
	// PreferredModel is selected when installed (default: "qwen3:4b").
	PreferredModel string

	// PreferredMarker picks the first model containing it, case-insensitively
	// (default: "qwen").
	PreferredMarker string

	// FallbackExampleModel is used by the second example when the preferred
	// model is the only candidate (default: "qwen3:1.7b").
	FallbackExampleModel string
}

// DefaultPreferences returns the default selection preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		PreferredModel:       "qwen3:4b",
		PreferredMarker:      "qwen",
		FallbackExampleModel: "qwen3:1.7b",
	}
}

// Example is a clickable prompt preset.
type Example struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
}

// Snapshot is an immutable view of the catalog.
type Snapshot struct {
	Models      []string  `json:"models"`
	Selected    string    `json:"selected"`
	Examples    []Example `json:"examples"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// HasModel reports whether name is in the listing.
func (s Snapshot) HasModel(name string) bool {
	return slices.Contains(s.Models, name)
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog holds the current model listing and the selection derived from it.
// It is safe for concurrent use.
type Catalog struct {
	lister Lister
	logger *log.Logger

	mu      sync.RWMutex
	prefs   Preferences
	current Snapshot
}

// New creates a catalog. The listing is empty until Refresh is called.
func New(lister Lister, prefs Preferences) *Catalog {
	c := &Catalog{
		lister: lister,
		logger: log.Default(),
		prefs:  withDefaults(prefs),
	}
	c.current = Build(nil, c.prefs, time.Time{})
	return c
}

// SetLogger replaces the logger used for refresh events.
func (c *Catalog) SetLogger(l *log.Logger) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// SetPreferences replaces the preferences and recomputes the selection from
// the current listing without running the lister.
func (c *Catalog) SetPreferences(prefs Preferences) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs = withDefaults(prefs)
	c.current = Build(c.current.Models, c.prefs, c.current.RefreshedAt)
}

// Refresh runs the lister and installs a new snapshot.
func (c *Catalog) Refresh(ctx context.Context) Snapshot {
	models := c.lister.ListModels(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Build(models, c.prefs, time.Now())
	c.logger.Printf("CATALOG_REFRESHED | models=%d selected=%s", len(c.current.Models), c.current.Selected)
	return c.current
}

// Current returns the latest snapshot.
func (c *Catalog) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// RefreshEvery refreshes the catalog on interval until ctx ends.
// A non-positive interval returns immediately.
func (c *Catalog) RefreshEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// =============================================================================
// SELECTION
// =============================================================================

// Build derives a snapshot from a listing.
func Build(models []string, prefs Preferences, at time.Time) Snapshot {
	prefs = withDefaults(prefs)
	models = slices.Clone(models)
	if models == nil {
		models = []string{}
	}
	selected := SelectInitial(models, prefs)
	return Snapshot{
		Models:      models,
		Selected:    selected,
		Examples:    Examples(models, selected, prefs),
		RefreshedAt: at,
	}
}

// SelectInitial picks the model preselected in the form: the preferred model
// if installed, else the first model containing the marker, else the first
// model, else "".
func SelectInitial(models []string, prefs Preferences) string {
	if prefs.PreferredModel != "" && slices.Contains(models, prefs.PreferredModel) {
		return prefs.PreferredModel
	}
	if marker := strings.ToLower(prefs.PreferredMarker); marker != "" {
		for _, m := range models {
			if strings.Contains(strings.ToLower(m), marker) {
				return m
			}
		}
	}
	if len(models) > 0 {
		return models[0]
	}
	return ""
}

// Examples returns the three preset prompts bound to the selected model.
//
// With no selection the examples fall back to the first model, then to the
// preferred model. The second example never uses the preferred model; it
// switches to the fallback model instead.
func Examples(models []string, selected string, prefs Preferences) []Example {
	model := selected
	if model == "" && len(models) > 0 {
		model = models[0]
	} else if model == "" {
		model = prefs.PreferredModel
	}

	second := model
	if model == prefs.PreferredModel {
		second = prefs.FallbackExampleModel
	}

	return []Example{
		{Model: model, Prompt: "What are the main pros and cons of using nuclear energy?", Mode: "think"},
		{Model: second, Prompt: "Write a short poem about a rainy day.", Mode: "no_think"},
		{Model: model, Prompt: "Plan a 3-day trip to Paris, focusing on historical sites.", Mode: "think"},
	}
}

func withDefaults(p Preferences) Preferences {
	d := DefaultPreferences()
	if p.PreferredModel == "" {
		p.PreferredModel = d.PreferredModel
	}
	if p.FallbackExampleModel == "" {
		p.FallbackExampleModel = d.FallbackExampleModel
	}
	return p
}
