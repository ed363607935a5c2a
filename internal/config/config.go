// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ankanpy/qwen3-ollama/internal/util"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that reads and writes as a Go duration string
// ("10s", "20ms") in both TOML and JSON files.
type Duration struct {
	time.Duration
}

// D is shorthand for constructing a Duration.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete reasonweb configuration.
type Config struct {
	Server ServerConfig `toml:"server" json:"server"`
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`
	Stream StreamConfig `toml:"stream" json:"stream"`
	UI     UIConfig     `toml:"ui" json:"ui"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address. Binds all interfaces on a fixed port by default.
	Addr         string   `toml:"addr" json:"addr"`
	ReadTimeout  Duration `toml:"read_timeout" json:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout" json:"write_timeout"`
	// MaxPromptBytes caps the size of a submitted prompt.
	MaxPromptBytes int `toml:"max_prompt_bytes" json:"max_prompt_bytes"`
	// RateLimit is the sustained number of generate requests per second per client IP.
	// Zero disables rate limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// OllamaConfig describes how the external ollama tool is invoked.
type OllamaConfig struct {
	// Binary is the executable name or path.
	Binary string `toml:"binary" json:"binary"`
	// HealthArgs is the argument list of the availability check.
	HealthArgs    []string `toml:"health_args" json:"health_args"`
	ListTimeout   Duration `toml:"list_timeout" json:"list_timeout"`
	StatusTimeout Duration `toml:"status_timeout" json:"status_timeout"`
	// WaitTimeout bounds the wait for process exit after its output stream closes.
	WaitTimeout Duration `toml:"wait_timeout" json:"wait_timeout"`
}

// StreamConfig controls the simulated typing animation.
type StreamConfig struct {
	// Typing enables the per-character delay.
	Typing bool `toml:"typing" json:"typing"`
	// CharDelay is the pause after each non-whitespace character.
	CharDelay Duration `toml:"char_delay" json:"char_delay"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	Title string `toml:"title" json:"title"`
	// PreferredModel is selected when present in the model listing.
	PreferredModel string `toml:"preferred_model" json:"preferred_model"`
	// PreferredMarker selects the first model whose name contains it.
	PreferredMarker string `toml:"preferred_marker" json:"preferred_marker"`
	// FallbackExampleModel is used by the second example prompt when the
	// preferred model is the only candidate.
	FallbackExampleModel string `toml:"fallback_example_model" json:"fallback_example_model"`
	// Modes lists the reasoning modes offered by the form and accepted by the API.
	Modes []string `toml:"modes" json:"modes"`
	// RefreshInterval periodically refreshes the model catalog. Zero disables it.
	RefreshInterval Duration `toml:"refresh_interval" json:"refresh_interval"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "0.0.0.0:7860",
			ReadTimeout:    D(30 * time.Second),
			WriteTimeout:   D(0), // streaming responses are unbounded
			MaxPromptBytes: 64 * 1024,
			RateLimit:      1,
			RateBurst:      5,
		},
		Ollama: OllamaConfig{
			Binary:        "ollama",
			HealthArgs:    []string{"ps"},
			ListTimeout:   D(10 * time.Second),
			StatusTimeout: D(5 * time.Second),
			WaitTimeout:   D(10 * time.Second),
		},
		Stream: StreamConfig{
			Typing:    true,
			CharDelay: D(20 * time.Millisecond),
		},
		UI: UIConfig{
			Title:                "Qwen3 Reasoning with Ollama",
			PreferredModel:       "qwen3:4b",
			PreferredMarker:      "qwen",
			FallbackExampleModel: "qwen3:1.7b",
			Modes:                []string{"think", "no_think"},
			RefreshInterval:      D(0),
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the reasonweb configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".reasonweb"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ResolvePath returns the file Load would read, or "" when only defaults apply.
func ResolvePath() string {
	for _, fn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		p, err := fn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default locations.
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if path := ResolvePath(); path != "" {
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
// Files ending in .json are decoded as JSON, everything else as TOML.
// Keys missing from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	} else {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path in TOML format.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, port, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", c.Server.Addr, err),
		})
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("invalid port %q", port),
		})
	}

	if c.Server.MaxPromptBytes <= 0 {
		errs = append(errs, ValidationError{Field: "server.max_prompt_bytes", Message: "must be positive"})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must be positive when rate_limit is set"})
	}

	if strings.TrimSpace(c.Ollama.Binary) == "" {
		errs = append(errs, ValidationError{Field: "ollama.binary", Message: "must not be empty"})
	}
	if len(c.Ollama.HealthArgs) == 0 {
		errs = append(errs, ValidationError{Field: "ollama.health_args", Message: "must name a subcommand"})
	}
	for field, d := range map[string]Duration{
		"ollama.list_timeout":   c.Ollama.ListTimeout,
		"ollama.status_timeout": c.Ollama.StatusTimeout,
		"ollama.wait_timeout":   c.Ollama.WaitTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}

	if c.Stream.CharDelay.Duration < 0 || c.Stream.CharDelay.Duration > time.Second {
		errs = append(errs, ValidationError{
			Field:   "stream.char_delay",
			Message: fmt.Sprintf("must be between 0 and 1s, got %s", c.Stream.CharDelay),
		})
	}

	if len(c.UI.Modes) == 0 {
		errs = append(errs, ValidationError{Field: "ui.modes", Message: "at least one mode is required"})
	}
	seen := make(map[string]bool, len(c.UI.Modes))
	for _, m := range c.UI.Modes {
		if strings.TrimSpace(m) == "" || strings.ContainsAny(m, " \t\r\n/") {
			errs = append(errs, ValidationError{Field: "ui.modes", Message: fmt.Sprintf("invalid mode %q", m)})
			continue
		}
		if seen[m] {
			errs = append(errs, ValidationError{Field: "ui.modes", Message: fmt.Sprintf("duplicate mode %q", m)})
		}
		seen[m] = true
	}
	if c.UI.RefreshInterval.Duration < 0 {
		errs = append(errs, ValidationError{Field: "ui.refresh_interval", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.MaxPromptBytes == 0 {
		c.Server.MaxPromptBytes = defaults.Server.MaxPromptBytes
	}

	if c.Ollama.Binary == "" {
		c.Ollama.Binary = defaults.Ollama.Binary
	}
	if len(c.Ollama.HealthArgs) == 0 {
		c.Ollama.HealthArgs = defaults.Ollama.HealthArgs
	}
	if c.Ollama.ListTimeout.Duration == 0 {
		c.Ollama.ListTimeout = defaults.Ollama.ListTimeout
	}
	if c.Ollama.StatusTimeout.Duration == 0 {
		c.Ollama.StatusTimeout = defaults.Ollama.StatusTimeout
	}
	if c.Ollama.WaitTimeout.Duration == 0 {
		c.Ollama.WaitTimeout = defaults.Ollama.WaitTimeout
	}

	if c.UI.Title == "" {
		c.UI.Title = defaults.UI.Title
	}
	if c.UI.FallbackExampleModel == "" {
		c.UI.FallbackExampleModel = defaults.UI.FallbackExampleModel
	}
	if len(c.UI.Modes) == 0 {
		c.UI.Modes = defaults.UI.Modes
	}
}

// EffectiveCharDelay returns the typing delay, or zero when typing is disabled.
func (c *Config) EffectiveCharDelay() time.Duration {
	if !c.Stream.Typing {
		return 0
	}
	return c.Stream.CharDelay.Duration
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - REASONWEB_ADDR: overrides server.addr
//   - REASONWEB_OLLAMA_BIN: overrides ollama.binary
//   - REASONWEB_CHAR_DELAY: overrides stream.char_delay (Go duration)
//   - REASONWEB_NO_TYPING: set to "1" or "true" to disable the typing animation
//   - REASONWEB_PREFERRED_MODEL: overrides ui.preferred_model
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("REASONWEB_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	if bin := os.Getenv("REASONWEB_OLLAMA_BIN"); bin != "" {
		c.Ollama.Binary = bin
	}

	if delay := os.Getenv("REASONWEB_CHAR_DELAY"); delay != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(delay)); err == nil {
			c.Stream.CharDelay = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring REASONWEB_CHAR_DELAY: %v\n", err)
		}
	}

	if noTyping := os.Getenv("REASONWEB_NO_TYPING"); noTyping != "" {
		if noTyping == "1" || strings.EqualFold(noTyping, "true") {
			c.Stream.Typing = false
		}
	}

	if model := os.Getenv("REASONWEB_PREFERRED_MODEL"); model != "" {
		c.UI.PreferredModel = model
	}
}

// =============================================================================
// CLONE
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Ollama.HealthArgs = append([]string(nil), c.Ollama.HealthArgs...)
	clone.UI.Modes = append([]string(nil), c.UI.Modes...)
	return &clone
}

// HasMode reports whether mode is one of the configured reasoning modes.
func (c *Config) HasMode(mode string) bool {
	for _, m := range c.UI.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// ErrNoConfig is returned by ReloadFrom when the path is empty.
var ErrNoConfig = errors.New("no config file to reload")

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ReloadFrom re-reads path and, if valid, installs it as the global config.
// The previous configuration stays in place when the file is invalid.
func ReloadFrom(path string) (*Config, error) {
	if path == "" {
		return nil, ErrNoConfig
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	SetGlobal(cfg)
	return cfg, nil
}

// ReloadGlobal reloads configuration from the default locations and installs it.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
