package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"detentd/internal/debounce"
	"detentd/internal/tick"
)

// Config is the top-level YAML configuration for the detentd daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. Precedence, lowest first: DefaultConfig, config file,
// DETENTD_* environment variables, command-line flags.
type Config struct {
	// Where samples come from
	Sampler SamplerConfig `yaml:"sampler"`

	// Sampling rate
	Tick TickConfig `yaml:"tick"`

	Encoder EncoderConfig `yaml:"encoder"`
	Button  ButtonConfig  `yaml:"button"`

	// State WebSocket server (empty listen disables it)
	StateWS StateWSConfig `yaml:"state_ws"`

	// IPC configuration (used by detent-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// Periodic counter logging
	Display DisplayConfig `yaml:"display"`

	Runtime RuntimeConfig `yaml:"runtime"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type SamplerConfig struct {
	Kind string `yaml:"kind"` // "gpio" or "replay"

	// GPIO character device and line offsets
	Chip  string      `yaml:"chip"`
	Lines LinesConfig `yaml:"lines"`

	// Bit positions of each input inside a sample
	Bits BitsConfig `yaml:"bits"`

	// A line pulled up at rest reads high; active-low inverts it so that
	// the encoder rest position reads 00.
	EncoderActiveLow bool `yaml:"encoder_active_low"`
	ButtonActiveLow  bool `yaml:"button_active_low"`
	PullUp           bool `yaml:"pull_up"`

	// Replay source
	ReplayFile string `yaml:"replay_file,omitempty"`
	ReplayLoop bool   `yaml:"replay_loop,omitempty"`
}

type LinesConfig struct {
	A      int `yaml:"a"`
	B      int `yaml:"b"`
	Button int `yaml:"button"`
}

type BitsConfig struct {
	A      uint `yaml:"a"`
	B      uint `yaml:"b"`
	Button uint `yaml:"button"`
}

type TickConfig struct {
	RateHz int `yaml:"rate_hz"`
}

type EncoderConfig struct {
	Enabled bool `yaml:"enabled"`
	Reverse bool `yaml:"reverse"`
}

type ButtonConfig struct {
	Enabled bool `yaml:"enabled"`

	// Window is the number of consecutive closed samples that make a press (1..15).
	Window int    `yaml:"window"`
	Mode   string `yaml:"mode"` // "edge" or "level"

	// MaxBounceHz is the highest contact bounce frequency expected from the
	// switch. Only used to warn about a rate that is too low; 0 disables the check.
	MaxBounceHz int `yaml:"max_bounce_hz"`
}

type StateWSConfig struct {
	Listen       string `yaml:"listen"`
	Path         string `yaml:"path"`
	SendBuf      int    `yaml:"send_buf"`
	BroadcastBuf int    `yaml:"broadcast_buf"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type DisplayConfig struct {
	IntervalMS int `yaml:"interval_ms"` // 0 disables
}

type RuntimeConfig struct {
	LockMemory bool `yaml:"lock_memory"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Sampler: SamplerConfig{
			Kind: "gpio",
			Chip: defaultGPIOChip,
			Lines: LinesConfig{
				A:      defaultLineA,
				B:      defaultLineB,
				Button: defaultLineButton,
			},
			Bits: BitsConfig{
				A:      defaultBitA,
				B:      defaultBitB,
				Button: defaultBitButton,
			},
			EncoderActiveLow: true,
			ButtonActiveLow:  true,
			PullUp:           true,
		},
		Tick: TickConfig{
			RateHz: defaultRateHz,
		},
		Encoder: EncoderConfig{
			Enabled: true,
		},
		Button: ButtonConfig{
			Enabled:     true,
			Window:      defaultButtonWindow,
			Mode:        debounce.Edge.String(),
			MaxBounceHz: defaultMaxBounceHz,
		},
		StateWS: StateWSConfig{
			Listen: defaultStateWSListen,
			Path:   defaultStateWSPath,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		Display: DisplayConfig{
			IntervalMS: defaultDisplayIntervalMS,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document. A yaml.Node
	// accepts any content, so KnownFields cannot mask a second document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ============================================================================
// Overrides
// ============================================================================

// EnvOverrides holds DETENTD_* environment variables. A nil field means the
// variable was not set.
type EnvOverrides struct {
	SamplerKind *string `env:"SAMPLER_KIND"`
	GPIOChip    *string `env:"GPIO_CHIP"`
	ReplayFile  *string `env:"REPLAY_FILE"`
	ReplayLoop  *bool   `env:"REPLAY_LOOP"`

	RateHz       *int    `env:"RATE_HZ"`
	ButtonWindow *int    `env:"BUTTON_WINDOW"`
	ButtonMode   *string `env:"BUTTON_MODE"`
	Reverse      *bool   `env:"ENCODER_REVERSE"`

	StateWSListen *string `env:"STATE_WS_LISTEN"`
	IPCSocketPath *string `env:"IPC_SOCKET"`
	LockMemory    *bool   `env:"LOCK_MEMORY"`
	LogLevel      *string `env:"LOG_LEVEL"`
}

// LoadEnvOverrides parses DETENTD_* variables from environ, or from the
// process environment when environ is nil.
func LoadEnvOverrides(environ map[string]string) (EnvOverrides, error) {
	var o EnvOverrides
	opts := env.Options{Prefix: "DETENTD_", Environment: environ}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Apply merges the environment overrides into cfg. EnvOverrides and
// FlagOverrides have identical fields, so the conversion is free.
func (o EnvOverrides) Apply(cfg *Config) {
	FlagOverrides(o).Apply(cfg)
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; main.go decides which flags were actually set.
type FlagOverrides struct {
	SamplerKind *string
	GPIOChip    *string
	ReplayFile  *string
	ReplayLoop  *bool

	RateHz       *int
	ButtonWindow *int
	ButtonMode   *string
	Reverse      *bool

	StateWSListen *string
	IPCSocketPath *string
	LockMemory    *bool

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.SamplerKind != nil {
		cfg.Sampler.Kind = *o.SamplerKind
	}
	if o.GPIOChip != nil {
		cfg.Sampler.Chip = *o.GPIOChip
	}
	if o.ReplayFile != nil {
		cfg.Sampler.ReplayFile = *o.ReplayFile
	}
	if o.ReplayLoop != nil {
		cfg.Sampler.ReplayLoop = *o.ReplayLoop
	}

	if o.RateHz != nil {
		cfg.Tick.RateHz = *o.RateHz
	}
	if o.ButtonWindow != nil {
		cfg.Button.Window = *o.ButtonWindow
	}
	if o.ButtonMode != nil {
		cfg.Button.Mode = *o.ButtonMode
	}
	if o.Reverse != nil {
		cfg.Encoder.Reverse = *o.Reverse
	}

	if o.StateWSListen != nil {
		cfg.StateWS.Listen = *o.StateWSListen
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.LockMemory != nil {
		cfg.Runtime.LockMemory = *o.LockMemory
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// ============================================================================
// Validation
// ============================================================================

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Sampler
	switch c.Sampler.Kind {
	case "gpio":
		if c.Sampler.Chip == "" {
			return errors.New("sampler.chip must not be empty")
		}
		l := c.Sampler.Lines
		if l.A < 0 || l.B < 0 || l.Button < 0 {
			return errors.New("sampler.lines offsets must be >= 0")
		}
		if l.A == l.B || (c.Button.Enabled && (l.Button == l.A || l.Button == l.B)) {
			return errors.New("sampler.lines must be distinct")
		}
	case "replay":
		if c.Sampler.ReplayFile == "" {
			return errors.New("sampler.replay_file must be set when sampler.kind is replay")
		}
	default:
		return fmt.Errorf("sampler.kind must be %q or %q", "gpio", "replay")
	}

	bits := c.Sampler.Bits
	if bits.A > 31 || bits.B > 31 || bits.Button > 31 {
		return errors.New("sampler.bits must be between 0 and 31")
	}
	if bits.A == bits.B || bits.Button == bits.A || bits.Button == bits.B {
		return errors.New("sampler.bits must be distinct")
	}

	// Tick
	if c.Tick.RateHz <= 0 || c.Tick.RateHz > maxRateHz {
		return fmt.Errorf("tick.rate_hz must be between 1 and %d", maxRateHz)
	}

	// Inputs
	if !c.Encoder.Enabled && !c.Button.Enabled {
		return errors.New("at least one of encoder.enabled and button.enabled must be true")
	}
	if c.Button.Window < 1 || c.Button.Window > debounce.MaxWindow {
		return fmt.Errorf("button.window must be between 1 and %d", debounce.MaxWindow)
	}
	if _, err := debounce.ParseMode(c.Button.Mode); err != nil {
		return fmt.Errorf("button.mode: %w", err)
	}
	if c.Button.MaxBounceHz < 0 {
		return errors.New("button.max_bounce_hz must be >= 0")
	}

	// State WS
	if c.StateWS.Listen != "" && !strings.HasPrefix(c.StateWS.Path, "/") {
		return errors.New("state_ws.path must start with /")
	}
	if c.StateWS.SendBuf < 0 || c.StateWS.BroadcastBuf < 0 {
		return errors.New("state_ws buffer sizes must be >= 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.Display.IntervalMS < 0 {
		return errors.New("display.interval_ms must be >= 0")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// Layout returns where each input sits in a sample.
func (c *Config) Layout() tick.Layout {
	return tick.Layout{
		A:               c.Sampler.Bits.A,
		B:               c.Sampler.Bits.B,
		Button:          c.Sampler.Bits.Button,
		ButtonActiveLow: c.Sampler.ButtonActiveLow,
	}
}

// ButtonMode returns the parsed button.mode. Call after Validate.
func (c *Config) ButtonMode() debounce.Mode {
	m, err := debounce.ParseMode(c.Button.Mode)
	if err != nil {
		return debounce.Edge
	}
	return m
}

// RateTooLow reports whether the tick rate is below twice the highest
// expected bounce frequency, which lets bounces alias into the filter.
func (c *Config) RateTooLow() bool {
	return c.Button.Enabled && c.Button.MaxBounceHz > 0 && c.Tick.RateHz < 2*c.Button.MaxBounceHz
}

// withoutLogging returns a copy of c with the runtime-reloadable keys cleared,
// so two configs can be compared for changes that need a restart.
func (c Config) withoutLogging() Config {
	c.Logging = LoggingConfig{}
	return c
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
