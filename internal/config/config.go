// ABOUTME: chunkplay runtime configuration
// ABOUTME: Defaults, then a TOML file, then .env and CHUNKPLAY_* environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
	"github.com/Resonate-Protocol/chunkplay/pkg/fetch"
	"github.com/Resonate-Protocol/chunkplay/pkg/latency"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CHUNKPLAY_"

// Config holds chunkplay configuration loaded from TOML
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Playback PlaybackConfig `toml:"playback"`
	Latency  LatencyConfig  `toml:"latency"`
	Backoff  BackoffConfig  `toml:"backoff"`
	Output   OutputConfig   `toml:"output"`
	Log      LogConfig      `toml:"log"`
	Relay    RelayConfig    `toml:"relay"`
}

// ServerConfig locates the chunk server
type ServerConfig struct {
	// URL of the chunk server; empty means discover it over mDNS
	URL                string `toml:"url"`
	DiscoveryTimeoutMS int    `toml:"discovery_timeout_ms"`
}

type PlaybackConfig struct {
	Mode                 string   `toml:"mode"`
	Preset               string   `toml:"preset"`
	Presets              []string `toml:"presets"`
	Volume               int      `toml:"volume"`
	PrefetchAhead        int      `toml:"prefetch_ahead"`
	PrefetchConcurrency  int      `toml:"prefetch_concurrency"`
	FallbackToWholeTrack bool     `toml:"fallback_to_whole_track"`
	TimeUpdateMS         int      `toml:"time_update_ms"`
}

// LatencyConfig tunes the adaptive fetch timeout
type LatencyConfig struct {
	WindowSize           int     `toml:"window_size"`
	RetuneEvery          int     `toml:"retune_every"`
	MinSamples           int     `toml:"min_samples"`
	Percentile           float64 `toml:"percentile"`
	SafetyMargin         float64 `toml:"safety_margin"`
	MinTimeoutMS         int     `toml:"min_timeout_ms"`
	MaxTimeoutMS         int     `toml:"max_timeout_ms"`
	DefaultTimeoutMS     int     `toml:"default_timeout_ms"`
	Hysteresis           float64 `toml:"hysteresis"`
	RegimeChangeTimeouts int     `toml:"regime_change_timeouts"`
}

// BackoffConfig spaces chunk fetch retries
type BackoffConfig struct {
	BaseDelayMS int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	Jitter      float64 `toml:"jitter"`
	MaxRetries  int     `toml:"max_retries"`
}

type OutputConfig struct {
	// Backend is "oto" for the sound card or "null" for a silent clock-driven device
	Backend string `toml:"backend"`
}

// LogConfig controls console and rotating file logs
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type RelayConfig struct {
	// Addr is the websocket listen address; empty disables the relay
	Addr string `toml:"addr"`
}

// Default returns the stock configuration
func Default() Config {
	lat := latency.DefaultConfig()
	bo := fetch.DefaultBackoff()

	return Config{
		Server: ServerConfig{
			DiscoveryTimeoutMS: 3000,
		},
		Playback: PlaybackConfig{
			Mode:                 string(chunkplay.ModeChunked),
			Volume:               100,
			PrefetchAhead:        2,
			PrefetchConcurrency:  3,
			FallbackToWholeTrack: true,
			TimeUpdateMS:         250,
		},
		Latency: LatencyConfig{
			WindowSize:           lat.WindowSize,
			RetuneEvery:          lat.RetuneEvery,
			MinSamples:           lat.MinSamples,
			Percentile:           lat.Percentile,
			SafetyMargin:         lat.SafetyMargin,
			MinTimeoutMS:         int(lat.MinTimeout / time.Millisecond),
			MaxTimeoutMS:         int(lat.MaxTimeout / time.Millisecond),
			DefaultTimeoutMS:     int(lat.DefaultTimeout / time.Millisecond),
			Hysteresis:           lat.Hysteresis,
			RegimeChangeTimeouts: lat.RegimeChangeTimeouts,
		},
		Backoff: BackoffConfig{
			BaseDelayMS: int(bo.BaseDelay / time.Millisecond),
			Multiplier:  bo.Multiplier,
			MaxDelayMS:  int(bo.MaxDelay / time.Millisecond),
			Jitter:      bo.Jitter,
			MaxRetries:  bo.MaxRetries,
		},
		Output: OutputConfig{Backend: "oto"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration. An empty path uses the default location and
// tolerates it being absent. Environment variables override the file.
// It returns the config path that was consulted.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("failed to parse config %s: %w", cfgPath, err)
		}
	case path == "" && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, cfgPath, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, cfgPath, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// LoadDotEnv loads variables from .env files without overriding the
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// DefaultPath returns the OS-specific config file location
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chunkplay", "config.toml"), nil
}

// applyEnv overrides fields from CHUNKPLAY_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_URL": &c.Server.URL,
		"MODE":       &c.Playback.Mode,
		"PRESET":     &c.Playback.Preset,
		"OUTPUT":     &c.Output.Backend,
		"LOG_LEVEL":  &c.Log.Level,
		"LOG_FILE":   &c.Log.File,
		"RELAY_ADDR": &c.Relay.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"VOLUME":               &c.Playback.Volume,
		"PREFETCH_AHEAD":       &c.Playback.PrefetchAhead,
		"PREFETCH_CONCURRENCY": &c.Playback.PrefetchConcurrency,
		"DISCOVERY_TIMEOUT_MS": &c.Server.DiscoveryTimeoutMS,
		"MAX_RETRIES":          &c.Backoff.MaxRetries,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "PRESETS"); ok {
		c.Playback.Presets = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "FALLBACK_TO_WHOLE_TRACK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sFALLBACK_TO_WHOLE_TRACK: %w", EnvPrefix, err)
		}
		c.Playback.FallbackToWholeTrack = b
	}
	return nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if _, err := chunkplay.ParseMode(c.Playback.Mode); err != nil {
		return fmt.Errorf("playback.mode: %w", err)
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 100 {
		return fmt.Errorf("playback.volume must be 0-100, got %d", c.Playback.Volume)
	}
	if c.Playback.PrefetchAhead < 0 {
		return fmt.Errorf("playback.prefetch_ahead must not be negative")
	}
	switch c.Output.Backend {
	case "oto", "null":
	default:
		return fmt.Errorf("output.backend must be oto or null, got %q", c.Output.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Latency.MinTimeoutMS > 0 && c.Latency.MaxTimeoutMS > 0 && c.Latency.MinTimeoutMS > c.Latency.MaxTimeoutMS {
		return fmt.Errorf("latency.min_timeout_ms exceeds latency.max_timeout_ms")
	}
	return nil
}

// DiscoveryTimeout returns the mDNS browse timeout
func (c *Config) DiscoveryTimeout() time.Duration {
	return ms(c.Server.DiscoveryTimeoutMS)
}

// PlayerConfig converts the playback sections into a chunkplay.Config.
// Clock and Logger are left for the caller.
func (c *Config) PlayerConfig() chunkplay.Config {
	mode, _ := chunkplay.ParseMode(c.Playback.Mode)

	return chunkplay.Config{
		Mode:                 mode,
		Preset:               c.Playback.Preset,
		Volume:               c.Playback.Volume,
		PrefetchAhead:        c.Playback.PrefetchAhead,
		PrefetchConcurrency:  c.Playback.PrefetchConcurrency,
		FallbackToWholeTrack: c.Playback.FallbackToWholeTrack,
		TimeUpdateInterval:   ms(c.Playback.TimeUpdateMS),
		Backoff: fetch.Backoff{
			BaseDelay:  ms(c.Backoff.BaseDelayMS),
			Multiplier: c.Backoff.Multiplier,
			MaxDelay:   ms(c.Backoff.MaxDelayMS),
			Jitter:     c.Backoff.Jitter,
			MaxRetries: c.Backoff.MaxRetries,
		},
		Latency: latency.Config{
			WindowSize:           c.Latency.WindowSize,
			RetuneEvery:          c.Latency.RetuneEvery,
			MinSamples:           c.Latency.MinSamples,
			Percentile:           c.Latency.Percentile,
			SafetyMargin:         c.Latency.SafetyMargin,
			MinTimeout:           ms(c.Latency.MinTimeoutMS),
			MaxTimeout:           ms(c.Latency.MaxTimeoutMS),
			DefaultTimeout:       ms(c.Latency.DefaultTimeoutMS),
			Hysteresis:           c.Latency.Hysteresis,
			RegimeChangeTimeouts: c.Latency.RegimeChangeTimeouts,
		},
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
