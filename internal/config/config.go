package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Josue-Herrera/Jaxie/internal/audio"
	"github.com/Josue-Herrera/Jaxie/internal/inference"
	"github.com/Josue-Herrera/Jaxie/internal/logging"
)

// EnvPrefix is the environment prefix, e.g. JAXIE_AUDIO_BACKEND.
const EnvPrefix = "JAXIE"

type Config struct {
	LogLevel string      `mapstructure:"log_level" yaml:"log_level"`
	Audio    AudioConfig `mapstructure:"audio" yaml:"audio"`
	Model    ModelConfig `mapstructure:"model" yaml:"model"`
}

type AudioConfig struct {
	Backend        string  `mapstructure:"backend" yaml:"backend"` // portaudio, miniaudio, synthetic, null
	DeviceID       string  `mapstructure:"device_id" yaml:"device_id"`
	SampleRateHz   int     `mapstructure:"sample_rate_hz" yaml:"sample_rate_hz"`
	Channels       int     `mapstructure:"channels" yaml:"channels"`
	PeriodFrames   int     `mapstructure:"period_frames" yaml:"period_frames"`
	PeriodCount    int     `mapstructure:"period_count" yaml:"period_count"`
	BackoffMs      int     `mapstructure:"backoff_ms" yaml:"backoff_ms"`
	StatsIntervalS int     `mapstructure:"stats_interval_s" yaml:"stats_interval_s"` // 0 disables
	ToneHz         float64 `mapstructure:"tone_hz" yaml:"tone_hz"`                   // synthetic backend only
}

type ModelConfig struct {
	inference.ModelPaths `mapstructure:",squash" yaml:",inline"`
	Providers            []string `mapstructure:"providers" yaml:"providers"` // preference order
}

// Default returns the built-in configuration.
func Default() *Config {
	capture := audio.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:        audio.DefaultBackend(),
			DeviceID:       "",
			SampleRateHz:   capture.SampleRateHz,
			Channels:       capture.Channels,
			PeriodFrames:   capture.PeriodFrames,
			PeriodCount:    capture.PeriodCount,
			BackoffMs:      1,
			StatsIntervalS: 10,
			ToneHz:         440,
		},
		Model: ModelConfig{
			Providers: []string{"CPU"},
		},
	}
}

// SetDefaults registers every key with v so env overrides and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device_id", d.Audio.DeviceID)
	v.SetDefault("audio.sample_rate_hz", d.Audio.SampleRateHz)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.period_frames", d.Audio.PeriodFrames)
	v.SetDefault("audio.period_count", d.Audio.PeriodCount)
	v.SetDefault("audio.backoff_ms", d.Audio.BackoffMs)
	v.SetDefault("audio.stats_interval_s", d.Audio.StatsIntervalS)
	v.SetDefault("audio.tone_hz", d.Audio.ToneHz)

	v.SetDefault("model.encoder", d.Model.Encoder)
	v.SetDefault("model.predictor", d.Model.Predictor)
	v.SetDefault("model.joint", d.Model.Joint)
	v.SetDefault("model.providers", d.Model.Providers)
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"backend":       "audio.backend",
	"device":        "audio.device_id",
	"rate":          "audio.sample_rate_hz",
	"channels":      "audio.channels",
	"period-frames": "audio.period_frames",
	"period-count":  "audio.period_count",
	"tone":          "audio.tone_hz",
	"encoder":       "model.encoder",
	"predictor":     "model.predictor",
	"joint":         "model.joint",
	"ep":            "model.providers",
}

// Load resolves the configuration from defaults, the config file, JAXIE_*
// environment variables and, if flags is non-nil, any flag the user set.
// An empty path means ConfigFile(). A missing file is not an error unless
// path was given explicitly.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	explicit := path != ""
	if !explicit {
		path = ConfigFile()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that do not depend on a particular backend.
// Capture limits are enforced when the session is initialized.
func (c *Config) Validate() error {
	var errs audio.ValidationErrors

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, audio.ValidationError{Field: "log_level", Value: c.LogLevel, Message: "must be debug, info, warn or error"})
	}
	if !isBackend(c.Audio.Backend) {
		errs = append(errs, audio.ValidationError{Field: "audio.backend", Value: c.Audio.Backend,
			Message: "must be one of " + strings.Join(audio.Backends(), ", ")})
	}
	if err := c.Capture().Validate(audio.Limits{}); err != nil {
		var verrs audio.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				e.Field = "audio." + e.Field
				errs = append(errs, e)
			}
		}
	}
	if c.Audio.BackoffMs < 0 {
		errs = append(errs, audio.ValidationError{Field: "audio.backoff_ms", Value: c.Audio.BackoffMs, Message: "must not be negative"})
	}
	if c.Audio.StatsIntervalS < 0 {
		errs = append(errs, audio.ValidationError{Field: "audio.stats_interval_s", Value: c.Audio.StatsIntervalS, Message: "must not be negative"})
	}
	if _, err := inference.ParseProviders(c.Model.Providers); err != nil {
		errs = append(errs, audio.ValidationError{Field: "model.providers", Value: c.Model.Providers, Message: err.Error()})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func isBackend(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, b := range audio.Backends() {
		if b == name {
			return true
		}
	}
	return false
}

// Capture returns the capture format.
func (c *Config) Capture() audio.Config {
	return audio.Config{
		SampleRateHz: c.Audio.SampleRateHz,
		Channels:     c.Audio.Channels,
		PeriodFrames: c.Audio.PeriodFrames,
		PeriodCount:  c.Audio.PeriodCount,
	}
}

// Backoff returns the consumer poll interval.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Audio.BackoffMs) * time.Millisecond
}

// StatsInterval returns how often capture statistics are logged.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Audio.StatsIntervalS) * time.Second
}

// ModelPaths returns the model paths with relative entries resolved
// against ModelsPath().
func (c *Config) ModelPaths() inference.ModelPaths {
	return c.Model.ModelPaths.Resolve(ModelsPath())
}

// Save writes the config to path as YAML, or to ConfigFile() if path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigFile()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// ConfigFile returns the platform-specific config file path
func ConfigFile() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "jaxie", "config.yaml")
}

// ModelsPath returns the platform-specific models directory path
func ModelsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "jaxie", "models")
}
