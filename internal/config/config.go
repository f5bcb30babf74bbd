// Package config loads runtime settings from a .env file, POTHOOK_*
// environment variables and command-line overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "POTHOOK_"

// Engine names accepted by ENGINE.
const (
	EngineCLI = "cli"
	EngineCgo = "cgo"
)

type Config struct {
	ModelDir    string `env:"MODEL_DIR"`
	WhisperPath string `env:"WHISPER_PATH"`
	Engine      string `env:"ENGINE" envDefault:"cli"`
	Language    string `env:"LANGUAGE" envDefault:"ja"`
	Threads     int    `env:"THREADS" envDefault:"0"`

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:"127.0.0.1:7410"`
	EventBuffer int    `env:"EVENT_BUFFER" envDefault:"256"`

	LogJSON    bool `env:"LOG_JSON"`
	LogVerbose bool `env:"LOG_VERBOSE"`

	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	ModelDir    string
	WhisperPath string
	Engine      string
	Language    string
	HTTPAddr    string
	Threads     int
	LogJSON     bool
	LogVerbose  bool
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if overrides.ModelDir != "" {
		cfg.ModelDir = overrides.ModelDir
	}
	if overrides.WhisperPath != "" {
		cfg.WhisperPath = overrides.WhisperPath
	}
	if overrides.Engine != "" {
		cfg.Engine = overrides.Engine
	}
	if overrides.Language != "" {
		cfg.Language = overrides.Language
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.Threads > 0 {
		cfg.Threads = overrides.Threads
	}
	cfg.LogJSON = cfg.LogJSON || overrides.LogJSON
	cfg.LogVerbose = cfg.LogVerbose || overrides.LogVerbose

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	switch c.Engine {
	case EngineCLI, EngineCgo:
	default:
		return fmt.Errorf("unknown engine %q (want %s or %s)", c.Engine, EngineCLI, EngineCgo)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", c.Threads)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive, got %d", c.EventBuffer)
	}
	return nil
}
