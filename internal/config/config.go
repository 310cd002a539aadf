package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full coordinator configuration: YAML file first, then
// environment overrides on top.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Game   GameConfig   `yaml:"game"`
}

// ServerConfig holds transport-facing settings.
type ServerConfig struct {
	Port    string `yaml:"port"`
	NATSURL string `yaml:"nats_url"` // empty disables the event relay
}

// GameConfig holds per-room gameplay settings.
type GameConfig struct {
	DurationMS               int64 `yaml:"duration_ms"`
	LeadTimeMS               int64 `yaml:"lead_time_ms"`
	GraceWindowMS            int64 `yaml:"grace_window_ms"`
	SyncExchanges            int   `yaml:"sync_exchanges"`
	SyncTimeoutMS            int64 `yaml:"sync_timeout_ms"`
	MaxPlayersPerRoom        int   `yaml:"max_players_per_room"`
	LowConfidenceToleranceMS int64 `yaml:"low_confidence_tolerance_ms"`
	AutoStart                bool  `yaml:"auto_start"`
	AutoStartMinPlayers      int   `yaml:"auto_start_min_players"`
}

// DefaultGameConfig returns the documented defaults.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		DurationMS:               15000,
		LeadTimeMS:               3000,
		GraceWindowMS:            300,
		SyncExchanges:            5,
		SyncTimeoutMS:            5000,
		MaxPlayersPerRoom:        50,
		LowConfidenceToleranceMS: 500,
		AutoStart:                false,
		AutoStartMinPlayers:      2,
	}
}

// Duration converts DurationMS.
func (g GameConfig) Duration() time.Duration {
	return time.Duration(g.DurationMS) * time.Millisecond
}

// LeadTime converts LeadTimeMS.
func (g GameConfig) LeadTime() time.Duration {
	return time.Duration(g.LeadTimeMS) * time.Millisecond
}

// GraceWindow converts GraceWindowMS.
func (g GameConfig) GraceWindow() time.Duration {
	return time.Duration(g.GraceWindowMS) * time.Millisecond
}

// SyncTimeout converts SyncTimeoutMS.
func (g GameConfig) SyncTimeout() time.Duration {
	return time.Duration(g.SyncTimeoutMS) * time.Millisecond
}

// LowConfidenceTolerance converts LowConfidenceToleranceMS.
func (g GameConfig) LowConfidenceTolerance() time.Duration {
	return time.Duration(g.LowConfidenceToleranceMS) * time.Millisecond
}

// Load reads the optional YAML file named by CONFIG_PATH, then applies
// environment overrides. Missing file and empty CONFIG_PATH both fall back
// to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: "8080"},
		Game:   DefaultGameConfig(),
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.NATSURL = getEnv("NATS_URL", cfg.Server.NATSURL)

	cfg.Game.DurationMS = getEnvAsInt64("DURATION_MS", cfg.Game.DurationMS)
	cfg.Game.LeadTimeMS = getEnvAsInt64("LEAD_TIME_MS", cfg.Game.LeadTimeMS)
	cfg.Game.GraceWindowMS = getEnvAsInt64("GRACE_WINDOW_MS", cfg.Game.GraceWindowMS)
	cfg.Game.SyncExchanges = getEnvAsInt("SYNC_EXCHANGES", cfg.Game.SyncExchanges)
	cfg.Game.SyncTimeoutMS = getEnvAsInt64("SYNC_TIMEOUT_MS", cfg.Game.SyncTimeoutMS)
	cfg.Game.MaxPlayersPerRoom = getEnvAsInt("MAX_PLAYERS_PER_ROOM", cfg.Game.MaxPlayersPerRoom)
	cfg.Game.LowConfidenceToleranceMS = getEnvAsInt64("LOW_CONFIDENCE_TOLERANCE_MS", cfg.Game.LowConfidenceToleranceMS)
	cfg.Game.AutoStart = getEnvAsBool("AUTO_START", cfg.Game.AutoStart)
	cfg.Game.AutoStartMinPlayers = getEnvAsInt("AUTO_START_MIN_PLAYERS", cfg.Game.AutoStartMinPlayers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Game.DurationMS <= 0 {
		return fmt.Errorf("duration_ms must be positive, got %d", c.Game.DurationMS)
	}
	if c.Game.SyncExchanges < 1 {
		return fmt.Errorf("sync_exchanges must be at least 1, got %d", c.Game.SyncExchanges)
	}
	if c.Game.MaxPlayersPerRoom < 1 {
		return fmt.Errorf("max_players_per_room must be at least 1, got %d", c.Game.MaxPlayersPerRoom)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
