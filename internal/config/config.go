package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Economy  EconomyConfig  `json:"economy"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

// GatewayConfig holds chat platform credentials. A platform with no token
// is not started.
type GatewayConfig struct {
	Slack   SlackConfig       `json:"slack"`
	Discord DiscordConfig     `json:"discord"`
	Rooms   map[string]string `json:"rooms"` // channel id -> room id
}

type SlackConfig struct {
	BotToken        string `json:"bot_token"`
	AppToken        string `json:"app_token"`
	AnnounceChannel string `json:"announce_channel"`
}

// Enabled reports whether both Socket Mode tokens are present.
func (s SlackConfig) Enabled() bool { return s.BotToken != "" && s.AppToken != "" }

type DiscordConfig struct {
	Token           string `json:"token"`
	AnnounceChannel string `json:"announce_channel"`
}

// EconomyConfig tunes the fragment marketplace and the decay sweeper.
type EconomyConfig struct {
	DefaultDecayRate  float64 `json:"default_decay_rate"`
	SweepIntervalMin  float64 `json:"sweep_interval_min"`
	MaxSweepFailures  int     `json:"max_sweep_failures"`
	SweepBatchSize    int     `json:"sweep_batch_size"`
	StartingInfluence int     `json:"starting_influence"`
	RaritySeed        uint64  `json:"rarity_seed"`
}

// SweepInterval returns the configured cadence as a duration.
func (e EconomyConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalMin * float64(time.Minute))
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse resolves env references in raw JSON and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.withDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied, used when no file
// is present.
func Default() *Config {
	var cfg Config
	cfg.withDefaults()
	return &cfg
}

func (c *Config) withDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Redis.Stream == "" {
		c.Database.Redis.Stream = "moltmud:fragments"
	}
	if c.Economy.DefaultDecayRate <= 0 {
		c.Economy.DefaultDecayRate = 0.05
	}
	if c.Economy.SweepIntervalMin <= 0 {
		c.Economy.SweepIntervalMin = 15
	}
	if c.Economy.MaxSweepFailures <= 0 {
		c.Economy.MaxSweepFailures = 8
	}
	if c.Economy.SweepBatchSize <= 0 {
		c.Economy.SweepBatchSize = 500
	}
	if c.Economy.StartingInfluence <= 0 {
		c.Economy.StartingInfluence = 10
	}
}
