package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Game        GameConfig        `yaml:"game"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	NATS        NATSConfig        `yaml:"nats"`
	Log         LogConfig         `yaml:"log"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	HTTPPort       int           `yaml:"http_port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GameConfig holds match engine settings
type GameConfig struct {
	TickRate         int           `yaml:"tick_rate"`
	WinningScore     int           `yaml:"winning_score"`
	FinishedGrace    time.Duration `yaml:"finished_grace"`
	AISpeedCap       float64       `yaml:"ai_speed_cap"`
	AIRefreshTicks   int           `yaml:"ai_refresh_ticks"`
	ReconcileTimeout time.Duration `yaml:"reconcile_timeout"`
}

// MatchmakingConfig holds queue settings. A negative queue_timeout disables expiry.
type MatchmakingConfig struct {
	QueueTimeout  time.Duration `yaml:"queue_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NATSConfig holds event bus settings. With Embedded set, the server runs
// an in-process broker and URL is ignored.
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/rally/rally.db"
	}

	// Auth defaults
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	// Game defaults
	if cfg.Game.TickRate == 0 {
		cfg.Game.TickRate = 60
	}
	if cfg.Game.WinningScore == 0 {
		cfg.Game.WinningScore = 5
	}
	if cfg.Game.FinishedGrace == 0 {
		cfg.Game.FinishedGrace = 5 * time.Second
	}
	if cfg.Game.AISpeedCap == 0 {
		cfg.Game.AISpeedCap = 9
	}
	if cfg.Game.AIRefreshTicks == 0 {
		cfg.Game.AIRefreshTicks = cfg.Game.TickRate
	}
	if cfg.Game.ReconcileTimeout == 0 {
		cfg.Game.ReconcileTimeout = 5 * time.Second
	}

	// Matchmaking defaults; a negative timeout disables expiry
	if cfg.Matchmaking.QueueTimeout == 0 {
		cfg.Matchmaking.QueueTimeout = 2 * time.Minute
	}
	if cfg.Matchmaking.QueueTimeout < 0 {
		cfg.Matchmaking.QueueTimeout = 0
	}
	if cfg.Matchmaking.SweepInterval == 0 {
		cfg.Matchmaking.SweepInterval = 10 * time.Second
	}

	// NATS defaults
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Host == "" {
		cfg.NATS.Host = "127.0.0.1"
	}
	if cfg.NATS.Port == 0 {
		cfg.NATS.Port = 4222
	}
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "rally"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects settings the server cannot run with
func (cfg *Config) Validate() error {
	if cfg.Game.TickRate < 1 || cfg.Game.TickRate > 240 {
		return fmt.Errorf("game.tick_rate must be between 1 and 240, got %d", cfg.Game.TickRate)
	}
	if cfg.Game.WinningScore < 1 {
		return fmt.Errorf("game.winning_score must be positive, got %d", cfg.Game.WinningScore)
	}
	if cfg.Matchmaking.SweepInterval < time.Second {
		return fmt.Errorf("matchmaking.sweep_interval must be at least 1s, got %s", cfg.Matchmaking.SweepInterval)
	}
	return nil
}
