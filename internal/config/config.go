package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Store      StoreConfig      `toml:"store"`
	Network    NetworkConfig    `toml:"network"`
	Session    SessionConfig    `toml:"session"`
	Sandbox    SandboxConfig    `toml:"sandbox"`
	World      WorldConfig      `toml:"world"`
	AI         AIConfig         `toml:"ai"`
	Logging    LoggingConfig    `toml:"logging"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Federation FederationConfig `toml:"federation"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	ClientDir string `toml:"client_dir"` // static assets served at /
	StartTime int64  // set at boot, not from config
}

type StoreConfig struct {
	Adapter         string        `toml:"adapter"` // "filesystem" or "remote"
	DataPath        string        `toml:"data_path"`
	RemoteURL       string        `toml:"remote_url"`
	RemoteKey       string        `toml:"remote_key"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type NetworkConfig struct {
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	MaxMissedPongs    int           `toml:"max_missed_pongs"`
}

type SessionConfig struct {
	Secret     string        `toml:"secret"`
	TTL        time.Duration `toml:"ttl"`
	MaxActive  int           `toml:"max_active"`
	InputQueue int           `toml:"input_queue"` // queued lines per player before oldest-drop
}

type SandboxConfig struct {
	PoolSize      int           `toml:"pool_size"`
	MemoryMB      int           `toml:"memory_mb"`
	ScriptTimeout time.Duration `toml:"script_timeout"`
}

type WorldConfig struct {
	TickPeriod       time.Duration `toml:"tick_period"`
	AutosaveInterval time.Duration `toml:"autosave_interval"`
	ShutdownDeadline time.Duration `toml:"shutdown_deadline"`
	BlueprintDir     string        `toml:"blueprint_dir"`
}

type AIConfig struct {
	APIKey string `toml:"api_key"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type RateLimitConfig struct {
	Enabled         bool `toml:"enabled"`
	FramesPerSecond int  `toml:"frames_per_second"`
	AuthPerMinute   int  `toml:"auth_per_minute"`
}

// FederationConfig lists off-world relay endpoints (inter-mud chat,
// presence exchanges). Empty means federation is off.
type FederationConfig struct {
	Relays []RelayConfig `toml:"relays"`
}

type RelayConfig struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Load reads the TOML config at path, applies defaults for anything unset,
// then applies environment overrides. A missing file is not an error; the
// defaults plus environment are a complete configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	applyEnv(cfg)
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "mudforge",
			Version:   "0.1.0",
			Host:      "0.0.0.0",
			Port:      4000,
			ClientDir: "client",
		},
		Store: StoreConfig{
			Adapter:         "filesystem",
			DataPath:        "data",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Network: NetworkConfig{
			HeartbeatInterval: 10 * time.Second,
			MaxMissedPongs:    18,
		},
		Session: SessionConfig{
			TTL:        15 * time.Minute,
			MaxActive:  10_000,
			InputQueue: 64,
		},
		Sandbox: SandboxConfig{
			PoolSize:      4,
			MemoryMB:      128,
			ScriptTimeout: 5 * time.Second,
		},
		World: WorldConfig{
			TickPeriod:       time.Second,
			AutosaveInterval: 5 * time.Minute,
			ShutdownDeadline: 30 * time.Second,
			BlueprintDir:     "blueprints",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			FramesPerSecond: 30,
			AuthPerMinute:   10,
		},
	}
}

// applyEnv overrides config fields from the closed environment variable set.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATA_PATH"); v != "" {
		cfg.Store.DataPath = v
	}
	if v := os.Getenv("PERSISTENCE_ADAPTER"); v != "" {
		cfg.Store.Adapter = v
	}
	if v := os.Getenv("REMOTE_STORE_URL"); v != "" {
		cfg.Store.RemoteURL = v
	}
	if v := os.Getenv("REMOTE_STORE_KEY"); v != "" {
		cfg.Store.RemoteKey = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
	if v, ok := envMillis("SESSION_TTL_MS"); ok {
		cfg.Session.TTL = v
	}
	if v, ok := envMillis("HEARTBEAT_INTERVAL_MS"); ok {
		cfg.Network.HeartbeatInterval = v
	}
	if v, ok := envInt("MAX_MISSED_PONGS"); ok {
		cfg.Network.MaxMissedPongs = v
	}
	if v, ok := envInt("ISOLATE_POOL_SIZE"); ok {
		cfg.Sandbox.PoolSize = v
	}
	if v, ok := envInt("ISOLATE_MEMORY_MB"); ok {
		cfg.Sandbox.MemoryMB = v
	}
	if v, ok := envMillis("SCRIPT_TIMEOUT_MS"); ok {
		cfg.Sandbox.ScriptTimeout = v
	}
	if v, ok := envMillis("TICK_PERIOD_MS"); ok {
		cfg.World.TickPeriod = v
	}
	if v, ok := envMillis("AUTOSAVE_INTERVAL_MS"); ok {
		cfg.World.AutosaveInterval = v
	}
	if v, ok := envMillis("SHUTDOWN_DEADLINE_MS"); ok {
		cfg.World.ShutdownDeadline = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envMillis(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// Addr returns the host:port the network layer binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
