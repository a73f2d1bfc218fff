package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Sync        SyncConfig        `yaml:"sync"`
	Room        RoomConfig        `yaml:"room"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Session     SessionConfig     `yaml:"session"`
	AntiCheat   AntiCheatConfig   `yaml:"anticheat"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Presence    PresenceConfig    `yaml:"presence"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SyncConfig holds the reconciliation worker configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// RoomConfig holds room manager configuration
type RoomConfig struct {
	DefaultMaxPlayers int           `yaml:"default_max_players"`
	MaxPlayersLimit   int           `yaml:"max_players_limit"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	LockRetryDelay    time.Duration `yaml:"lock_retry_delay"`
	LockRetries       int           `yaml:"lock_retries"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	// SoloStart allows startGame with a single seated member (test mode)
	SoloStart bool `yaml:"solo_start"`
}

// MatchmakingConfig holds matchmaking service configuration
type MatchmakingConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MatchSize        int           `yaml:"match_size"`
	BaseTolerance    int           `yaml:"base_tolerance"`
	ToleranceGrowth  int           `yaml:"tolerance_growth"` // rating points per second waited
	MaxTolerance     int           `yaml:"max_tolerance"`
	MaxWait          time.Duration `yaml:"max_wait"`
	MinEstimate      time.Duration `yaml:"min_estimate"`
	InitialRating    int           `yaml:"initial_rating"`
	EloKFactor       int           `yaml:"elo_k_factor"`
}

// SessionConfig holds game session coordinator configuration
type SessionConfig struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	TieBreakWindow    time.Duration `yaml:"tie_break_window"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	RoundDuration     time.Duration `yaml:"round_duration"` // timed modes
	EventBuffer       int           `yaml:"event_buffer"`
}

// AntiCheatConfig holds anti-cheat validator configuration
type AntiCheatConfig struct {
	MaxWPM            float64       `yaml:"max_wpm"`
	DurationTolerance time.Duration `yaml:"duration_tolerance"`
	// ThroughputSlack is how far keystroke count may fall below the
	// character count implied by the claimed WPM, as a fraction.
	ThroughputSlack float64 `yaml:"throughput_slack"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	// TieFetchBuffer is how many extra entries are fetched from the cache
	// so equal scores can be reordered by achieved-at.
	TieFetchBuffer int `yaml:"tie_fetch_buffer"`
}

// PresenceConfig holds presence registry configuration
type PresenceConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = 3
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "arena-scores"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "arena-consumer"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Second
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}

	// Room defaults
	if c.Room.DefaultMaxPlayers == 0 {
		c.Room.DefaultMaxPlayers = 2
	}
	if c.Room.MaxPlayersLimit == 0 {
		c.Room.MaxPlayersLimit = 8
	}
	if c.Room.LockTTL == 0 {
		c.Room.LockTTL = 5 * time.Second
	}
	if c.Room.LockRetryDelay == 0 {
		c.Room.LockRetryDelay = 50 * time.Millisecond
	}
	if c.Room.LockRetries == 0 {
		c.Room.LockRetries = 20
	}
	if c.Room.CacheTTL == 0 {
		c.Room.CacheTTL = 24 * time.Hour
	}

	// Matchmaking defaults
	if c.Matchmaking.Interval == 0 {
		c.Matchmaking.Interval = 2 * time.Second
	}
	if c.Matchmaking.MatchSize == 0 {
		c.Matchmaking.MatchSize = 2
	}
	if c.Matchmaking.BaseTolerance == 0 {
		c.Matchmaking.BaseTolerance = 100
	}
	if c.Matchmaking.ToleranceGrowth == 0 {
		c.Matchmaking.ToleranceGrowth = 10
	}
	if c.Matchmaking.MaxTolerance == 0 {
		c.Matchmaking.MaxTolerance = 600
	}
	if c.Matchmaking.MaxWait == 0 {
		c.Matchmaking.MaxWait = 2 * time.Minute
	}
	if c.Matchmaking.MinEstimate == 0 {
		c.Matchmaking.MinEstimate = 5 * time.Second
	}
	if c.Matchmaking.InitialRating == 0 {
		c.Matchmaking.InitialRating = 1000
	}
	if c.Matchmaking.EloKFactor == 0 {
		c.Matchmaking.EloKFactor = 32
	}

	// Session defaults
	if c.Session.BroadcastInterval == 0 {
		c.Session.BroadcastInterval = 500 * time.Millisecond
	}
	if c.Session.TieBreakWindow == 0 {
		c.Session.TieBreakWindow = 300 * time.Millisecond
	}
	if c.Session.GracePeriod == 0 {
		c.Session.GracePeriod = 30 * time.Second
	}
	if c.Session.RoundDuration == 0 {
		c.Session.RoundDuration = 60 * time.Second
	}
	if c.Session.EventBuffer == 0 {
		c.Session.EventBuffer = 256
	}

	// Anti-cheat defaults
	if c.AntiCheat.MaxWPM == 0 {
		c.AntiCheat.MaxWPM = 250
	}
	if c.AntiCheat.DurationTolerance == 0 {
		c.AntiCheat.DurationTolerance = 2 * time.Second
	}
	if c.AntiCheat.ThroughputSlack == 0 {
		c.AntiCheat.ThroughputSlack = 0.5
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 100
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 1000
	}
	if c.Leaderboard.TieFetchBuffer == 0 {
		c.Leaderboard.TieFetchBuffer = 50
	}

	// Presence defaults
	if c.Presence.TTL == 0 {
		c.Presence.TTL = 5 * time.Minute
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
