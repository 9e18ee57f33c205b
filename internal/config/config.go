package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Database DatabaseConfig    `toml:"database"`
	External ExternalAPIConfig `toml:"external"`
	Importer ImporterConfig    `toml:"importer"`
	Cache    CacheConfig       `toml:"cache"`
	Notify   NotifyConfig      `toml:"notify"`
	// Hostname tags cursor writes and notifications.
	Hostname string `toml:"hostname"`
}

type DatabaseConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
}

type ExternalAPIConfig struct {
	BaseURL           string        `toml:"base_url"`
	APIKey            string        `toml:"api_key"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
}

type ImporterConfig struct {
	// Enabled is the start/stop toggle of the import loop.
	Enabled bool `toml:"enabled"`
	ByID    bool `toml:"by_id"`
	// BatchSize is both the slice length and the safety distance from the
	// API's max match id.
	BatchSize int `toml:"batch_size"`
	// MatchTill caps the by-id upper bound when positive.
	MatchTill int64 `toml:"match_till"`
	// Concurrency is the number of matches imported at once; 1 is sequential.
	Concurrency     int           `toml:"concurrency"`
	ParallelPlayers bool          `toml:"parallel_players"`
	StartTime       time.Time     `toml:"start_time"`
	StartMatch      int64         `toml:"start_match"`
	Schedule        string        `toml:"schedule"`
	LockTTL         time.Duration `toml:"lock_ttl"`
	// LockTimeout is how long a tick waits for a held lock before skipping; 0 tries once.
	LockTimeout     time.Duration `toml:"lock_timeout"`
	Jitter          time.Duration `toml:"jitter"`
	ErrorRatio      float64       `toml:"error_ratio"`
	Language        string        `toml:"language"`
}

type CacheConfig struct {
	// Backend is "postgres" or "memory".
	Backend   string `toml:"backend"`
	Prefix    string `toml:"prefix"`
	Suffix    string `toml:"suffix"`
	Table     string `toml:"table"`
	HashTable string `toml:"hash_table"`
}

type NotifyConfig struct {
	WebhookURL   string        `toml:"webhook_url"`
	AMQPURL      string        `toml:"amqp_url"`
	AMQPExchange string        `toml:"amqp_exchange"`
	Timeout      time.Duration `toml:"timeout"`
}

// DefaultConfig returns the importer defaults
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "survarium",
			Password: "survarium",
			DBName:   "survarium_stats",
			SSLMode:  "disable",
		},
		External: ExternalAPIConfig{
			BaseURL:           "https://api.survarium.com/v1",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
		},
		Importer: ImporterConfig{
			Enabled:     true,
			ByID:        false,
			BatchSize:   50,
			Concurrency: 1,
			StartTime:   time.Date(2016, time.May, 15, 21, 8, 3, 0, time.UTC),
			StartMatch:  4895046,
			Schedule:    "@every 65s",
			LockTTL:     60 * time.Second,
			Jitter:      30 * time.Second,
			ErrorRatio:  0.1,
			Language:    "english",
		},
		Cache: CacheConfig{
			Backend:   "postgres",
			Prefix:    "sv-api:v1:",
			Table:     "cache_entries",
			HashTable: "cache_hashes",
		},
		Notify: NotifyConfig{
			AMQPExchange: "importer.status",
			Timeout:      5 * time.Second,
		},
		Hostname: hostname,
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.External.BaseURL = getEnv("STATS_API_URL", c.External.BaseURL)
	c.External.APIKey = getEnv("STATS_API_KEY", c.External.APIKey)
	c.External.Timeout = getEnvAsDuration("STATS_API_TIMEOUT", c.External.Timeout)
	c.External.RequestsPerSecond = getEnvAsFloat("STATS_API_RPS", c.External.RequestsPerSecond)

	c.Importer.Enabled = getEnvAsBool("IMPORTER_ENABLED", c.Importer.Enabled)
	c.Importer.ByID = getEnvAsBool("IMPORTER_BY_ID", c.Importer.ByID)
	c.Importer.BatchSize = getEnvAsInt("IMPORTER_BATCH_SIZE", c.Importer.BatchSize)
	c.Importer.MatchTill = int64(getEnvAsInt("IMPORTER_MATCH_TILL", int(c.Importer.MatchTill)))
	c.Importer.Concurrency = getEnvAsInt("IMPORTER_CONCURRENCY", c.Importer.Concurrency)
	c.Importer.ParallelPlayers = getEnvAsBool("IMPORTER_PARALLEL_PLAYERS", c.Importer.ParallelPlayers)
	c.Importer.StartMatch = int64(getEnvAsInt("IMPORTER_MATCH", int(c.Importer.StartMatch)))
	c.Importer.Schedule = getEnv("IMPORTER_SCHEDULE", c.Importer.Schedule)
	c.Importer.LockTTL = getEnvAsDuration("IMPORTER_LOCK_TTL", c.Importer.LockTTL)
	c.Importer.LockTimeout = getEnvAsDuration("IMPORTER_LOCK_TIMEOUT", c.Importer.LockTimeout)
	c.Importer.Jitter = getEnvAsDuration("IMPORTER_JITTER", c.Importer.Jitter)
	c.Importer.ErrorRatio = getEnvAsFloat("IMPORTER_ERROR_RATIO", c.Importer.ErrorRatio)
	c.Importer.Language = getEnv("IMPORTER_LANGUAGE", c.Importer.Language)
	if value := os.Getenv("IMPORTER_START"); value != "" {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			c.Importer.StartTime = t
		}
	}

	c.Cache.Backend = getEnv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Prefix = getEnv("CACHE_PREFIX", c.Cache.Prefix)
	c.Cache.Suffix = getEnv("CACHE_SUFFIX", c.Cache.Suffix)

	c.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.AMQPURL = getEnv("NOTIFY_AMQP_URL", c.Notify.AMQPURL)
	c.Notify.AMQPExchange = getEnv("NOTIFY_AMQP_EXCHANGE", c.Notify.AMQPExchange)

	c.Hostname = getEnv("IMPORTER_HOSTNAME", c.Hostname)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Importer.BatchSize <= 0 {
		return fmt.Errorf("importer batch_size must be positive")
	}
	if c.Importer.Concurrency <= 0 {
		return fmt.Errorf("importer concurrency must be positive")
	}
	if c.Importer.ErrorRatio <= 0 || c.Importer.ErrorRatio > 1 {
		return fmt.Errorf("importer error_ratio must be in (0, 1]")
	}
	if c.Importer.LockTTL <= 0 {
		return fmt.Errorf("importer lock_ttl must be positive")
	}
	if c.Importer.LockTimeout < 0 {
		return fmt.Errorf("importer lock_timeout must not be negative")
	}
	if c.Importer.Jitter < 0 {
		return fmt.Errorf("importer jitter must not be negative")
	}
	if _, err := cron.ParseStandard(c.Importer.Schedule); err != nil {
		return fmt.Errorf("invalid importer schedule %q: %w", c.Importer.Schedule, err)
	}
	if c.External.BaseURL == "" {
		return fmt.Errorf("external API base URL must be specified")
	}
	if c.External.RequestsPerSecond <= 0 {
		return fmt.Errorf("external requests_per_second must be positive")
	}
	switch c.Cache.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported cache backend: %s (must be postgres or memory)", c.Cache.Backend)
	}
	return nil
}

// LockKey is the cache key of the distributed run lock.
func (c *Config) LockKey() string {
	return "matches:load" + c.Cache.Suffix
}

// CursorKey is the cache key of the persisted import cursor.
func (c *Config) CursorKey() string {
	return c.LockKey() + ":last"
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("65s") or plain seconds ("65").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
