package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	if err = toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type Config struct {
	Log         LogConfig         `toml:"log"`
	DB          DBConfig          `toml:"db"`
	HTTP        HTTPConfig        `toml:"http"`
	Auth        AuthConfig        `toml:"auth"`
	Progression ProgressionConfig `toml:"progression"`
	Fanout      FanoutConfig      `toml:"fanout"`
	Reconcile   ReconcileConfig   `toml:"reconcile"`
	Cache       CacheConfig       `toml:"cache"`
	Drops       DropsConfig       `toml:"drops"`
	Referral    ReferralConfig    `toml:"referral"`
	Analytics   AnalyticsConfig   `toml:"analytics"`
	Archive     ArchiveConfig     `toml:"archive"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
	Color     bool       `toml:"color"`
}

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	SSLMode      string `toml:"ssl_mode"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	BodyLimit      int      `toml:"body_limit"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

type ProgressionConfig struct {
	// IANA zone used to turn timestamps into streak days.
	Timezone  string   `toml:"timezone"`
	TxTimeout Duration `toml:"tx_timeout"`
}

func (p ProgressionConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

type FanoutConfig struct {
	Workers      int      `toml:"workers"`
	TaskTimeout  Duration `toml:"task_timeout"`
	PollInterval Duration `toml:"poll_interval"`
	StaleAfter   Duration `toml:"stale_after"`
	MaxAttempts  int      `toml:"max_attempts"`
	BatchSize    int      `toml:"batch_size"`

	// ShutdownTimeout bounds how long serve waits for in-flight runs.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type ReconcileConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    Duration `toml:"interval"`
	Parallelism int      `toml:"parallelism"`
}

type CacheConfig struct {
	ChallengeCacheSize int      `toml:"challenge_cache_size"`
	ChallengeTTL       Duration `toml:"challenge_ttl"`
}

type DropsConfig struct {
	Chance   float64  `toml:"chance"`
	Cooldown Duration `toml:"cooldown"`
	Items    []string `toml:"items"`
}

type ReferralConfig struct {
	RewardXP int64 `toml:"reward_xp"`
}

type AnalyticsConfig struct {
	MongoURI   string `toml:"mongo_uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

func (a AnalyticsConfig) Enabled() bool {
	return a.MongoURI != ""
}

type ArchiveConfig struct {
	Key       string   `toml:"key"`
	Secret    string   `toml:"secret"`
	Region    string   `toml:"region"`
	Bucket    string   `toml:"bucket"`
	Endpoint  string   `toml:"endpoint"`
	Prefix    string   `toml:"prefix"`
	Retention Duration `toml:"retention"`
}

// Duration decodes TOML strings such as "30s" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "text",
			Color:  true,
		},
		DB: DBConfig{
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			PoolSize: 10,
		},
		HTTP: HTTPConfig{
			Addr:      ":8080",
			BodyLimit: 64 * 1024,
		},
		Progression: ProgressionConfig{
			Timezone:  "UTC",
			TxTimeout: Duration{10 * time.Second},
		},
		Fanout: FanoutConfig{
			Workers:         8,
			TaskTimeout:     Duration{30 * time.Second},
			PollInterval:    Duration{5 * time.Second},
			StaleAfter:      Duration{10 * time.Minute},
			MaxAttempts:     3,
			BatchSize:       50,
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Reconcile: ReconcileConfig{
			Enabled:     true,
			Interval:    Duration{15 * time.Minute},
			Parallelism: 4,
		},
		Cache: CacheConfig{
			ChallengeCacheSize: 512,
			ChallengeTTL:       Duration{time.Minute},
		},
		Drops: DropsConfig{
			Chance:   0.02,
			Cooldown: Duration{24 * time.Hour},
		},
		Referral: ReferralConfig{
			RewardXP: 500,
		},
		Analytics: AnalyticsConfig{
			Database:   "questline",
			Collection: "daily_counters",
		},
		Archive: ArchiveConfig{
			Prefix:    "task-runs",
			Retention: Duration{30 * 24 * time.Hour},
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.DB.Database == "" {
		errs = append(errs, errors.New("db.database is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if _, err := c.Progression.Location(); err != nil {
		errs = append(errs, fmt.Errorf("progression.timezone: %w", err))
	}
	if c.Fanout.Workers < 1 {
		errs = append(errs, errors.New("fanout.workers must be at least 1"))
	}
	if c.Fanout.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, errors.New("fanout.shutdown_timeout must be positive"))
	}
	if c.Drops.Chance < 0 || c.Drops.Chance > 1 {
		errs = append(errs, errors.New("drops.chance must be within [0, 1]"))
	}
	return errors.Join(errs...)
}
