package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Redis      RedisConfig
	Reconciler ReconcilerConfig
	Gateway    GatewayConfig
	Notify     NotifyConfig
}

type ServerConfig struct {
	Address string
}

type LogConfig struct {
	Level slog.Level
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
}

type RedisConfig struct {
	Enabled       bool
	Address       string
	Password      string
	DB            int
	TTL           time.Duration
	NotifyChannel string
}

type ReconcilerConfig struct {
	Interval time.Duration
}

type GatewayConfig struct {
	URL        string
	ContentMax int
}

type NotifyConfig struct {
	WebhookURL string
}

// LoadAll reads the configuration from the environment. Every problem found
// is reported in the returned error, not just the first one.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)

	contentMax, err := getEnvInt("CONTENT_MAX", 160)
	collect(err)
	interval, err := getEnvInt("RECONCILE_INTERVAL_SECONDS", 300)
	collect(err)

	store, err := loadStoreConfig()
	collect(err)
	redis, err := loadRedisConfig()
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Log:   LogConfig{Level: level},
		Store: store,
		Redis: redis,
		Reconciler: ReconcilerConfig{
			Interval: time.Duration(interval) * time.Second,
		},
		Gateway: GatewayConfig{
			URL:        os.Getenv("GATEWAY_URL"),
			ContentMax: contentMax,
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		},
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStoreConfig() (StoreConfig, error) {
	sc := StoreConfig{
		Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath: getEnv("SQLITE_PATH", "smstracker.db"),
	}

	switch sc.Driver {
	case DriverMemory, DriverSQLite, DriverRedis:
		return sc, nil
	case DriverPostgres:
		url, err := requireEnv("POSTGRES_URL")
		sc.PostgresURL = url
		return sc, err
	default:
		return sc, fmt.Errorf("unknown STORE_DRIVER: %q", sc.Driver)
	}
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 0)

	return RedisConfig{
		Enabled:       true,
		Address:       addr,
		Password:      os.Getenv("REDIS_PASSWORD"),
		DB:            db,
		TTL:           time.Duration(ttl) * time.Second,
		NotifyChannel: getEnv("REDIS_NOTIFY_CHANNEL", "sms-submission-status"),
	}, errors.Join(dbErr, ttlErr)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Reconciler.Interval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Gateway.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Redis.TTL < 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be >= 0"))
	}
	if cfg.Store.Driver == DriverRedis && !cfg.Redis.Enabled {
		errs = append(errs, errors.New("STORE_DRIVER=redis requires REDIS_ADDR"))
	}
	return errs
}

func parseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %q", raw)
	}
	return l, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
