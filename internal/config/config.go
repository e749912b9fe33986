package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Bulk      BulkConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TokenTTL time.Duration
}

type ProviderConfig struct {
	BaseURL    string
	ContentMax int
}

type BulkConfig struct {
	DefaultDelay time.Duration
	Retention    time.Duration
	RatePerSec   int
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// LoadAll reads every setting from the environment, collecting all problems
// into one error so a misconfigured deploy reports everything at once.
func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	providerURL, err := requireEnv("SMS_API_URL")
	if err != nil {
		errs = append(errs, err)
	}

	contentMax, err := getEnvInt("CONTENT_MAX", 160)
	if err != nil {
		errs = append(errs, err)
	}
	delayMs, err := getEnvInt("BULK_DELAY_MS", 1000)
	if err != nil {
		errs = append(errs, err)
	}
	retentionSecs, err := getEnvInt("BULK_RETENTION_SECONDS", 3600)
	if err != nil {
		errs = append(errs, err)
	}
	ratePerSec, err := getEnvInt("SEND_RATE_PER_SEC", 5)
	if err != nil {
		errs = append(errs, err)
	}
	intervalSecs, err := getEnvInt("SCHED_INTERVAL_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}
	batchSize, err := getEnvInt("SCHED_BATCH_SIZE", 10)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Provider: ProviderConfig{
			BaseURL:    providerURL,
			ContentMax: contentMax,
		},
		Bulk: BulkConfig{
			DefaultDelay: time.Duration(delayMs) * time.Millisecond,
			Retention:    time.Duration(retentionSecs) * time.Second,
			RatePerSec:   ratePerSec,
		},
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(intervalSecs) * time.Second,
			BatchSize: batchSize,
		},
		Redis: redisCfg,
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRedisConfig treats REDIS_ADDR as the feature switch: unset means the
// token service runs disabled.
func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttlSecs, err := getEnvInt("REDIS_TOKEN_TTL_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TokenTTL: time.Duration(ttlSecs) * time.Second,
	}, joinErrors(errs)
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Provider.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Bulk.DefaultDelay < 0 {
		errs = append(errs, errors.New("BULK_DELAY_MS must be >= 0"))
	}
	if cfg.Bulk.Retention <= 0 {
		errs = append(errs, errors.New("BULK_RETENTION_SECONDS must be > 0"))
	}
	if cfg.Bulk.RatePerSec <= 0 {
		errs = append(errs, errors.New("SEND_RATE_PER_SEC must be > 0"))
	}

	return errs
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
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
