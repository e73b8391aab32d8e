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
	Decision  DecisionConfig
	Transport TransportConfig
	Send      SendConfig
	Media     MediaConfig
	Reconnect ReconnectConfig
	LogLevel  string
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
	TTL      time.Duration
}

type DecisionConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type TransportConfig struct {
	URL   string
	Token string
}

// SendConfig holds the outbound retry policy and number normalization
// defaults.
type SendConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	SyncMultiplier int
	AttemptTimeout time.Duration
	CountryCode    string
	AddressSuffix  string
}

type MediaConfig struct {
	UploadURL string
	Token     string
	Timeout   time.Duration
}

type ReconnectConfig struct {
	Interval time.Duration
}

const maxSendAttempts = 20

// LoadAll reads the configuration from the environment and reports every
// problem at once.
func LoadAll() (*Config, error) {
	var errs []error

	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: str("POSTGRES_URL"),
		},
		Decision: DecisionConfig{
			URL:     str("DECISION_URL"),
			Token:   os.Getenv("DECISION_TOKEN"),
			Timeout: time.Duration(num("DECISION_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Transport: TransportConfig{
			URL:   str("TRANSPORT_URL"),
			Token: os.Getenv("TRANSPORT_TOKEN"),
		},
		Send: SendConfig{
			MaxAttempts:    num("SEND_MAX_ATTEMPTS", 3),
			BaseBackoff:    time.Duration(num("SEND_BASE_BACKOFF_MS", 1000)) * time.Millisecond,
			MaxBackoff:     time.Duration(num("SEND_MAX_BACKOFF_MS", 300000)) * time.Millisecond,
			SyncMultiplier: num("SEND_SYNC_MULTIPLIER", 2),
			AttemptTimeout: time.Duration(num("SEND_ATTEMPT_TIMEOUT_SECONDS", 20)) * time.Second,
			CountryCode:    getEnv("DEFAULT_COUNTRY_CODE", "27"),
			AddressSuffix:  getEnv("ADDRESS_SUFFIX", "@s.whatsapp.net"),
		},
		Media: MediaConfig{
			UploadURL: os.Getenv("MEDIA_UPLOAD_URL"),
			Token:     os.Getenv("MEDIA_UPLOAD_TOKEN"),
			Timeout:   time.Duration(num("MEDIA_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Reconnect: ReconnectConfig{
			Interval: time.Duration(num("RECONNECT_INTERVAL_SECONDS", 60)) * time.Second,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	redis, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redis

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errors.Join(dbErr, ttlErr)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Send.MaxAttempts <= 0 || cfg.Send.MaxAttempts > maxSendAttempts {
		errs = append(errs, fmt.Errorf("SEND_MAX_ATTEMPTS must be between 1 and %d", maxSendAttempts))
	}
	if cfg.Send.BaseBackoff <= 0 {
		errs = append(errs, errors.New("SEND_BASE_BACKOFF_MS must be > 0"))
	}
	if cfg.Send.MaxBackoff < cfg.Send.BaseBackoff {
		errs = append(errs, errors.New("SEND_MAX_BACKOFF_MS must be >= SEND_BASE_BACKOFF_MS"))
	}
	if cfg.Send.SyncMultiplier <= 0 {
		errs = append(errs, errors.New("SEND_SYNC_MULTIPLIER must be > 0"))
	}
	if cfg.Send.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("SEND_ATTEMPT_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Decision.Timeout <= 0 {
		errs = append(errs, errors.New("DECISION_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Media.Timeout <= 0 {
		errs = append(errs, errors.New("MEDIA_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Reconnect.Interval <= 0 {
		errs = append(errs, errors.New("RECONNECT_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Send.CountryCode == "" {
		errs = append(errs, errors.New("DEFAULT_COUNTRY_CODE must not be empty"))
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
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
