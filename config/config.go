package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPHost  string
	HTTPPort  string
	MySQLDSN  string
	RedisAddr string
	AMQPURL   string
	LogLevel  string
	LogFormat string
	JWT       JWTConfig
	Session   SessionConfig
	Reset     ResetConfig
	Throttle  ThrottleConfig
}

type JWTConfig struct {
	Secret string
}

// SessionConfig controls token lifetimes and the refresh rotation policy.
// A refresh token is rotated when more than RotationThreshold of its
// validity window has elapsed since issuance.
type SessionConfig struct {
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RotationThreshold float64
	TokenHashSecret   string
}

type ResetConfig struct {
	TokenTTL time.Duration
}

type ThrottleConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
	Prefix  string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}

	tokenHashSecret := os.Getenv("TOKEN_HASH_SECRET")
	if tokenHashSecret == "" {
		return nil, errors.New("TOKEN_HASH_SECRET environment variable is required")
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	rotation := getFloatEnv("REFRESH_ROTATION_THRESHOLD", 0.5)
	if rotation <= 0 || rotation >= 1 {
		return nil, errors.New("REFRESH_ROTATION_THRESHOLD must be between 0 and 1")
	}

	return &Config{
		HTTPHost:  getEnv("HTTP_HOST", ""),
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		MySQLDSN:  mysqlDSN,
		RedisAddr: os.Getenv("REDIS_ADDR"),
		AMQPURL:   os.Getenv("AMQP_URL"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		JWT: JWTConfig{
			Secret: jwtSecret,
		},
		Session: SessionConfig{
			AccessTokenTTL:    getDurationEnv("ACCESS_TOKEN_TTL_MINUTES", 15*time.Minute),
			RefreshTokenTTL:   getDurationEnv("REFRESH_TOKEN_TTL_MINUTES", 7*24*time.Hour),
			RotationThreshold: rotation,
			TokenHashSecret:   tokenHashSecret,
		},
		Reset: ResetConfig{
			TokenTTL: getDurationEnv("RESET_TOKEN_TTL_MINUTES", time.Hour),
		},
		Throttle: ThrottleConfig{
			Enabled: getBoolEnv("THROTTLE_ENABLED", false),
			Limit:   getIntEnv("THROTTLE_LIMIT", 10),
			Window:  getDurationEnv("THROTTLE_WINDOW_MINUTES", time.Minute),
			Prefix:  getEnv("THROTTLE_PREFIX", "auth:throttle"),
		},
	}, nil
}

func (c *Config) DSN() string {
	return c.MySQLDSN
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
