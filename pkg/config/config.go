package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration, read from the environment
type Config struct {
	Port        string
	Env         string
	MetricsPort string
	LogLevel    string
	LogFile     string

	// StoreDriver selects the relation store: postgres, mongo, firestore or memory
	StoreDriver   string
	PostgresURL   string
	MongoURI      string
	MongoDatabase string

	FirebaseCredentialsPath string
	FirebaseProjectID       string
	// AuthProvider is firebase or jwt
	AuthProvider string
	JWTSecret    string

	RedisAddr        string
	RedisPassword    string
	RelationCacheTTL time.Duration

	NATSURL string

	ToggleMaxAttempts int

	OTLPEndpoint string
	SamplingRate float64
}

// Load reads a .env file when present and builds the Config from the environment
func Load() (*Config, error) {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		MetricsPort:             getEnv("METRICS_PORT", "9090"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFile:                 getEnv("LOG_FILE", "server.log"),
		StoreDriver:             getEnv("STORE_DRIVER", "memory"),
		PostgresURL:             getEnv("POSTGRES_CONN_STR", ""),
		MongoURI:                getEnv("MONGO_URI", ""),
		MongoDatabase:           getEnv("MONGO_DATABASE", "socialmedia"),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./firebase_credentials.json"),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		AuthProvider:            getEnv("AUTH_PROVIDER", "firebase"),
		JWTSecret:               getEnv("JWT_SECRET", ""),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		NATSURL:                 getEnv("NATS_URL", ""),
		OTLPEndpoint:            getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	// LOG_FILE=off keeps logs on stdout only
	if strings.EqualFold(cfg.LogFile, "off") {
		cfg.LogFile = ""
	}

	var err error
	if cfg.RelationCacheTTL, err = getDuration("RELATION_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ToggleMaxAttempts, err = getInt("TOGGLE_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SamplingRate, err = getFloat("OTEL_SAMPLING_RATE", 1.0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings required by the selected drivers are present
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_CONN_STR environment variable not set")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI environment variable not set")
		}
	case "firestore", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.AuthProvider {
	case "firebase":
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET environment variable not set")
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}

	if c.ToggleMaxAttempts < 1 {
		return fmt.Errorf("TOGGLE_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
