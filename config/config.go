// Package config provides slimapid configuration loaded from the
// environment. Every variable carries the SLIMAPI_ prefix.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "SLIMAPI"

const logPrefix = "config:Load"

// Cache backends.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CachePostgres = "postgres"
)

// Config holds slimapid configuration.
type Config struct {
	// HTTP
	HTTPAddr     string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPPrefix   string        `envconfig:"HTTP_PREFIX" default:"/api/"`
	RPCPath      string        `envconfig:"RPC_PATH" default:"/rpc"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	FormLimit    int64         `envconfig:"FORM_LIMIT" default:"33554432"`
	EnableCORS   bool          `envconfig:"ENABLE_CORS" default:"false"`

	// NATS: the transport is disabled when NATSURL is empty.
	NATSURL         string        `envconfig:"NATS_URL"`
	NATSSubject     string        `envconfig:"NATS_SUBJECT" default:"slimapi"`
	NATSQueue       string        `envconfig:"NATS_QUEUE" default:"slimapi"`
	NATSMaxInFlight int           `envconfig:"NATS_MAX_IN_FLIGHT" default:"256"`
	CallTimeout     time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`

	// Cache
	CacheBackend    string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheSize       int           `envconfig:"CACHE_SIZE" default:"10000"`
	CacheExpiration time.Duration `envconfig:"CACHE_EXPIRATION" default:"1m"`
	CacheFormat     string        `envconfig:"CACHE_FORMAT" default:"json"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	CacheTable      string        `envconfig:"CACHE_TABLE" default:"slimapi_cache"`

	// Observability
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string `envconfig:"LOG_FORMAT" default:"json"`
	SuccessLogLevel   string `envconfig:"SUCCESS_LOG_LEVEL" default:"debug"`
	ClientErrLogLevel string `envconfig:"CLIENT_ERROR_LOG_LEVEL" default:"warn"`
	EnableTelemetry   bool   `envconfig:"ENABLE_TELEMETRY" default:"false"`
	ServiceName       string `envconfig:"SERVICE_NAME" default:"slimapi"`
}

// Load reads the given .env files, then the environment. Missing .env files
// are skipped; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s - read %s: %w", logPrefix, f, err)
		}
	}
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// Validate checks value ranges and required combinations.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case CacheNone, CacheMemory:
	case CachePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s - SLIMAPI_DATABASE_URL is required for the postgres cache", logPrefix)
		}
	default:
		return fmt.Errorf("%s - unknown cache backend %q", logPrefix, c.CacheBackend)
	}
	if c.CacheBackend == CacheMemory && c.CacheSize <= 0 {
		return fmt.Errorf("%s - SLIMAPI_CACHE_SIZE must be positive", logPrefix)
	}
	switch strings.ToLower(c.CacheFormat) {
	case "json", "cbor":
	default:
		return fmt.Errorf("%s - unknown cache format %q", logPrefix, c.CacheFormat)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - SLIMAPI_CALL_TIMEOUT must be positive", logPrefix)
	}
	if !strings.HasPrefix(c.HTTPPrefix, "/") || !strings.HasSuffix(c.HTTPPrefix, "/") {
		return fmt.Errorf("%s - SLIMAPI_HTTP_PREFIX must start and end with /", logPrefix)
	}
	if c.RPCPath != "" && !strings.HasPrefix(c.RPCPath, "/") {
		return fmt.Errorf("%s - SLIMAPI_RPC_PATH must start with /", logPrefix)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("%s - SLIMAPI_NATS_SUBJECT is required with SLIMAPI_NATS_URL", logPrefix)
	}
	if c.NATSMaxInFlight <= 0 {
		return fmt.Errorf("%s - SLIMAPI_NATS_MAX_IN_FLIGHT must be positive", logPrefix)
	}
	return nil
}
