// Package config loads storefront settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	CartStoreRedis  = "redis"
	CartStoreMongo  = "mongo"
	CartStoreMemory = "memory"

	ImageStoreSupabase = "supabase"
	ImageStoreGCS      = "gcs"
	ImageStoreNone     = "none"
)

type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxRequestBody  int64         `env:"MAX_REQUEST_BODY" envDefault:"1048576"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Backend  string `env:"BACKEND" envDefault:"sqlite"`
	Supabase Supabase
	SQLite   SQLite
	Postgres Postgres

	// JWTSecret signs local access tokens. With the Supabase backend it is
	// replaced by Supabase.JWTSecret.
	JWTSecret       string        `env:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthRateLimit   float64       `env:"AUTH_RATE_LIMIT" envDefault:"1"`
	AuthRateBurst   int           `env:"AUTH_RATE_BURST" envDefault:"5"`

	CartStore       string        `env:"CART_STORE" envDefault:"memory"`
	CartTTL         time.Duration `env:"CART_TTL" envDefault:"720h"`
	SessionCapacity int           `env:"CART_SESSION_CAPACITY" envDefault:"10000"`
	Redis           Redis
	Mongo           Mongo

	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"15m"`

	ImageStore string `env:"IMAGE_STORE" envDefault:"none"`
	GCS        GCS

	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type Supabase struct {
	URL         string `env:"SUPABASE_URL"`
	AnonKey     string `env:"SUPABASE_ANON_KEY"`
	JWTSecret   string `env:"SUPABASE_JWT_SECRET"`
	ImageBucket string `env:"SUPABASE_IMAGE_BUCKET" envDefault:"product-images"`
	Realtime    bool   `env:"SUPABASE_REALTIME" envDefault:"true"`
}

type SQLite struct {
	Path string `env:"SQLITE_PATH" envDefault:"storefront.db"`
}

type Postgres struct {
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	DBName   string `env:"POSTGRES_DB" envDefault:"storefront"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	// Enabled turns on the catalog cache even when carts are kept elsewhere.
	Enabled bool `env:"REDIS_ENABLED" envDefault:"false"`
}

type Mongo struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DB" envDefault:"storefront"`
}

type GCS struct {
	Bucket          string `env:"GCS_BUCKET"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
	PublicBaseURL   string `env:"GCS_PUBLIC_BASE_URL"`
}

// ParseEnv parses environment variables into target using caarlos0/env.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file and then the process environment. Values
// already set in the environment win over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for the supabase backend"))
		}
	case BackendSQLite, BackendPostgres:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required for the sql backends"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BACKEND %q", c.Backend))
	}

	switch c.CartStore {
	case CartStoreRedis, CartStoreMongo, CartStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown CART_STORE %q", c.CartStore))
	}

	switch c.ImageStore {
	case ImageStoreNone:
	case ImageStoreSupabase:
		if c.Supabase.URL == "" {
			errs = append(errs, errors.New("IMAGE_STORE=supabase needs SUPABASE_URL"))
		}
	case ImageStoreGCS:
		if c.GCS.Bucket == "" {
			errs = append(errs, errors.New("IMAGE_STORE=gcs needs GCS_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IMAGE_STORE %q", c.ImageStore))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// TokenSecret is the key used to verify access tokens locally.
func (c *Config) TokenSecret() string {
	if c.Backend == BackendSupabase {
		return c.Supabase.JWTSecret
	}
	return c.JWTSecret
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.CartStore == CartStoreRedis || c.Redis.Enabled
}
