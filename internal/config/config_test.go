package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, CartStoreMemory, cfg.CartStore)
	assert.Equal(t, "storefront.db", cfg.SQLite.Path)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, "test-secret", cfg.TokenSecret())
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("HTTP_PORT=9090\nJWT_SECRET=from-file\nCART_STORE=redis\n"), 0o600))
	t.Setenv("JWT_SECRET", "from-env")
	// godotenv sets these directly; restore them afterwards
	t.Setenv("HTTP_PORT", "")
	os.Unsetenv("HTTP_PORT")
	t.Setenv("CART_STORE", "")
	os.Unsetenv("CART_STORE")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, CartStoreRedis, cfg.CartStore)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_Supabase(t *testing.T) {
	t.Setenv("BACKEND", "supabase")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_JWT_SECRET", "sb-secret")
	t.Setenv("JWT_SECRET", "ignored")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "sb-secret", cfg.TokenSecret())
	assert.Equal(t, "product-images", cfg.Supabase.ImageBucket)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Backend:        BackendSQLite,
			JWTSecret:      "s",
			CartStore:      CartStoreMemory,
			ImageStore:     ImageStoreNone,
			LogFormat:      "json",
			RequestTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "oracle" }, `unknown BACKEND "oracle"`},
		{"sql without secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET is required"},
		{"supabase without url", func(c *Config) { c.Backend = BackendSupabase }, "SUPABASE_URL"},
		{"unknown cart store", func(c *Config) { c.CartStore = "etcd" }, "unknown CART_STORE"},
		{"gcs without bucket", func(c *Config) { c.ImageStore = ImageStoreGCS }, "GCS_BUCKET"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "unknown LOG_FORMAT"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "REQUEST_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseEnv_WrapsErrors(t *testing.T) {
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")

	var cfg Config
	err := ParseEnv(&cfg)
	assert.ErrorContains(t, err, "parse env")
}
