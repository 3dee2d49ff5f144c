package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_FileAndDefaults(t *testing.T) {
	p := writeConfig(t, `
mode: debug
port: 9000
secret: cookie
jwt_secret: jwt
call_timeout: 10s
allowed_origins:
  - https://app.example.com
store:
  driver: redis
  redis_db: 2
`)
	cfg, err := load(p)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 2, cfg.Store.RedisDB)
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeConfig(t, "secret: cookie\njwt_secret: jwt\n")
	t.Setenv("DIALOGUE_PORT", "7000")
	t.Setenv("DIALOGUE_STORE_REDIS_ADDR", "redis:6380")

	cfg, err := load(p)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "redis:6380", cfg.Store.RedisAddr)
}

func TestLoad_Invalid(t *testing.T) {
	p := writeConfig(t, "port: 0\nstore:\n  driver: mongo\n")
	_, err := load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 0 out of range")
	assert.Contains(t, err.Error(), "jwt_secret is required")
	assert.Contains(t, err.Error(), `unknown store driver "mongo"`)
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	p := writeConfig(t, "mode: release\n")
	t.Setenv("DIALOGUE_SECRET", "cookie")
	t.Setenv("DIALOGUE_JWT_SECRET", "jwt")

	cfg, err := load(p)
	require.NoError(t, err)
	assert.Equal(t, "cookie", cfg.Secret)
	assert.Equal(t, "jwt", cfg.JWTSecret)
}
