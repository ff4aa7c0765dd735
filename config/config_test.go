package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "prod")
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "local", cfg.Auth.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "audit.events", cfg.MQ.AuditChannel)
	assert.Equal(t, "none", cfg.Storage.Backend)
	assert.False(t, cfg.IsDev())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_SSL", "true")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("AUTH_PROVIDER", "OIDC")
	t.Setenv("CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("LOGIN_RATE_BURST", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, "oidc", cfg.Auth.Provider)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
}
