package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/identity/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, domain.ProviderKeycloak, cfg.ProviderType())
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL())
	assert.Equal(t, SessionStoreMemory, cfg.Session.Store)
	assert.Equal(t, "iam-events", cfg.Kafka.EventsTopic)
	assert.False(t, cfg.Security.BasicAuth.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("IDENTITY_PROVIDER", "Crowd")
	t.Setenv("CROWD_URL", "https://crowd.local/crowd/rest/usermanagement/1")
	t.Setenv("IDENTITY_CROWD_APP_NAME", "ims")
	t.Setenv("IDENTITY_CACHE_TTL", "90s")
	t.Setenv("IDENTITY_SESSION_STORE", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PORT", "9000")
	t.Setenv("IDENTITY_SECURITY_BASIC_AUTH_ENABLED", "true")
	t.Setenv("BASIC_AUTH_USERNAME", "svc")
	t.Setenv("BASIC_AUTH_PASSWORD", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderCrowd, cfg.ProviderType())
	assert.Equal(t, "https://crowd.local/crowd/rest/usermanagement/1", cfg.Crowd.URL)
	assert.Equal(t, "ims", cfg.Crowd.AppName)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, SessionStoreRedis, cfg.Session.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, BasicAuthConfig{Enabled: true, Username: "svc", Password: "s3cret"}, cfg.Security.BasicAuth)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Provider.Type = "ldap"
	cfg.Session.Store = "disk"
	cfg.Cookie.MaxAge = 0
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	cfg.Security.BasicAuth = BasicAuthConfig{Enabled: true, Username: "svc"}

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown identity provider "ldap"`)
	assert.ErrorContains(t, err, `unknown session store "disk"`)
	assert.ErrorContains(t, err, "cookie.max_age")
	assert.ErrorContains(t, err, "kafka.brokers")
	assert.ErrorContains(t, err, "security.basic_auth")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, Name: "identity", User: "u", Password: "p"}

	assert.Equal(t, "host=db port=5433 dbname=identity user=u password=p sslmode=disable", d.DSN())
}
