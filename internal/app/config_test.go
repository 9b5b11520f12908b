package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/leads")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ADMIN_EMAIL", testAdminEmail)
	t.Setenv("ADMIN_PASSWORD", testAdminPassword)
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.Production())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.False(t, cfg.RevokeOnLogout)
	assert.Equal(t, "Admin", cfg.AdminName)
	assert.Equal(t, 300, cfg.GeneralTier.Limit)
	assert.Equal(t, 5, cfg.SensitiveTier.Limit)
	assert.Equal(t, 3, cfg.LeadsTier.Limit)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	assert.Zero(t, cfg.LeadRetention)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "Production")
	t.Setenv("TOKEN_TTL_HOURS", "8")
	t.Setenv("AUTH_REVOKE_ON_LOGOUT", "yes")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_LEADS_MAX", "10")
	t.Setenv("RATE_LIMIT_LEADS_WINDOW_SECONDS", "60")
	t.Setenv("LEAD_RETENTION_DAYS", "90")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, 8*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.RevokeOnLogout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 10, cfg.LeadsTier.Limit)
	assert.Equal(t, time.Minute, cfg.LeadsTier.Window)
	assert.Equal(t, 90*24*time.Hour, cfg.LeadRetention)
}

func TestLoadConfigFailures(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "missing jwt secret", key: "JWT_SECRET", value: "", want: "JWT_SECRET"},
		{name: "short jwt secret", key: "JWT_SECRET", value: "too-short", want: "at least 32 bytes"},
		{name: "missing admin email", key: "ADMIN_EMAIL", value: "", want: "ADMIN_EMAIL"},
		{name: "missing admin password", key: "ADMIN_PASSWORD", value: "  ", want: "ADMIN_PASSWORD"},
		{name: "missing database", key: "DATABASE_URL", value: "", want: "DATABASE_URL"},
		{name: "bad ttl", key: "TOKEN_TTL_HOURS", value: "soon", want: "TOKEN_TTL_HOURS"},
		{name: "negative retention", key: "LEAD_RETENTION_DAYS", value: "-1", want: "LEAD_RETENTION_DAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvBoolOrDefault(t *testing.T) {
	t.Setenv("FLAG", "off")
	assert.False(t, EnvBoolOrDefault("FLAG", true))

	t.Setenv("FLAG", "maybe")
	assert.True(t, EnvBoolOrDefault("FLAG", true))
}
