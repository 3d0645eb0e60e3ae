package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":3001", cfg.ListenAddr)
	require.Equal(t, time.Hour, cfg.TokenTTL)
	require.Equal(t, BackendBadger, cfg.AccountBackend)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	require.Equal(t, int64(5<<20), cfg.UploadMaxBytes)
	require.Equal(t, 256, cfg.SendQueueSize)
	require.Empty(t, cfg.RedisAddr)
	require.False(t, cfg.ContentFilter)
	require.True(t, cfg.IsDevelopment())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("ACCOUNT_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/huddle")
	t.Setenv("CONTENT_FILTER", "true")
	t.Setenv("ENV", "production")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, 5*time.Second, cfg.PingInterval)
	require.Equal(t, BackendPostgres, cfg.AccountBackend)
	require.True(t, cfg.ContentFilter)
	require.False(t, cfg.IsDevelopment())
}

func TestFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"unknown backend", map[string]string{"JWT_SECRET": "x", "ACCOUNT_BACKEND": "mysql"}},
		{"postgres without url", map[string]string{"JWT_SECRET": "x", "ACCOUNT_BACKEND": "postgres"}},
		{"zero workers", map[string]string{"JWT_SECRET": "x", "WORKER_POOL_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestFromEnvBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("TOKEN_TTL", "forever")

	_, err := FromEnv()
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalid)
}
