package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save current env and restore after test
	originalEnv := os.Environ()
	defer func() {
		os.Clearenv()
		for _, env := range originalEnv {
			for i := 0; i < len(env); i++ {
				if env[i] == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}()

	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "docflow", cfg.Database.Database)
				assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
				assert.Equal(t, 30*time.Second, cfg.Engine.LockTTL)
				assert.Equal(t, time.Minute, cfg.Engine.SweepInterval)
				assert.Equal(t, 100, cfg.Engine.SweepBatchSize)
				assert.False(t, cfg.Notification.Email.Enabled)
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"SERVER_PORT":           "9000",
				"SERVER_RATE_LIMIT_RPS": "25.5",
				"DB_HOST":               "db.example.com",
				"DB_NAME":               "docflow_test",
				"REDIS_HOST":            "redis.example.com",
				"REDIS_PORT":            "6380",
				"LOG_LEVEL":             "debug",
				"ENGINE_LOCK_TTL":       "45s",
				"ENGINE_SWEEP_INTERVAL": "30s",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, 25.5, cfg.Server.RateLimitRPS)
				assert.Equal(t, "db.example.com", cfg.Database.Host)
				assert.Equal(t, "docflow_test", cfg.Database.Database)
				assert.Equal(t, "redis.example.com", cfg.Redis.Host)
				assert.Equal(t, 6380, cfg.Redis.Port)
				assert.Equal(t, "debug", cfg.Logger.Level)
				assert.Equal(t, 45*time.Second, cfg.Engine.LockTTL)
				assert.Equal(t, 30*time.Second, cfg.Engine.SweepInterval)
			},
		},
		{
			name: "production with jwt secret",
			env: map[string]string{
				"APP_ENV":         "production",
				"AUTH_JWT_SECRET": "super-secret",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "production", cfg.App.Environment)
				assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
			},
		},
		{
			name: "production without jwt secret",
			env: map[string]string{
				"APP_ENV": "production",
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			env: map[string]string{
				"SERVER_PORT": "99999",
			},
			wantErr: true,
		},
		{
			name: "malformed int falls back to default",
			env: map[string]string{
				"DB_PORT": "not-a-number",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5432, cfg.Database.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_DSNHelpers(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "db.internal",
			Port:     5433,
			User:     "docflow",
			Password: "s3cret",
			Database: "docflow",
			SSLMode:  "require",
		},
		Redis: RedisConfig{Host: "cache.internal", Port: 6380},
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=docflow password=s3cret dbname=docflow sslmode=require",
		cfg.DatabaseDSN())
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr())
}
