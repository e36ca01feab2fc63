package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-pots-must-flow/internal/monzo"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("POTS_TEST_DIR", "/srv/pots")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/pots.db", filepath.Join(home, "pots.db")},
		{"$POTS_TEST_DIR/pots.db", "/srv/pots/pots.db"},
		{"/var/lib/pots.db", "/var/lib/pots.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestDatabasePath(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local/share/pots/pots.db"), DatabasePath())

	dir := t.TempDir()
	viper.Set("database.path", filepath.Join(dir, "custom.db"))
	assert.Equal(t, filepath.Join(dir, "custom.db"), DatabasePath())
}

func TestLoadMonzoConfig(t *testing.T) {
	t.Run("viper takes precedence", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		t.Setenv("MONZO_ACCESS_TOKEN", "env-token")

		viper.Set("monzo.access_token", "file-token")
		viper.Set("monzo.account_id", "acc_1")
		viper.Set("monzo.rate_limit", 2.5)
		viper.Set("monzo.timeout", "10s")

		cfg := LoadMonzoConfig()
		assert.Equal(t, "file-token", cfg.AccessToken)
		assert.Equal(t, "acc_1", cfg.AccountID)
		assert.InDelta(t, 2.5, cfg.RateLimit, 0.001)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, monzo.DefaultBaseURL, cfg.BaseURL)
	})

	t.Run("environment fallback", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		t.Setenv("MONZO_ACCESS_TOKEN", "env-token")
		t.Setenv("MONZO_REFRESH_TOKEN", "env-refresh")

		cfg := LoadMonzoConfig()
		assert.Equal(t, "env-token", cfg.AccessToken)
		assert.Equal(t, "env-refresh", cfg.RefreshToken)
	})
}

func TestLoadLedgerConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     LedgerConfig
		wantErr  bool
	}{
		{
			name: "defaults to sqlite",
			want: LedgerConfig{Backend: LedgerSQLite},
		},
		{
			name:     "redis with default address",
			settings: map[string]any{"ledger.backend": "redis", "ledger.ttl": "720h"},
			want:     LedgerConfig{Backend: LedgerRedis, RedisAddr: "localhost:6379", TTL: 720 * time.Hour},
		},
		{
			name:     "redis with explicit settings",
			settings: map[string]any{"ledger.backend": "redis", "ledger.redis.addr": "cache:6380", "ledger.redis.db": 2, "ledger.redis.prefix": "p:"},
			want:     LedgerConfig{Backend: LedgerRedis, RedisAddr: "cache:6380", RedisDB: 2, RedisPrefix: "p:"},
		},
		{
			name:     "unknown backend",
			settings: map[string]any{"ledger.backend": "etcd"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for k, v := range tt.settings {
				viper.Set(k, v)
			}

			got, err := LoadLedgerConfig()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
