package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Ledger backends.
const (
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// LedgerConfig selects where dedup keys are recorded.
type LedgerConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	RedisDB       int
	TTL           time.Duration
}

// LoadLedgerConfig reads the ledger section. The SQLite database is the
// default; Redis lets several hosts share one ledger.
func LoadLedgerConfig() (LedgerConfig, error) {
	cfg := LedgerConfig{
		Backend:       viper.GetString("ledger.backend"),
		RedisAddr:     viper.GetString("ledger.redis.addr"),
		RedisPassword: viper.GetString("ledger.redis.password"),
		RedisPrefix:   viper.GetString("ledger.redis.prefix"),
		RedisDB:       viper.GetInt("ledger.redis.db"),
		TTL:           viper.GetDuration("ledger.ttl"),
	}

	switch cfg.Backend {
	case "":
		cfg.Backend = LedgerSQLite
	case LedgerSQLite:
	case LedgerRedis:
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
		}
	default:
		return cfg, fmt.Errorf("unknown ledger backend %q (want %s or %s)", cfg.Backend, LedgerSQLite, LedgerRedis)
	}
	return cfg, nil
}
