package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-pots-must-flow/internal/monzo"
)

// LoadMonzoConfig loads Monzo API settings. It follows this precedence:
// 1. Viper configuration (from config file or POTS_ env vars)
// 2. Direct environment variables (MONZO_*)
// 3. Default values
func LoadMonzoConfig() monzo.Config {
	cfg := monzo.Config{
		BaseURL:   viper.GetString("monzo.base_url"),
		AccountID: viper.GetString("monzo.account_id"),
		ClientID:  viper.GetString("monzo.client_id"),
		RateLimit: viper.GetFloat64("monzo.rate_limit"),
		Timeout:   viper.GetDuration("monzo.timeout"),
	}
	cfg.ClientSecret = viper.GetString("monzo.client_secret")
	cfg.AccessToken = viper.GetString("monzo.access_token")
	cfg.RefreshToken = viper.GetString("monzo.refresh_token")

	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&cfg.AccessToken, "MONZO_ACCESS_TOKEN")
	fallback(&cfg.RefreshToken, "MONZO_REFRESH_TOKEN")
	fallback(&cfg.ClientID, "MONZO_CLIENT_ID")
	fallback(&cfg.ClientSecret, "MONZO_CLIENT_SECRET")
	fallback(&cfg.AccountID, "MONZO_ACCOUNT_ID")

	if cfg.BaseURL == "" {
		cfg.BaseURL = monzo.DefaultBaseURL
	}
	return cfg
}
