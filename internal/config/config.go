// Package config loads registry settings from a YAML file, environment
// variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/StarRegistry/internal/webhooks"
	"github.com/spf13/viper"
)

// Config holds the registry process settings.
type Config struct {
	Port               int
	CORSOrigins        []string
	RateLimitRPS       int
	SubmitRateLimitRPS int
	ShutdownTimeout    time.Duration
	ClaimWindow        time.Duration
	AuditInterval      time.Duration
	AuditFailThreshold int
	BitcoinNetwork     string
	LogDevelopment     bool
	Webhooks           []webhooks.Subscription
}

// ErrNoConfigFile is returned alongside a usable Config when no file was
// found and only defaults and environment variables apply.
var ErrNoConfigFile = errors.New("no config file found")

// SetDefaults registers every key with its default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("registry.port", 8000)
	v.SetDefault("registry.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("registry.rate_limit_rps", 20)
	v.SetDefault("registry.submit_rate_limit_rps", 2)
	v.SetDefault("registry.shutdown_timeout", "15s")
	v.SetDefault("ledger.claim_window", "5m")
	v.SetDefault("ledger.audit_interval", "1m")
	v.SetDefault("ledger.audit_fail_threshold", 1)
	v.SetDefault("bitcoin.network", "mainnet")
	v.SetDefault("log.development", false)
}

// Load reads registry.yaml from configs/ or the working directory (or from
// file, when non-empty) and overlays REGISTRY_PORT-style environment
// variables. A missing file is reported as ErrNoConfigFile with a valid Config.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("registry")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	var missing bool
	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		missing = true
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if missing {
		return cfg, ErrNoConfigFile
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	shutdown, err := time.ParseDuration(v.GetString("registry.shutdown_timeout"))
	if err != nil {
		return nil, fmt.Errorf("registry.shutdown_timeout: %w", err)
	}
	window, err := time.ParseDuration(v.GetString("ledger.claim_window"))
	if err != nil {
		return nil, fmt.Errorf("ledger.claim_window: %w", err)
	}
	if window < time.Second {
		return nil, fmt.Errorf("ledger.claim_window must be at least 1s, got %s", window)
	}
	audit, err := time.ParseDuration(v.GetString("ledger.audit_interval"))
	if err != nil {
		return nil, fmt.Errorf("ledger.audit_interval: %w", err)
	}

	var hooks []webhooks.Subscription
	if err := v.UnmarshalKey("webhooks", &hooks); err != nil {
		return nil, fmt.Errorf("webhooks: %w", err)
	}
	for i, h := range hooks {
		if h.URL == "" {
			return nil, fmt.Errorf("webhooks[%d]: url is required", i)
		}
	}

	return &Config{
		Port:               v.GetInt("registry.port"),
		CORSOrigins:        v.GetStringSlice("registry.cors_origins"),
		RateLimitRPS:       v.GetInt("registry.rate_limit_rps"),
		SubmitRateLimitRPS: v.GetInt("registry.submit_rate_limit_rps"),
		ShutdownTimeout:    shutdown,
		ClaimWindow:        window,
		AuditInterval:      audit,
		AuditFailThreshold: v.GetInt("ledger.audit_fail_threshold"),
		BitcoinNetwork:     v.GetString("bitcoin.network"),
		LogDevelopment:     v.GetBool("log.development"),
		Webhooks:           hooks,
	}, nil
}
