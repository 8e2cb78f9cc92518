package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "STUDYNOTIFY"

// envOverrides lists the settings that deployments usually inject from the
// environment. Unset variables leave the file value alone.
type envOverrides struct {
	LogLevel           string `envconfig:"LOG_LEVEL"`
	HTTPAddr           string `envconfig:"HTTP_ADDR"`
	DefaultDestination string `envconfig:"WEBHOOK_URL"`
	StorageDriver      string `envconfig:"STORAGE_DRIVER"`
	StoragePath        string `envconfig:"STORAGE_PATH"`
	StorageDSN         string `envconfig:"STORAGE_DSN"`
	AMQPURL            string `envconfig:"AMQP_URL"`
	MetricsEnabled     *bool  `envconfig:"METRICS_ENABLED"`
}

// ApplyEnv overlays STUDYNOTIFY_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Logging.Level, env.LogLevel)
	set(&cfg.HTTP.Addr, env.HTTPAddr)
	set(&cfg.HTTP.DefaultDestination, env.DefaultDestination)
	set(&cfg.Events.AMQP.URL, env.AMQPURL)
	if strings.TrimSpace(env.AMQPURL) != "" {
		cfg.Events.AMQP.Enabled = true
	}
	if env.StorageDriver != "" || env.StoragePath != "" || env.StorageDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		set(&cfg.Storage.Driver, env.StorageDriver)
		set(&cfg.Storage.Path, env.StoragePath)
		set(&cfg.Storage.DSN, env.StorageDSN)
	}
	if env.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *env.MetricsEnabled
	}
	return nil
}
