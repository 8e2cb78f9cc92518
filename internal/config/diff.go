package config

import (
	"reflect"
	"strings"

	"studynotify/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Destinations, DSNs and broker URLs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Addr and timeouts only apply after a restart; still report them.
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.default_destination_set", strings.TrimSpace(newCfg.HTTP.DefaultDestination) != ""),
			logx.String("http.wait_for_delivery", newCfg.HTTP.WaitForDelivery),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.max_per_window", newCfg.Delivery.MaxPerWindow),
			logx.String("delivery.window", newCfg.Delivery.Window),
			logx.String("delivery.pause_for", newCfg.Delivery.PauseFor),
			logx.Int("delivery.retry_max", newCfg.Delivery.RetryMax),
		)
	}

	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.String("webhook.timeout", newCfg.Webhook.Timeout),
			logx.Float64("webhook.rate_per_sec", newCfg.Webhook.RatePerSec),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.enabled", newCfg.Telegram.Enabled))
	}

	if !reflect.DeepEqual(oldCfg.Decision, newCfg.Decision) {
		changed = append(changed, "decision")
		attrs = append(attrs,
			logx.Int("decision.sensitivity", newCfg.Decision.Sensitivity),
			logx.Bool("decision.custom_rules", newCfg.Decision.Rules != nil),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.reset_schedule", newCfg.Metrics.ResetSchedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if oldCfg.Events != newCfg.Events {
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.Int("events.buffer", newCfg.Events.Buffer),
			logx.Bool("events.amqp_enabled", newCfg.Events.AMQP.Enabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	return changed, attrs
}
