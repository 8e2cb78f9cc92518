package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleParser accepts five-field specs, an optional seconds field and
// descriptors such as "@daily".
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var knownDrivers = map[string]bool{
	"": true, "none": true, "file": true, "sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true, "pgx": true, "redis": true,
}

// Validate reports every invalid field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.request_timeout", cfg.HTTP.RequestTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	dur("http.wait_for_delivery", cfg.HTTP.WaitForDelivery)

	d := cfg.Delivery
	dur("delivery.window", d.Window)
	dur("delivery.pause_for", d.PauseFor)
	dur("delivery.retry_base", d.RetryBase)
	dur("delivery.retry_max_delay", d.RetryMaxDelay)
	if d.MaxPerWindow < 0 || d.MaxPerWindow == 1 {
		errs = append(errs, fmt.Errorf("delivery.max_per_window: must be 0 (default) or >= 2, got %d", d.MaxPerWindow))
	}
	if d.MaxQueue < 0 || d.RetryMax < 0 {
		errs = append(errs, errors.New("delivery: max_queue and retry_max must be >= 0"))
	}

	dur("webhook.timeout", cfg.Webhook.Timeout)
	if cfg.Webhook.RatePerSec < 0 || cfg.Webhook.Burst < 0 {
		errs = append(errs, errors.New("webhook: rate_per_sec and burst must be >= 0"))
	}
	dur("telegram.timeout", cfg.Telegram.Timeout)

	if s := cfg.Decision.Sensitivity; s < 0 || s > 10 {
		errs = append(errs, fmt.Errorf("decision.sensitivity: must be within 1..10, got %d", s))
	}

	if spec := strings.TrimSpace(cfg.Metrics.ResetSchedule); spec != "" {
		if _, err := ScheduleParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("metrics.reset_schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Metrics.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("metrics.timezone: %w", err))
		}
	}

	if st := cfg.Storage; st != nil {
		driver := strings.ToLower(strings.TrimSpace(st.Driver))
		if !knownDrivers[driver] {
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if a := cfg.Events.AMQP; a.Enabled && strings.TrimSpace(a.URL) == "" {
		errs = append(errs, errors.New("events.amqp.url is required when amqp is enabled"))
	}
	if d := cfg.Debug; d.MutexProfileFraction < 0 || d.BlockProfileRate < 0 {
		errs = append(errs, errors.New("debug: profile rates must be >= 0"))
	}
	return errors.Join(errs...)
}
