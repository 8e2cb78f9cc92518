package app

import (
	"strings"
	"time"

	"studynotify/internal/config"
	"studynotify/internal/delivery"
	"studynotify/internal/domain"
	"studynotify/internal/eventbus"
	"studynotify/internal/observability/pprof"
	"studynotify/internal/pipeline"
	"studynotify/internal/storage"
	"studynotify/internal/transport/telegram"
	"studynotify/internal/transport/webhook"
	"studynotify/pkg/logx"
)

const (
	defaultHTTPAddr        = ":3000"
	defaultRequestTimeout  = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultWaitForDelivery = 12 * time.Second
	defaultSQLiteBusy      = time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// durations are validated by config.Validate before they reach the mappers,
// so parse errors are not expected here; they still propagate.

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	out := delivery.Config{
		MaxPerWindow: d.MaxPerWindow,
		AdvisoryText: d.AdvisoryText,
		MaxQueue:     d.MaxQueue,
		RetryMax:     d.RetryMax,
	}
	var err error
	if out.Window, err = config.ParseDurationField("delivery.window", d.Window); err != nil {
		return delivery.Config{}, err
	}
	if out.PauseFor, err = config.ParseDurationField("delivery.pause_for", d.PauseFor); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryBase, err = config.ParseDurationField("delivery.retry_base", d.RetryBase); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("delivery.retry_max_delay", d.RetryMaxDelay); err != nil {
		return delivery.Config{}, err
	}
	return out, nil
}

func mapWebhookConfig(cfg *config.Config) (webhook.Config, error) {
	w := cfg.Webhook
	timeout, err := config.ParseDurationField("webhook.timeout", w.Timeout)
	if err != nil {
		return webhook.Config{}, err
	}
	return webhook.Config{
		Timeout:       timeout,
		RatePerSec:    w.RatePerSec,
		Burst:         w.Burst,
		MaxImageChars: w.MaxImageChars,
		MaxBodyBytes:  w.MaxBodyBytes,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	if !cfg.Telegram.Enabled {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{APIURL: strings.TrimSpace(cfg.Telegram.APIURL), Timeout: timeout}, true, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	wait, err := config.ParseDurationOrDefault("http.wait_for_delivery", cfg.HTTP.WaitForDelivery, defaultWaitForDelivery)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{WaitForDelivery: wait, DefaultDestination: cfg.HTTP.DefaultDestination}, nil
}

// mapPolicy builds the default decision policy. Omitted flags stay enabled.
func mapPolicy(cfg *config.Config) domain.Policy {
	p := domain.DefaultPolicy()
	d := cfg.Decision
	if d.Sensitivity != 0 {
		p.Sensitivity = d.Sensitivity
	}
	if d.EnablePosture != nil {
		p.EnablePosture = *d.EnablePosture
	}
	if d.EnableActivity != nil {
		p.EnableActivity = *d.EnableActivity
	}
	if d.EnablePraise != nil {
		p.EnablePraise = *d.EnablePraise
	}
	if r := d.Rules; r != nil {
		p.Rules = domain.Rules{
			PraiseThreshold:       r.PraiseThreshold,
			DistractionThreshold:  r.DistractionThreshold,
			PostureThreshold:      r.PostureThreshold,
			HighPriorityThreshold: r.HighPriorityThreshold,
			MinSensitivity:        r.MinSensitivity,
			Distraction:           r.Distraction,
			StudyActivities:       r.StudyActivities,
		}
	}
	return p
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	out := storage.Config{
		Driver:     driver,
		Path:       strings.TrimSpace(sc.Path),
		DSN:        strings.TrimSpace(sc.DSN),
		Key:        sc.Key,
		MaxEntries: sc.MaxEntries,
	}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	}
	return out, true, nil
}

func mapAMQPConfig(cfg *config.Config) (eventbus.AMQPConfig, bool) {
	a := cfg.Events.AMQP
	if !a.Enabled {
		return eventbus.AMQPConfig{}, false
	}
	return eventbus.AMQPConfig{
		URL:      strings.TrimSpace(a.URL),
		Exchange: a.Exchange,
		Prefix:   a.Prefix,
		Buffer:   cfg.Events.Buffer,
	}, true
}

func mapDebugConfig(cfg *config.Config) (pprof.Config, bool) {
	d := cfg.Debug
	if !d.Enabled {
		return pprof.Config{}, false
	}
	return pprof.Config{
		Addr:                 d.Addr,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}, true
}

type httpSettings struct {
	addr     string
	read     time.Duration
	write    time.Duration
	request  time.Duration
	shutdown time.Duration
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	h := cfg.HTTP
	out := httpSettings{addr: strings.TrimSpace(h.Addr)}
	if out.addr == "" {
		out.addr = defaultHTTPAddr
	}
	var err error
	if out.read, err = config.ParseDurationField("http.read_timeout", h.ReadTimeout); err != nil {
		return out, err
	}
	if out.write, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return out, err
	}
	if out.request, err = config.ParseDurationOrDefault("http.request_timeout", h.RequestTimeout, defaultRequestTimeout); err != nil {
		return out, err
	}
	if out.shutdown, err = config.ParseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, defaultShutdownTimeout); err != nil {
		return out, err
	}
	return out, nil
}
