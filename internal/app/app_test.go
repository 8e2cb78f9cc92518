package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"studynotify/internal/config"
	"studynotify/internal/delivery"
	"studynotify/internal/domain"
	"studynotify/internal/eventbus"
	"studynotify/internal/storage"
	"studynotify/pkg/logx"
)

func boolPtr(b bool) *bool { return &b }

func TestMapPolicy(t *testing.T) {
	t.Parallel()

	p := mapPolicy(&config.Config{})
	if !reflect.DeepEqual(p, domain.DefaultPolicy()) {
		t.Fatalf("empty config policy = %+v", p)
	}

	p = mapPolicy(&config.Config{Decision: config.DecisionConfig{
		Sensitivity:  8,
		EnablePraise: boolPtr(false),
		Rules:        &config.RulesConfig{PraiseThreshold: 9},
	}})
	if p.Sensitivity != 8 || p.EnablePraise || !p.EnablePosture || !p.EnableActivity {
		t.Fatalf("policy = %+v", p)
	}
	if p.Rules.PraiseThreshold != 9 {
		t.Fatalf("rules = %+v", p.Rules)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     *config.StorageConfig
		enabled bool
		busy    time.Duration
	}{
		{name: "absent"},
		{name: "none", cfg: &config.StorageConfig{Driver: "none"}},
		{name: "sqlite default busy", cfg: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, enabled: true, busy: defaultSQLiteBusy},
		{name: "sqlite busy", cfg: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}, enabled: true, busy: 3 * time.Second},
		{name: "file", cfg: &config.StorageConfig{Driver: "file", Path: " j.log "}, enabled: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.cfg})
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			if enabled != tc.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tc.enabled)
			}
			if sc.BusyTimeout != tc.busy {
				t.Fatalf("busy = %v, want %v", sc.BusyTimeout, tc.busy)
			}
			if tc.name == "file" && sc.Path != "j.log" {
				t.Fatalf("path = %q", sc.Path)
			}
		})
	}
}

func TestMapHTTPConfigDefaults(t *testing.T) {
	t.Parallel()

	h, err := mapHTTPConfig(&config.Config{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if h.addr != defaultHTTPAddr || h.request != defaultRequestTimeout || h.shutdown != defaultShutdownTimeout {
		t.Fatalf("settings = %+v", h)
	}

	if _, err := mapHTTPConfig(&config.Config{HTTP: config.HTTPConfig{ReadTimeout: "soon"}}); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()

	d, err := mapDeliveryConfig(&config.Config{Delivery: config.DeliveryConfig{
		MaxPerWindow: 5,
		Window:       "30s",
		PauseFor:     "2m",
		RetryMax:     2,
	}})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if d.MaxPerWindow != 5 || d.Window != 30*time.Second || d.PauseFor != 2*time.Minute || d.RetryMax != 2 {
		t.Fatalf("delivery = %+v", d)
	}
}

func TestMapAMQPConfig(t *testing.T) {
	t.Parallel()

	if _, ok := mapAMQPConfig(&config.Config{}); ok {
		t.Fatalf("amqp should be disabled by default")
	}
	a, ok := mapAMQPConfig(&config.Config{Events: config.EventsConfig{
		Buffer: 64,
		AMQP:   config.AMQPConfig{Enabled: true, URL: " amqp://localhost/ ", Exchange: "ex"},
	}})
	if !ok || a.URL != "amqp://localhost/" || a.Exchange != "ex" || a.Buffer != 64 {
		t.Fatalf("amqp = %+v ok=%v", a, ok)
	}
}

func TestJournalRecord(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if _, ok := journalRecord(eventbus.Event{Type: delivery.EventQueued, Data: delivery.Event{}}); ok {
		t.Fatalf("queued events must be skipped")
	}
	if _, ok := journalRecord(eventbus.Event{Type: delivery.EventSent, Data: "nope"}); ok {
		t.Fatalf("foreign payloads must be skipped")
	}

	rec, ok := journalRecord(eventbus.Event{
		Type: delivery.EventSent,
		Time: at,
		Data: delivery.Event{HandleID: "h1", Destination: "https://x", MessageID: "m1", Attempts: 1},
	})
	if !ok {
		t.Fatalf("sent event skipped")
	}
	if rec.Event != delivery.EventSent || rec.HandleID != "h1" || rec.MessageID != "m1" || !rec.At.Equal(at) {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRunJournalAppends(t *testing.T) {
	t.Parallel()

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal.log")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runJournal(ctx, bus, store, logx.Nop()) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: delivery.EventFailed, Time: time.Now(), Data: delivery.Event{HandleID: "h2", Error: "boom"}})
		recs, err := store.RecentDeliveries(context.Background(), 10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(recs) > 0 {
			if recs[0].HandleID != "h2" || recs[0].Error != "boom" || recs[0].Event != delivery.EventFailed {
				t.Fatalf("record = %+v", recs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal never appended")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runJournal: %v", err)
	}
}

func TestStatsResetter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := newStatsResetter(func() { calls.Add(1) }, logx.Nop())
	defer r.Stop()

	if err := r.Apply("not a schedule", ""); err == nil {
		t.Fatalf("expected schedule error")
	}
	if err := r.Apply("@every 1s", "Nowhere/Invalid"); err == nil {
		t.Fatalf("expected timezone error")
	}
	if err := r.Apply("@every 1s", "UTC"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	deadline := time.Now().Add(4 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("reset never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := r.Apply("", ""); err != nil {
		t.Fatalf("disable: %v", err)
	}
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	journal := filepath.Join(dir, "journal.log")
	body := "http:\n  addr: \"127.0.0.1:0\"\n" +
		"storage:\n  driver: file\n  path: \"" + journal + "\"\n" +
		"metrics:\n  enabled: true\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := New(cfgPath, WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, path := range []string{"/api/health", "/api/stats", "/api/deliveries", "/metrics"} {
		resp, err := http.Get("http://" + a.Addr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d", path, resp.StatusCode)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSIGTERM); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatalf("app not done after stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("app err: %v", err)
	}
}

func TestMapDebugConfig(t *testing.T) {
	t.Parallel()

	if _, ok := mapDebugConfig(&config.Config{}); ok {
		t.Fatalf("debug listener should be off by default")
	}
	d, ok := mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "127.0.0.1:7070", Token: "t"}})
	if !ok || d.Addr != "127.0.0.1:7070" || d.Token != "t" {
		t.Fatalf("debug = %+v ok=%v", d, ok)
	}
}
