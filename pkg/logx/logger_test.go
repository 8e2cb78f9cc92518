package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWritesFixedAndCallFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := FromZerolog(zerolog.New(&buf)).With(String("comp", "delivery"))

	log.Warn("send failed", Int("attempt", 2), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "delivery" {
		t.Fatalf("comp = %v, want delivery", m["comp"])
	}
	if m["attempt"] != float64(2) {
		t.Fatalf("attempt = %v, want 2", m["attempt"])
	}
	if m["message"] != "send failed" {
		t.Fatalf("message = %v", m["message"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logger_test.go:") {
		t.Fatalf("caller = %q, want short file:line", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Info("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
