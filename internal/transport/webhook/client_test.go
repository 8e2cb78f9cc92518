package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"studynotify/internal/transport"
)

type captured struct {
	mu    sync.Mutex
	query url.Values
	body  map[string]any
	raw   []byte
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.query = r.URL.Query()
		c.raw = raw
		_ = json.Unmarshal(raw, &c.body)
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func TestValidate(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	tests := []struct {
		dest string
		kind error
	}{
		{"https://oapi.dingtalk.com/robot/send?access_token=abc", nil},
		{"https://oapi.dingtalk.com/robot/send?access_token=abc&secret=SEC1", nil},
		{"https://oapi.dingtalk.com/robot/send", transport.ErrConfig},
		{"https://oapi.dingtalk.com/robot/send?access_token=", transport.ErrConfig},
		{"ftp://host/?access_token=abc", transport.ErrConfig},
		{"https://oapi.dingtalk.com/robot/send?access_token=abc&secret=", transport.ErrSignature},
		{"https://oapi.dingtalk.com/robot/send?access_token=abc&secret=SEC%20X", transport.ErrSignature},
	}
	for _, tt := range tests {
		err := c.Validate(tt.dest)
		if tt.kind == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.dest, err)
			}
			continue
		}
		if !errors.Is(err, tt.kind) {
			t.Fatalf("%s: got %v, want %v", tt.dest, err, tt.kind)
		}
	}
}

func TestPostSignsAndStripsSecret(t *testing.T) {
	t.Parallel()
	srv, got := newServer(t, http.StatusOK, `{"errcode":0,"errmsg":"ok"}`)
	c := New(Config{}, WithClock(fixedClock))

	res, err := c.Post(context.Background(), srv.URL+"/robot/send?access_token=tok&secret=SECabc",
		transport.Message{Type: transport.Markdown, Title: "t", Text: "hello"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !strings.HasPrefix(res.MessageID, "msg_") {
		t.Fatalf("fallback id = %q", res.MessageID)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	if got.query.Has("secret") {
		t.Fatal("secret leaked to provider")
	}
	if got.query.Get("access_token") != "tok" {
		t.Fatalf("access_token = %q", got.query.Get("access_token"))
	}
	if got.query.Get("timestamp") != "1700000000000" {
		t.Fatalf("timestamp = %q", got.query.Get("timestamp"))
	}
	if want := Sign(1700000000000, "SECabc"); got.query.Get("sign") != want {
		t.Fatalf("sign = %q, want %q", got.query.Get("sign"), want)
	}
	if got.body["msgtype"] != "markdown" {
		t.Fatalf("msgtype = %v", got.body["msgtype"])
	}
	at, _ := got.body["at"].(map[string]any)
	if at["isAtAll"] != false {
		t.Fatalf("at = %v", got.body["at"])
	}
}

func TestSignKnownVector(t *testing.T) {
	t.Parallel()
	// HMAC-SHA256 keyed by "secret" over "1\nsecret".
	a := Sign(1, "secret")
	b := Sign(1, "secret")
	if a != b || a == "" {
		t.Fatalf("signature not deterministic: %q %q", a, b)
	}
	if Sign(2, "secret") == a {
		t.Fatal("signature ignores timestamp")
	}
}

func TestProviderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		reply   string
		wantMsg string
		code    int
	}{
		{"errcode in 200", http.StatusOK, `{"errcode":310000,"errmsg":"sign not match"}`, "sign not match", 310000},
		{"errmsg in 400", http.StatusBadRequest, `{"errcode":400,"errmsg":"bad token"}`, "bad token", 400},
		{"raw body in 502", http.StatusBadGateway, `upstream down`, "upstream down", 0},
	}
	for _, tt := range tests {
		srv, _ := newServer(t, tt.status, tt.reply)
		_, err := New(Config{}).Post(context.Background(), srv.URL+"/?access_token=x", transport.Message{Text: "x"})
		if !errors.Is(err, transport.ErrProvider) {
			t.Fatalf("%s: expected provider error, got %v", tt.name, err)
		}
		var te *transport.Error
		if !errors.As(err, &te) || te.Msg != tt.wantMsg || te.Code != tt.code {
			t.Fatalf("%s: got %+v", tt.name, te)
		}
	}
}

func TestNetworkErrorHidesToken(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, http.StatusOK, `{}`)
	dest := srv.URL + "/?access_token=topsecret"
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Post(context.Background(), dest, transport.Message{Text: "x"})
	if !errors.Is(err, transport.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestImageTruncatedAndDropped(t *testing.T) {
	t.Parallel()
	msg := transport.Message{Type: transport.Markdown, Title: "t", Text: "body", Image: strings.Repeat("Q", 40000)}

	body, dropped, err := encode(msg, DefaultMaxImageChars, DefaultMaxBodyBytes)
	if err != nil || dropped {
		t.Fatalf("encode: dropped=%v err=%v", dropped, err)
	}
	if strings.Count(string(body), "Q") != DefaultMaxImageChars {
		t.Fatalf("image not truncated to %d chars", DefaultMaxImageChars)
	}

	// A body limit smaller than the truncated image forces the drop.
	body, dropped, err = encode(msg, DefaultMaxImageChars, 1000)
	if err != nil || !dropped {
		t.Fatalf("expected drop: dropped=%v err=%v", dropped, err)
	}
	if strings.Contains(string(body), "base64") {
		t.Fatal("image still present after drop")
	}

	huge := transport.Message{Text: strings.Repeat("x", 30000)}
	if _, _, err := encode(huge, DefaultMaxImageChars, DefaultMaxBodyBytes); !errors.Is(err, transport.ErrPayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}
}

func TestTextMessageShape(t *testing.T) {
	t.Parallel()
	srv, got := newServer(t, http.StatusOK, `{"errcode":0,"messageId":"m-1"}`)
	res, err := New(Config{}).Post(context.Background(), srv.URL+"/?access_token=x", transport.Message{Type: transport.Text, Text: "paused"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.MessageID != "m-1" {
		t.Fatalf("message id = %q", res.MessageID)
	}
	got.mu.Lock()
	defer got.mu.Unlock()
	text, _ := got.body["text"].(map[string]any)
	if got.body["msgtype"] != "text" || text["content"] != "paused" {
		t.Fatalf("unexpected body %s", got.raw)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	errors int
	calls  int
}

func (o *recordingObserver) ObserveNetworkRequest(_, _, _ string, _ time.Time, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		o.errors++
	}
}

func TestObserverSeesOutcome(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, http.StatusOK, `{"errcode":1,"errmsg":"no"}`)
	obs := &recordingObserver{}
	_, _ = New(Config{RatePerSec: 100}, WithObserver(obs)).Post(context.Background(), srv.URL+"/?access_token=x", transport.Message{Text: "x"})
	if obs.calls != 1 || obs.errors != 1 {
		t.Fatalf("observer calls=%d errors=%d", obs.calls, obs.errors)
	}
}

func TestRateLimitSpacesPosts(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		hits []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{RatePerSec: 5, Burst: 1})
	dest := srv.URL + "/?access_token=x"
	for i := 0; i < 2; i++ {
		if _, err := c.Post(context.Background(), dest, transport.Message{Text: "x"}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 2 {
		t.Fatalf("server saw %d requests", len(hits))
	}
	if gap := hits[1].Sub(hits[0]); gap < 150*time.Millisecond {
		t.Fatalf("posts %v apart, want about 200ms at 5/s", gap)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, http.StatusOK, `{"errcode":0,"errmsg":"ok"}`)
	c := New(Config{RatePerSec: 0.5, Burst: 1})
	dest := srv.URL + "/?access_token=x"

	if _, err := c.Post(context.Background(), dest, transport.Message{Text: "x"}); err != nil {
		t.Fatalf("first post: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Post(ctx, dest, transport.Message{Text: "x"})
	if !errors.Is(err, transport.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("paced post ignored the context deadline")
	}
}
