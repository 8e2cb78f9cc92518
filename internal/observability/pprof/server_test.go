package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"studynotify/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"[::1]:6060":     true,
		"localhost:1":    true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.1.2.3:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.Run(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err = %v, want ErrInsecureBind", err)
	}
}

func TestHandlerToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(Config{Token: "s3cret"}, logx.Nop()).Handler())
	defer srv.Close()

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing", path: "/healthz", want: http.StatusUnauthorized},
		{name: "wrong", path: "/healthz?token=nope", want: http.StatusUnauthorized},
		{name: "query", path: "/healthz?token=s3cret", want: http.StatusOK},
		{name: "bearer", path: "/debug/pprof/", header: "Bearer s3cret", want: http.StatusOK},
		{name: "named profile", path: "/debug/pprof/goroutine?debug=1", header: "Bearer s3cret", want: http.StatusOK},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodGet, srv.URL+tc.path, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{Addr: "127.0.0.1:0"}, logx.Nop()).Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
