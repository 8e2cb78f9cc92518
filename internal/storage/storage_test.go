package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studynotify/pkg/logx"
)

func record(i int) DeliveryRecord {
	return DeliveryRecord{
		At:          time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
		Event:       "delivery.sent",
		HandleID:    fmt.Sprintf("h%d", i),
		Destination: "https://robot.test/send?access_token=***",
		Priority:    "high",
		MessageID:   fmt.Sprintf("m%d", i),
		Attempts:    1,
	}
}

// exerciseStore appends n records and checks the newest-first read.
func exerciseStore(t *testing.T, st Store, n, limit int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if err := st.AppendDelivery(ctx, record(i)); err != nil {
			t.Fatalf("AppendDelivery(%d): %v", i, err)
		}
	}
	got, err := st.RecentDeliveries(ctx, limit)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	want := limit
	if n < limit {
		want = n
	}
	if len(got) != want {
		t.Fatalf("len = %d, want %d", len(got), want)
	}
	for i, r := range got {
		wantID := fmt.Sprintf("h%d", n-1-i)
		if r.HandleID != wantID {
			t.Fatalf("record %d = %q, want %q", i, r.HandleID, wantID)
		}
	}
	if got[0].MessageID != fmt.Sprintf("m%d", n-1) || got[0].Attempts != 1 || got[0].Priority != "high" {
		t.Fatalf("fields not kept: %+v", got[0])
	}
	if !got[0].At.Equal(record(n - 1).At) {
		t.Fatalf("at = %v", got[0].At)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	if !errors.Is(err, ErrUnknownDrive) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenRequiresLocation(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"file", "sqlite", "postgres", "redis"} {
		if _, err := Open(Config{Driver: d}, logx.Nop()); err == nil {
			t.Fatalf("%s: expected error without path/dsn", d)
		}
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal", "deliveries.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	exerciseStore(t, st, 7, 3)

	all, err := st.RecentDeliveries(context.Background(), 100)
	if err != nil || len(all) != 7 {
		t.Fatalf("all = %d, %v", len(all), err)
	}
}

func TestFileStoreSkipsPartialLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deliveries.jsonl")
	if err := os.WriteFile(path, []byte("{\"event\":\"delivery.sent\",\"handleId\":\"old\"}\n{\"event\":"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	got, err := st.RecentDeliveries(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(got) != 1 || got[0].HandleID != "old" {
		t.Fatalf("got %+v", got)
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendDelivery(context.Background(), record(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "studynotify.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st, 5, 2)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen runs the migration again and keeps data.
	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.RecentDeliveries(context.Background(), 0)
	if err != nil || len(got) != 5 {
		t.Fatalf("after reopen = %d, %v", len(got), err)
	}
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	st, err := Open(Config{Driver: "redis", DSN: "redis://" + mr.Addr(), Key: "test:journal", MaxEntries: 4}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	exerciseStore(t, st, 6, 4)

	n, err := mr.List("test:journal")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(n) != 4 {
		t.Fatalf("list not capped: %d entries", len(n))
	}
}

func TestRedisStoreSkipsGarbage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := newRedisStore(client, Config{}, logx.Nop())
	defer st.Close()

	ctx := context.Background()
	if err := st.AppendDelivery(ctx, record(1)); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	if _, err := mr.Lpush(defaultRedisKey, "not json"); err != nil {
		t.Fatal(err)
	}
	got, err := st.RecentDeliveries(ctx, 5)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(got) != 1 || got[0].HandleID != "h1" {
		t.Fatalf("got %+v", got)
	}
}
