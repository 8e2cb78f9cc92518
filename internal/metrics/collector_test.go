package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"studynotify/internal/domain"
)

func TestRecordDecisionUpdatesSnapshotAndSeries(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())

	c.RecordDecision(domain.Verdict{ShouldNotify: true, Kind: domain.KindAlert, Reason: "on phone"})
	c.RecordDecision(domain.Skip("analysis failed"))
	c.RecordDecision(domain.Skip("analysis failed"))

	s := c.Snapshot().Notifications
	if s.Total != 3 || s.Sent != 1 || s.Blocked != 2 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if s.ByType["alert"] != 1 {
		t.Fatalf("byType = %v", s.ByType)
	}
	if s.ByReason["analysis failed"] != 2 {
		t.Fatalf("byReason = %v", s.ByReason)
	}
	if got := testutil.ToFloat64(c.decisions.WithLabelValues("blocked", "none")); got != 2 {
		t.Fatalf("blocked series = %v, want 2", got)
	}
}

func TestResetClearsSnapshotOnly(t *testing.T) {
	t.Parallel()
	c := New(nil)
	c.RecordMessage(domain.KindPraise, "short text")
	c.RecordDelivery(EventSent)
	c.Reset()

	s := c.Snapshot()
	if s.Messages.Total != 0 || s.Deliveries.Sent != 0 {
		t.Fatalf("snapshot not reset: %+v", s)
	}
	if s.Messages.ByLength[LengthShort] != 0 {
		t.Fatalf("length buckets not reset: %v", s.Messages.ByLength)
	}
	if got := testutil.ToFloat64(c.deliveries.WithLabelValues(EventSent)); got != 1 {
		t.Fatalf("prometheus counter = %v, want 1", got)
	}
}

func TestLengthBucketCountsRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{strings.Repeat("a", 49), LengthShort},
		{strings.Repeat("学", 49), LengthShort},
		{strings.Repeat("a", 50), LengthMedium},
		{strings.Repeat("a", 149), LengthMedium},
		{strings.Repeat("a", 150), LengthLong},
	}
	for _, tt := range tests {
		if got := LengthBucket(tt.in); got != tt.want {
			t.Fatalf("LengthBucket(%d runes) = %s, want %s", len([]rune(tt.in)), got, tt.want)
		}
	}
}

func TestHandlerExposesNetworkSeries(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())
	c.ObserveNetworkRequest("webhook", "post", "oapi.dingtalk.com", time.Now(), errors.New("boom"))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `network_request_total{component="webhook",operation="post",status="error",target="oapi.dingtalk.com"} 1`) {
		t.Fatalf("metrics output missing network series:\n%s", body)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()
	var c *Collector
	c.RecordDecision(domain.Verdict{})
	c.RecordMessage(domain.KindNone, "x")
	c.RecordDelivery(EventQueued)
	c.SetQueueLength(3)
	c.ObserveNetworkRequest("", "", "", time.Now(), nil)
}
