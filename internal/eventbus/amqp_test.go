package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"studynotify/pkg/logx"
)

func TestPublishingCarriesEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := publishing(Event{Type: "delivery.sent", Time: at, Data: map[string]string{"id": "h1"}})
	if err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if msg.Type != "delivery.sent" || msg.DeliveryMode != amqp.Persistent || !msg.Timestamp.Equal(at) {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var got struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.Type != "delivery.sent" || got.Data["id"] != "h1" {
		t.Fatalf("body = %s", msg.Body)
	}
}

func TestPublishingRejectsUnserializable(t *testing.T) {
	t.Parallel()
	if _, err := publishing(Event{Type: "x", Data: make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestForwarderRequiresURL(t *testing.T) {
	t.Parallel()
	f := NewAMQPForwarder(AMQPConfig{}, New(), zeroLogger())
	if err := f.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty url")
	}
	if f.cfg.Exchange != "studynotify.events" || f.cfg.Prefix != "delivery." {
		t.Fatalf("defaults not applied: %+v", f.cfg)
	}
}

func zeroLogger() (l logx.Logger) { return }
