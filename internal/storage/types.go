package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled     = errors.New("storage disabled")
	ErrClosed       = errors.New("storage closed")
	ErrUnknownDrive = errors.New("unknown storage driver")
)

const (
	defaultRecentLimit = 50
	defaultRedisKey    = "studynotify:deliveries"
	defaultMaxEntries  = 1000
)

// Config configures storage.
type Config struct {
	Driver string
	// Path is the journal file (file) or database file (sqlite).
	Path string
	// DSN is a postgres connection string or a redis URL.
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Key and MaxEntries apply to the redis list.
	Key        string
	MaxEntries int
}

// DeliveryRecord is one journal line. Destinations are stored redacted.
type DeliveryRecord struct {
	At          time.Time `json:"at"`
	Event       string    `json:"event"`
	HandleID    string    `json:"handleId,omitempty"`
	Destination string    `json:"destination"`
	Priority    string    `json:"priority,omitempty"`
	Title       string    `json:"title,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Store is the journal API used by the app.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return limit
}
