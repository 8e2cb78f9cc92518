package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studynotify/internal/domain"
	"studynotify/internal/transport"
)

var (
	ErrStopped   = errors.New("delivery scheduler stopped")
	ErrQueueFull = errors.New("delivery queue full")
)

// DefaultAdvisory is sent once per pause, outside the quota.
const DefaultAdvisory = "The robot hit the provider's risk-control limit. Sending resumes in 1 minute."

type Config struct {
	MaxPerWindow  int
	Window        time.Duration
	PauseFor      time.Duration
	AdvisoryText  string
	MaxQueue      int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = 20
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.PauseFor <= 0 {
		c.PauseFor = time.Minute
	}
	if c.AdvisoryText == "" {
		c.AdvisoryText = DefaultAdvisory
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 1000
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// State of a destination as seen by the scheduler.
type State uint8

const (
	StateOpen State = iota
	StateQueuing
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateQueuing:
		return "queuing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

func ParseState(v string) (State, error) {
	switch v {
	case "open":
		return StateOpen, nil
	case "queuing":
		return StateQueuing, nil
	case "paused":
		return StatePaused, nil
	default:
		return 0, fmt.Errorf("unknown destination state %q", v)
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type EnqueueOptions struct {
	Priority domain.Priority
	// OnResult runs on the drain goroutine once the message is sent or dropped.
	OnResult func(Outcome)
}

// Outcome is the final result of one queued message.
type Outcome struct {
	HandleID string           `json:"handleId"`
	Result   transport.Result `json:"result"`
	Attempts int              `json:"attempts"`
	Err      error            `json:"-"`
}

func (o Outcome) Sent() bool { return o.Err == nil && o.Attempts > 0 }

// Handle tracks one enqueued message.
type Handle struct {
	ID string
	// Queued is true when the destination was not open at enqueue time.
	Queued      bool
	QueueLength int

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

func (h *Handle) complete(o Outcome) bool {
	first := false
	h.once.Do(func() {
		o.HandleID = h.ID
		h.outcome = o
		close(h.done)
		first = true
	})
	return first
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome once Done is closed.
func (h *Handle) Result() (Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}

func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// DestinationStatus is a point-in-time view of one destination.
type DestinationStatus struct {
	Destination     string    `json:"destination"`
	State           State     `json:"state"`
	Count           int       `json:"count"`
	WindowStartedAt time.Time `json:"windowStartedAt"`
	ResumeAt        time.Time `json:"resumeAt,omitempty"`
	QueueLength     int       `json:"queueLength"`
	Draining        bool      `json:"draining"`
}

// Event types published on the bus.
const (
	EventQueued   = "delivery.queued"
	EventSent     = "delivery.sent"
	EventFailed   = "delivery.failed"
	EventPaused   = "delivery.paused"
	EventResumed  = "delivery.resumed"
	EventAdvisory = "delivery.advisory"
)

// Event is the payload of delivery bus events. Destinations are redacted.
type Event struct {
	HandleID    string    `json:"handleId,omitempty"`
	Destination string    `json:"destination"`
	Priority    string    `json:"priority,omitempty"`
	Title       string    `json:"title,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	QueueLength int       `json:"queueLength"`
	ResumeAt    time.Time `json:"resumeAt,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Recorder receives scheduler counters.
type Recorder interface {
	RecordDelivery(event string)
	SetQueueLength(n int)
}
