package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Mux routes destinations to senders by URL scheme.
type Mux struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewMux() *Mux {
	return &Mux{senders: map[string]Sender{}}
}

// Handle registers s for the given schemes, replacing earlier registrations.
func (m *Mux) Handle(s Sender, schemes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, scheme := range schemes {
		m.senders[strings.ToLower(scheme)] = s
	}
}

func (m *Mux) lookup(dest string) (Sender, error) {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil || u.Scheme == "" {
		return nil, ConfigError("route", "destination is not a URL")
	}
	m.mu.RLock()
	s, ok := m.senders[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, ConfigError("route", fmt.Sprintf("no sender for scheme %q", u.Scheme))
	}
	return s, nil
}

func (m *Mux) Validate(dest string) error {
	s, err := m.lookup(dest)
	if err != nil {
		return err
	}
	return s.Validate(dest)
}

func (m *Mux) Post(ctx context.Context, dest string, msg Message) (Result, error) {
	s, err := m.lookup(dest)
	if err != nil {
		return Result{}, err
	}
	return s.Post(ctx, dest, msg)
}
