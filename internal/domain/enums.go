package domain

import (
	"fmt"
	"strings"
)

// Kind is the notification type chosen by the decision engine.
type Kind uint8

const (
	KindNone Kind = iota
	KindPraise
	KindReminder
	KindAlert
)

var kindNames = [...]string{
	KindNone:     "none",
	KindPraise:   "praise",
	KindReminder: "reminder",
	KindAlert:    "alert",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool { return int(k) < len(kindNames) }

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindNone, nil
	}
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return KindNone, fmt.Errorf("unknown notification kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid notification kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Priority orders pending deliveries. The zero value is PriorityNormal.
type Priority int8

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityMedium Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int8(p))
	}
}

func (p Priority) Valid() bool { return p >= PriorityLow && p <= PriorityHigh }

// Rank is the drain position of the priority tier: 0 drains first.
func (p Priority) Rank() int {
	if !p.Valid() {
		return int(PriorityHigh - PriorityNormal)
	}
	return int(PriorityHigh - p)
}

// Higher reports whether p drains before o.
func (p Priority) Higher(o Priority) bool { return p.Rank() < o.Rank() }

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int8(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
