// Package transport defines what a destination sender accepts and the error
// taxonomy every sender reports with.
package transport

import (
	"context"
	"time"
)

type MessageType string

const (
	Markdown MessageType = "markdown"
	Text     MessageType = "text"
)

// Message is a rendered notification ready for a provider.
type Message struct {
	Type  MessageType `json:"type"`
	Title string      `json:"title,omitempty"`
	Text  string      `json:"text"`
	// Image is base64 encoded image data, placed by the sender.
	Image  string `json:"-"`
	Footer string `json:"footer,omitempty"`
}

// Result describes an accepted message.
type Result struct {
	MessageID string    `json:"messageId"`
	At        time.Time `json:"timestamp"`
}

// Sender posts messages to one kind of destination.
type Sender interface {
	// Validate reports a ConfigError or SignatureError without network I/O.
	Validate(dest string) error
	Post(ctx context.Context, dest string, msg Message) (Result, error)
}
