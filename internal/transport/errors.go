package transport

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds, matched with errors.Is.
var (
	ErrConfig          = errors.New("invalid destination")
	ErrSignature       = errors.New("invalid signing secret")
	ErrNetwork         = errors.New("network failure")
	ErrProvider        = errors.New("provider rejected message")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Error is returned by every Sender.
type Error struct {
	Kind   error
	Op     string
	Status int
	Code   int
	Msg    string
	Err    error
	// After is a provider supplied retry hint, zero when absent.
	After time.Duration
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	switch {
	case e.Code != 0:
		s += fmt.Sprintf(" (code %d)", e.Code)
	case e.Status != 0:
		s += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *Error) RetryAfter() time.Duration { return e.After }

func ConfigError(op, msg string) error {
	return &Error{Kind: ErrConfig, Op: op, Msg: msg}
}

func SignatureError(op, msg string) error {
	return &Error{Kind: ErrSignature, Op: op, Msg: msg}
}

func NetworkError(op string, err error) error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

func ProviderError(op string, status, code int, msg string) error {
	return &Error{Kind: ErrProvider, Op: op, Status: status, Code: code, Msg: msg}
}

// Retryable reports whether another attempt could succeed. Only network and
// provider failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrProvider)
}

// Fatal reports errors that must be surfaced to the caller instead of queued.
func Fatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrSignature)
}

// RetryAfter returns the retry hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.After > 0 {
		return e.After, true
	}
	return 0, false
}
