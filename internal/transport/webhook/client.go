// Package webhook posts messages to a DingTalk-style robot webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"studynotify/internal/transport"
	"studynotify/pkg/logx"
)

type Config struct {
	Timeout       time.Duration
	RatePerSec    float64
	Burst         int
	MaxImageChars int
	MaxBodyBytes  int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxImageChars <= 0 {
		c.MaxImageChars = DefaultMaxImageChars
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Observer records outbound request latency.
type Observer interface {
	ObserveNetworkRequest(component, operation, target string, start time.Time, err error)
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	obs     Observer
	log     logx.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithObserver(o Observer) Option       { return func(c *Client) { c.obs = o } }
func WithLogger(l logx.Logger) Option      { return func(c *Client) { c.log = l } }
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "webhook"))
	return c
}

func (c *Client) Validate(dest string) error {
	_, _, _, err := parseDestination(dest)
	return err
}

type response struct {
	ErrCode   int    `json:"errcode"`
	ErrMsg    string `json:"errmsg"`
	MessageID string `json:"messageId"`
}

func (c *Client) Post(ctx context.Context, dest string, msg transport.Message) (_ transport.Result, err error) {
	u, secret, hasSecret, err := parseDestination(dest)
	if err != nil {
		return transport.Result{}, err
	}
	body, dropped, err := encode(msg, c.cfg.MaxImageChars, c.cfg.MaxBodyBytes)
	if err != nil {
		return transport.Result{}, err
	}
	if dropped {
		c.log.Warn("image dropped to fit body limit", logx.String("dest", transport.Redact(dest)))
	} else if len(msg.Image) > c.cfg.MaxImageChars {
		c.log.Debug("image truncated", logx.Int("from", len(msg.Image)), logx.Int("to", c.cfg.MaxImageChars))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transport.Result{}, transport.NetworkError("pace", err)
		}
	}

	start := time.Now()
	defer func() {
		if c.obs != nil {
			c.obs.ObserveNetworkRequest("webhook", "post", u.Host, start, err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := signedURL(u, secret, hasSecret, c.now())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transport.Result{}, transport.ConfigError("post", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transport.Result{}, transport.NetworkError("post", redactErr(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return transport.Result{}, transport.NetworkError("read", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transport.Result{}, statusError(resp, raw)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return transport.Result{}, transport.ProviderError("decode", resp.StatusCode, 0, "unreadable response: "+truncate(string(raw), 200))
	}
	if r.ErrCode != 0 {
		return transport.Result{}, transport.ProviderError("post", resp.StatusCode, r.ErrCode, r.ErrMsg)
	}

	id := r.MessageID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	return transport.Result{MessageID: id, At: c.now()}, nil
}

func statusError(resp *http.Response, raw []byte) error {
	var r response
	msg := ""
	if json.Unmarshal(raw, &r) == nil && r.ErrMsg != "" {
		msg = r.ErrMsg
	} else if s := strings.TrimSpace(string(raw)); s != "" {
		msg = truncate(s, 200)
	}
	e := &transport.Error{Kind: transport.ErrProvider, Op: "post", Status: resp.StatusCode, Code: r.ErrCode, Msg: msg}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.After = time.Duration(secs) * time.Second
		}
	}
	return e
}

// redactErr drops the request URL from *url.Error so tokens never reach logs.
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", strings.ToLower(ue.Op), ue.Err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
