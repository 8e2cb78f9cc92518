// Package telegram delivers notifications to a Telegram chat through the Bot
// API. Destinations look like telegram://<bot-token>@<chat-id>?thread=<id>.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"studynotify/internal/transport"
	"studynotify/pkg/logx"
)

const Scheme = "telegram"

type Config struct {
	// APIURL overrides the Bot API endpoint.
	APIURL  string
	Timeout time.Duration
}

type target struct {
	token  string
	chatID int64
	thread int
}

func parseDestination(dest string) (target, error) {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil || u.Scheme != Scheme {
		return target{}, transport.ConfigError("validate", "not a telegram destination")
	}
	if u.User == nil || u.User.Username() == "" {
		return target{}, transport.ConfigError("validate", "telegram destination is missing the bot token")
	}
	chatID, err := strconv.ParseInt(u.Hostname(), 10, 64)
	if err != nil || chatID == 0 {
		return target{}, transport.ConfigError("validate", "telegram chat id must be numeric")
	}
	t := target{token: u.User.Username(), chatID: chatID}
	if p, ok := u.User.Password(); ok && p != "" {
		// Bot tokens contain a colon, which url.Parse splits into user:password.
		t.token += ":" + p
	}
	if s := u.Query().Get("thread"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return target{}, transport.ConfigError("validate", "thread must be a positive integer")
		}
		t.thread = n
	}
	return t, nil
}

// Sender keeps one offline bot per token; no updates are polled.
type Sender struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New(cfg Config, log logx.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "telegram")),
		bots: map[string]*tele.Bot{},
	}
}

func (s *Sender) Validate(dest string) error {
	_, err := parseDestination(dest)
	return err
}

func (s *Sender) bot(token string) (*tele.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     s.cfg.APIURL,
		Token:   token,
		Client:  s.http,
		Offline: true,
	})
	if err != nil {
		return nil, transport.ConfigError("bot", err.Error())
	}
	s.bots[token] = b
	return b, nil
}

func (s *Sender) Post(ctx context.Context, dest string, msg transport.Message) (transport.Result, error) {
	t, err := parseDestination(dest)
	if err != nil {
		return transport.Result{}, err
	}
	b, err := s.bot(t.token)
	if err != nil {
		return transport.Result{}, err
	}

	chat := &tele.Chat{ID: t.chatID}
	opts := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: t.thread}

	var first *tele.Message
	for _, chunk := range splitText(plainText(msg), textLimit) {
		if err := ctx.Err(); err != nil {
			return transport.Result{}, transport.NetworkError("send", err)
		}
		m, err := b.Send(chat, chunk, opts)
		if err != nil {
			return transport.Result{}, classify(err)
		}
		if first == nil {
			first = m
		}
	}
	res := transport.Result{At: time.Now()}
	if first != nil {
		res.MessageID = strconv.Itoa(first.ID)
	}
	return res, nil
}

func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.Error{
			Kind:   transport.ErrProvider,
			Op:     "send",
			Status: http.StatusTooManyRequests,
			Msg:    flood.Error(),
			After:  time.Duration(flood.RetryAfter) * time.Second,
		}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return transport.ProviderError("send", 0, apiErr.Code, apiErr.Description)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return transport.NetworkError("send", ue.Err)
	}
	return transport.ProviderError("send", 0, 0, err.Error())
}

// plainText flattens the markdown rendering into readable plain text.
func plainText(msg transport.Message) string {
	var b strings.Builder
	if msg.Title != "" {
		b.WriteString(msg.Title)
		b.WriteString("\n\n")
	}
	for _, line := range strings.Split(msg.Text, "\n") {
		line = strings.TrimLeft(line, "#")
		line = strings.TrimPrefix(line, "> ")
		line = strings.ReplaceAll(line, "**", "")
		b.WriteString(strings.TrimSpace(line))
		b.WriteString("\n")
	}
	if msg.Footer != "" {
		b.WriteString("\n")
		b.WriteString(msg.Footer)
	}
	return strings.TrimSpace(b.String())
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
