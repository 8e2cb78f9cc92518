// Package pipeline runs one analysis cycle: decide, compose, render and hand
// the message to the delivery scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studynotify/internal/compose"
	"studynotify/internal/delivery"
	"studynotify/internal/domain"
	"studynotify/internal/metrics"
	"studynotify/internal/transport"
	"studynotify/pkg/logx"
)

type Decider interface {
	Decide(domain.AnalysisResult, domain.Policy) domain.Verdict
}

type Composer interface {
	Compose(domain.Verdict, domain.AnalysisResult, domain.ChildProfile) domain.ComposedMessage
}

type Scheduler interface {
	Enqueue(ctx context.Context, dest string, msg transport.Message, opts delivery.EnqueueOptions) (*delivery.Handle, error)
}

type StatsSource interface {
	Snapshot() metrics.Snapshot
}

type Config struct {
	// WaitForDelivery bounds how long Process waits for a message that was
	// sent right away. Zero uses the default; negative never waits.
	WaitForDelivery    time.Duration
	DefaultDestination string
}

const defaultWait = 12 * time.Second

var ErrNoDestination = transport.ConfigError("route", "no destination given and no default configured")

type Request struct {
	Analysis    domain.AnalysisResult
	Policy      domain.Policy
	Child       domain.ChildProfile
	Destination string
	Image       string
	// DryRun returns the verdict and message without delivering.
	DryRun bool
}

type StatusRequest struct {
	Kind        compose.StatusKind
	Child       domain.ChildProfile
	Activity    string
	Destination string
	Image       string
}

type VerdictSummary struct {
	Kind     domain.Kind     `json:"type"`
	Priority domain.Priority `json:"priority"`
	Reason   string          `json:"reason"`
	Tag      string          `json:"tag,omitempty"`
	Score    float64         `json:"score,omitempty"`
}

type Result struct {
	Success           bool                      `json:"success"`
	NotificationSent  bool                      `json:"notificationSent"`
	Queued            bool                      `json:"queued"`
	QueueLength       int                       `json:"queueLength"`
	MessageID         string                    `json:"messageId,omitempty"`
	HandleID          string                    `json:"handleId,omitempty"`
	Reason            string                    `json:"reason,omitempty"`
	Decision          *VerdictSummary           `json:"notificationDecision,omitempty"`
	Message           *domain.ComposedMessage   `json:"message,omitempty"`
	Error             string                    `json:"error,omitempty"`
	NotificationStats metrics.NotificationStats `json:"notificationStats"`
	MessageStats      metrics.MessageStats      `json:"messageStats"`
	At                time.Time                 `json:"timestamp"`
}

type Service struct {
	cfg      Config
	decider  Decider
	composer Composer
	sched    Scheduler
	stats    StatsSource
	log      logx.Logger
	now      func() time.Time
}

func New(cfg Config, decider Decider, composer Composer, sched Scheduler, stats StatsSource, log logx.Logger) *Service {
	if cfg.WaitForDelivery == 0 {
		cfg.WaitForDelivery = defaultWait
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		decider:  decider,
		composer: composer,
		sched:    sched,
		stats:    stats,
		log:      log.With(logx.String("comp", "pipeline")),
		now:      time.Now,
	}
}

// Process runs one analysis cycle. Config and signature errors of the
// destination are returned; delivery failures are reported in Result.Error
// and as a wrapped error.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	dest := s.destination(req.Destination)
	if dest == "" && !req.DryRun {
		return s.fail(ErrNoDestination), ErrNoDestination
	}

	v := s.decider.Decide(req.Analysis, req.Policy)
	res := Result{Success: true, Reason: v.Reason, At: s.now()}
	s.log.Debug("verdict",
		logx.Bool("notify", v.ShouldNotify),
		logx.String("kind", v.Kind.String()),
		logx.String("priority", v.Priority.String()),
		logx.String("reason", v.Reason))
	if !v.ShouldNotify {
		return s.withStats(res), nil
	}
	res.Decision = &VerdictSummary{Kind: v.Kind, Priority: v.Priority, Reason: v.Reason, Tag: v.Tag, Score: v.Score}

	msg := s.composer.Compose(v, req.Analysis, req.Child)
	res.Message = &msg
	if req.DryRun {
		return s.withStats(res), nil
	}

	out := compose.RenderNotification(msg, req.Analysis, res.At)
	out.Image = req.Image
	return s.deliver(ctx, dest, out, v.Priority, res)
}

// SendStatus delivers one of the plain status cards.
func (s *Service) SendStatus(ctx context.Context, req StatusRequest) (Result, error) {
	dest := s.destination(req.Destination)
	if dest == "" {
		return s.fail(ErrNoDestination), ErrNoDestination
	}
	res := Result{Success: true, At: s.now()}
	out := compose.RenderStatus(req.Kind, req.Child, req.Activity, res.At)
	out.Image = req.Image
	return s.deliver(ctx, dest, out, domain.PriorityNormal, res)
}

func (s *Service) deliver(ctx context.Context, dest string, msg transport.Message, prio domain.Priority, res Result) (Result, error) {
	h, err := s.sched.Enqueue(ctx, dest, msg, delivery.EnqueueOptions{Priority: prio})
	if err != nil {
		s.log.Warn("enqueue rejected", logx.String("dest", transport.Redact(dest)), logx.Err(err))
		res.Success = false
		res.Error = err.Error()
		return s.withStats(res), err
	}
	res.HandleID = h.ID
	res.Queued = h.Queued
	res.QueueLength = h.QueueLength
	if h.Queued || s.cfg.WaitForDelivery < 0 {
		return s.withStats(res), nil
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WaitForDelivery)
	defer cancel()
	o, err := h.Wait(wctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// Still in flight or waiting behind earlier messages.
		res.Queued = true
	case o.Err != nil:
		res.Success = false
		res.Error = o.Err.Error()
		return s.withStats(res), fmt.Errorf("deliver: %w", o.Err)
	default:
		res.NotificationSent = true
		res.Queued = false
		res.QueueLength = 0
		res.MessageID = o.Result.MessageID
	}
	return s.withStats(res), nil
}

func (s *Service) destination(d string) string {
	if d = strings.TrimSpace(d); d != "" {
		return d
	}
	return strings.TrimSpace(s.cfg.DefaultDestination)
}

func (s *Service) fail(err error) Result {
	return s.withStats(Result{Success: false, Error: err.Error(), At: s.now()})
}

func (s *Service) withStats(r Result) Result {
	var snap metrics.Snapshot
	if s.stats != nil {
		snap = s.stats.Snapshot()
	} else {
		snap = (*metrics.Collector)(nil).Snapshot()
	}
	r.NotificationStats = snap.Notifications
	r.MessageStats = snap.Messages
	return r
}
