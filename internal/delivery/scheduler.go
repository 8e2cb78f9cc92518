// Package delivery schedules messages per destination: a fixed-window quota,
// a priority queue and an automatic pause when the provider's risk-control
// threshold is approached.
//
// Each destination is drained by at most one goroutine at a time, so sends to
// one destination never overlap and leave in priority-then-FIFO order.
// Destinations are independent of each other.
package delivery

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"studynotify/internal/domain"
	"studynotify/internal/eventbus"
	"studynotify/internal/metrics"
	rtsup "studynotify/internal/runtime/supervisor"
	"studynotify/internal/transport"
	"studynotify/pkg/logx"
)

type item struct {
	h          *Handle
	msg        transport.Message
	prio       domain.Priority
	enqueuedAt time.Time
	onResult   func(Outcome)
}

type destination struct {
	key      string
	redacted string

	mu          sync.Mutex
	count       int
	windowStart time.Time
	paused      bool
	resumeAt    time.Time
	resumeTimer *time.Timer
	queue       []*item
	draining    bool
	closed      bool

	// rewind restarts the window ticker when a resume opens a new window.
	rewind chan struct{}
}

func (d *destination) stateLocked(limit int) State {
	switch {
	case d.paused:
		return StatePaused
	case d.count >= limit:
		return StateQueuing
	default:
		return StateOpen
	}
}

// insertLocked keeps the queue ordered by priority, FIFO within a tier.
func (d *destination) insertLocked(it *item) {
	rank := it.prio.Rank()
	i := sort.Search(len(d.queue), func(i int) bool { return d.queue[i].prio.Rank() > rank })
	d.queue = append(d.queue, nil)
	copy(d.queue[i+1:], d.queue[i:])
	d.queue[i] = it
}

type Scheduler struct {
	mu      sync.Mutex
	sup     *rtsup.Supervisor
	dests   map[string]*destination
	running bool

	cfg    atomic.Pointer[Config]
	sender transport.Sender
	bus    eventbus.Bus
	rec    Recorder
	log    logx.Logger
	now    func() time.Time

	pending atomic.Int64
}

type Option func(*Scheduler)

func WithBus(b eventbus.Bus) Option         { return func(s *Scheduler) { s.bus = b } }
func WithRecorder(r Recorder) Option        { return func(s *Scheduler) { s.rec = r } }
func WithLogger(l logx.Logger) Option       { return func(s *Scheduler) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(cfg Config, sender transport.Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		sender: sender,
		dests:  map[string]*destination{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	s.log = s.log.With(logx.String("comp", "delivery"))
	s.Apply(cfg)
	return s
}

// Apply swaps limits. Running windows keep their count; the new window
// length applies from the next tick.
func (s *Scheduler) Apply(cfg Config) {
	c := cfg.withDefaults()
	s.cfg.Store(&c)
}

func (s *Scheduler) config() Config { return *s.cfg.Load() }

// Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.running = true
}

// Stop cancels drains and window timers and fails every pending handle
// with ErrStopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sup := s.sup
	dests := make([]*destination, 0, len(s.dests))
	for _, d := range s.dests {
		dests = append(dests, d)
	}
	s.dests = map[string]*destination{}
	s.mu.Unlock()

	sup.Cancel()
	for _, d := range dests {
		d.mu.Lock()
		d.closed = true
		if d.resumeTimer != nil {
			d.resumeTimer.Stop()
			d.resumeTimer = nil
		}
		left := d.queue
		d.queue = nil
		d.mu.Unlock()
		for _, it := range left {
			s.finish(d, it, Outcome{Err: ErrStopped})
		}
	}
	return sup.Wait(ctx)
}

// Supervisor exposes the goroutine stats of the running scheduler, nil when
// stopped.
func (s *Scheduler) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.sup
}

func (s *Scheduler) destination(key string) (*destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrStopped
	}
	if d, ok := s.dests[key]; ok {
		return d, nil
	}
	d := &destination{key: key, redacted: transport.Redact(key), windowStart: s.now(), rewind: make(chan struct{}, 1)}
	s.dests[key] = d
	s.sup.Go("window "+d.redacted, func(ctx context.Context) error {
		s.windowLoop(ctx, d)
		return nil
	})
	return d, nil
}

// Enqueue validates dest and queues msg. It never sends on the caller's
// goroutine. Config and signature errors are returned and nothing is queued.
func (s *Scheduler) Enqueue(ctx context.Context, dest string, msg transport.Message, opts EnqueueOptions) (*Handle, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if err := s.sender.Validate(dest); err != nil {
		return nil, err
	}
	d, err := s.destination(dest)
	if err != nil {
		return nil, err
	}
	cfg := s.config()

	h := newHandle(uuid.NewString())
	it := &item{h: h, msg: msg, prio: opts.Priority, enqueuedAt: s.now(), onResult: opts.OnResult}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrStopped
	}
	if len(d.queue) >= cfg.MaxQueue {
		d.mu.Unlock()
		return nil, ErrQueueFull
	}
	state := d.stateLocked(cfg.MaxPerWindow)
	d.insertLocked(it)
	h.Queued = state != StateOpen
	h.QueueLength = len(d.queue)
	d.mu.Unlock()

	s.rec.SetQueueLength(int(s.pending.Add(1)))
	s.rec.RecordDelivery(metrics.EventQueued)
	s.publish(EventQueued, Event{
		HandleID:    h.ID,
		Destination: d.redacted,
		Priority:    opts.Priority.String(),
		Title:       msg.Title,
		QueueLength: h.QueueLength,
	})
	if state == StateOpen {
		s.kick(d)
	} else {
		s.log.Debug("message queued", logx.String("dest", d.redacted), logx.String("state", state.String()), logx.Int("queue", h.QueueLength))
	}
	return h, nil
}

// DirectSend bypasses queue and quota.
func (s *Scheduler) DirectSend(ctx context.Context, dest string, msg transport.Message) (transport.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.sender.Post(ctx, dest, msg)
}

// kick starts a drain unless the scheduler is stopping. It holds s.mu so no
// goroutine is added once Stop has begun waiting.
func (s *Scheduler) kick(d *destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.sup.Go("drain", func(ctx context.Context) error {
		s.drain(ctx, d)
		return nil
	})
}

// drain sends queued messages one at a time while the destination is open.
// Only one drain runs per destination.
func (s *Scheduler) drain(ctx context.Context, d *destination) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.draining = false
			d.mu.Unlock()
			panic(r)
		}
	}()

	for {
		cfg := s.config()
		d.mu.Lock()
		if ctx.Err() != nil || len(d.queue) == 0 || d.stateLocked(cfg.MaxPerWindow) != StateOpen {
			d.draining = false
			d.mu.Unlock()
			return
		}
		it := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		res, attempts, err := s.sendWithRetry(ctx, d, it, cfg)
		if err != nil {
			s.finish(d, it, Outcome{Attempts: attempts, Err: err})
			continue
		}

		d.mu.Lock()
		d.count++
		trigger := d.count == cfg.MaxPerWindow-1 && !d.paused
		d.mu.Unlock()

		s.finish(d, it, Outcome{Result: res, Attempts: attempts})
		if trigger {
			s.riskControl(ctx, d, cfg)
		}
	}
}

func (s *Scheduler) sendWithRetry(ctx context.Context, d *destination, it *item, cfg Config) (transport.Result, int, error) {
	maxAttempts := 1 + cfg.RetryMax
	for attempt := 1; ; attempt++ {
		res, err := s.sender.Post(ctx, d.key, it.msg)
		if err == nil {
			return res, attempt, nil
		}
		if attempt >= maxAttempts || !transport.Retryable(err) || ctx.Err() != nil {
			return transport.Result{}, attempt, err
		}
		delay := retryDelay(cfg, attempt)
		if hint, ok := transport.RetryAfter(err); ok && hint > delay {
			delay = min(hint, cfg.RetryMaxDelay)
		}
		s.log.Debug("send failed, retrying", logx.String("dest", d.redacted), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return transport.Result{}, attempt, err
		}
	}
}

// riskControl sends the advisory, then pauses the destination. Advisory
// failures are logged and never block the pause.
func (s *Scheduler) riskControl(ctx context.Context, d *destination, cfg Config) {
	advisory := transport.Message{Type: transport.Text, Text: cfg.AdvisoryText}
	ev := Event{Destination: d.redacted}
	if _, err := s.DirectSend(ctx, d.key, advisory); err != nil {
		s.log.Warn("risk-control advisory failed", logx.String("dest", d.redacted), logx.Err(err))
		ev.Error = err.Error()
	}
	s.rec.RecordDelivery(metrics.EventAdvisory)
	s.publish(EventAdvisory, ev)
	s.pause(d, cfg.PauseFor)
}

func (s *Scheduler) pause(d *destination, dur time.Duration) {
	d.mu.Lock()
	d.paused = true
	d.resumeAt = s.now().Add(dur)
	if d.resumeTimer != nil {
		d.resumeTimer.Stop()
	}
	d.resumeTimer = time.AfterFunc(dur, func() { s.resume(d) })
	resumeAt := d.resumeAt
	queued := len(d.queue)
	d.mu.Unlock()

	s.log.Info("destination paused", logx.String("dest", d.redacted), logx.Time("resume_at", resumeAt), logx.Int("queue", queued))
	s.rec.RecordDelivery(metrics.EventPause)
	s.publish(EventPaused, Event{Destination: d.redacted, ResumeAt: resumeAt, QueueLength: queued})
}

// resume fires at resumeAt: unpause, reset the window and drain.
func (s *Scheduler) resume(d *destination) {
	d.mu.Lock()
	if !d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = false
	d.resumeAt = time.Time{}
	d.resumeTimer = nil
	d.count = 0
	d.windowStart = s.now()
	queued := len(d.queue)
	d.mu.Unlock()

	select {
	case d.rewind <- struct{}{}:
	default:
	}

	s.log.Info("destination resumed", logx.String("dest", d.redacted), logx.Int("queue", queued))
	s.publish(EventResumed, Event{Destination: d.redacted, QueueLength: queued})
	s.kick(d)
}

func (s *Scheduler) windowLoop(ctx context.Context, d *destination) {
	window := s.config().Window
	t := time.NewTicker(window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.rewind:
			window = s.config().Window
			t.Reset(window)
		case <-t.C:
			s.tick(d)
			if w := s.config().Window; w != window {
				window = w
				t.Reset(window)
			}
		}
	}
}

// tick rolls the window over: the count resets, an expired pause is cleared
// and a drain is attempted.
func (s *Scheduler) tick(d *destination) {
	now := s.now()
	d.mu.Lock()
	d.count = 0
	d.windowStart = now
	resumed := false
	if d.paused && !now.Before(d.resumeAt) {
		d.paused = false
		d.resumeAt = time.Time{}
		if d.resumeTimer != nil {
			d.resumeTimer.Stop()
			d.resumeTimer = nil
		}
		resumed = true
	}
	queued := len(d.queue)
	d.mu.Unlock()

	if resumed {
		s.publish(EventResumed, Event{Destination: d.redacted, QueueLength: queued})
	}
	if queued > 0 {
		s.kick(d)
	}
}

func (s *Scheduler) finish(d *destination, it *item, o Outcome) {
	if !it.h.complete(o) {
		return
	}
	s.rec.SetQueueLength(int(s.pending.Add(-1)))
	d.mu.Lock()
	queued := len(d.queue)
	d.mu.Unlock()

	ev := Event{
		HandleID:    it.h.ID,
		Destination: d.redacted,
		Priority:    it.prio.String(),
		Title:       it.msg.Title,
		Attempts:    o.Attempts,
		QueueLength: queued,
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
		s.log.Warn("message dropped", logx.String("dest", d.redacted), logx.String("id", it.h.ID), logx.Int("attempts", o.Attempts), logx.Err(o.Err))
		s.rec.RecordDelivery(metrics.EventFailed)
		s.publish(EventFailed, ev)
	} else {
		ev.MessageID = o.Result.MessageID
		s.log.Debug("message sent", logx.String("dest", d.redacted), logx.String("id", it.h.ID), logx.Duration("waited", s.now().Sub(it.enqueuedAt)))
		s.rec.RecordDelivery(metrics.EventSent)
		s.publish(EventSent, ev)
	}
	if it.onResult != nil {
		it.onResult(it.h.outcome)
	}
}

func (s *Scheduler) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	ev.At = s.now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// State reports the state of dest, Open for unknown destinations.
func (s *Scheduler) State(dest string) State {
	s.mu.Lock()
	d, ok := s.dests[dest]
	s.mu.Unlock()
	if !ok {
		return StateOpen
	}
	limit := s.config().MaxPerWindow
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked(limit)
}

// Destinations returns a snapshot sorted by redacted destination.
func (s *Scheduler) Destinations() []DestinationStatus {
	s.mu.Lock()
	dests := make([]*destination, 0, len(s.dests))
	for _, d := range s.dests {
		dests = append(dests, d)
	}
	s.mu.Unlock()

	limit := s.config().MaxPerWindow
	out := make([]DestinationStatus, 0, len(dests))
	for _, d := range dests {
		d.mu.Lock()
		out = append(out, DestinationStatus{
			Destination:     d.redacted,
			State:           d.stateLocked(limit),
			Count:           d.count,
			WindowStartedAt: d.windowStart,
			ResumeAt:        d.resumeAt,
			QueueLength:     len(d.queue),
			Draining:        d.draining,
		})
		d.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, jittered 0.7..1.3.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

type nopRecorder struct{}

func (nopRecorder) RecordDelivery(string) {}
func (nopRecorder) SetQueueLength(int)    {}
