// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"studynotify/internal/delivery"
	"studynotify/internal/domain"
	"studynotify/internal/metrics"
	"studynotify/internal/pipeline"
	"studynotify/internal/storage"
	"studynotify/pkg/logx"
)

type Notifier interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	SendStatus(ctx context.Context, req pipeline.StatusRequest) (pipeline.Result, error)
}

type Stats interface {
	Snapshot() metrics.Snapshot
	Reset()
	Handler() http.Handler
}

type DestinationLister interface {
	Destinations() []delivery.DestinationStatus
}

// Deps are the collaborators behind the routes. Journal may be nil.
type Deps struct {
	Notifier     Notifier
	Stats        Stats
	Destinations DestinationLister
	Journal      storage.Store
	// Policy returns the configured default policy; request fields override it.
	Policy func() domain.Policy
}

type Option func(*Server)

func WithLogger(l logx.Logger) Option { return func(s *Server) { s.log = l } }

// WithRequestTimeout bounds each request. It must exceed the pipeline's
// wait for delivery.
func WithRequestTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

// WithMetrics mounts /metrics.
func WithMetrics(enabled bool) Option { return func(s *Server) { s.metrics = enabled } }

type Server struct {
	deps    Deps
	log     logx.Logger
	timeout time.Duration
	metrics bool
	started time.Time
}

func New(deps Deps, opts ...Option) *Server {
	s := &Server{deps: deps, log: logx.Nop(), timeout: 30 * time.Second, started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "http"))
	if s.deps.Policy == nil {
		s.deps.Policy = domain.DefaultPolicy
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Route("/api", func(r chi.Router) {
		r.Post("/notify", s.handleNotify)
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Post("/stats/reset", s.handleStatsReset)
		r.Get("/destinations", s.handleDestinations)
		r.Get("/deliveries", s.handleDeliveries)
	})
	if s.metrics && s.deps.Stats != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Stats.Handler())
	}
	return r
}

// requestLogger is middleware.Logger on top of logx.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			fields := []logx.Field{
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", requestID(r)),
			}
			if ww.Status() >= http.StatusInternalServerError {
				s.log.Warn("request", fields...)
				return
			}
			s.log.Debug("request", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}
