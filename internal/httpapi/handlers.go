package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"studynotify/internal/compose"
	"studynotify/internal/delivery"
	"studynotify/internal/domain"
	"studynotify/internal/pipeline"
	"studynotify/internal/storage"
	"studynotify/internal/transport"
	"studynotify/pkg/logx"
)

const maxBodyBytes = 8 << 20

// notifyRequest is the body of POST /api/notify.
type notifyRequest struct {
	Image                 string                 `json:"image"`
	ChildName             string                 `json:"childName"`
	Activity              string                 `json:"activity"`
	Webhook               string                 `json:"webhook"`
	IsTest                bool                   `json:"isTest"`
	IsMonitorNotification bool                   `json:"isMonitorNotification"`
	Status                string                 `json:"status"`
	AnalysisResult        *domain.AnalysisResult `json:"analysisResult"`
	EnableAINotifications *bool                  `json:"enableAINotifications"`
	ChildAge              *int                   `json:"childAge"`
	ChildGender           string                 `json:"childGender"`
	Interests             []string               `json:"interests"`
	Sensitivity           *int                   `json:"sensitivity"`
	EnablePosture         *bool                  `json:"enablePostureNotifications"`
	EnableActivity        *bool                  `json:"enableActivityNotifications"`
	EnablePraise          *bool                  `json:"enablePraiseMessages"`
	CustomRules           *ruleOverrides         `json:"customNotificationRules"`
	DryRun                bool                   `json:"dryRun"`
}

type ruleOverrides struct {
	PraiseThreshold       int            `json:"praiseThreshold"`
	DistractionThreshold  int            `json:"distractionThreshold"`
	PostureThreshold      int            `json:"postureThreshold"`
	HighPriorityThreshold int            `json:"highPriorityThreshold"`
	MinSensitivity        int            `json:"minSensitivity"`
	Distraction           map[string]int `json:"distraction"`
	StudyActivities       []string       `json:"studyActivities"`
}

const defaultChildAge = 10

func (req notifyRequest) child() domain.ChildProfile {
	age := defaultChildAge
	if req.ChildAge != nil {
		age = *req.ChildAge
	}
	return domain.ChildProfile{
		Name:      strings.TrimSpace(req.ChildName),
		Age:       age,
		Gender:    req.ChildGender,
		Interests: req.Interests,
	}
}

// policy overlays the request fields onto def.
func (req notifyRequest) policy(def domain.Policy) domain.Policy {
	p := def
	if req.Sensitivity != nil {
		p.Sensitivity = *req.Sensitivity
	}
	if req.EnablePosture != nil {
		p.EnablePosture = *req.EnablePosture
	}
	if req.EnableActivity != nil {
		p.EnableActivity = *req.EnableActivity
	}
	if req.EnablePraise != nil {
		p.EnablePraise = *req.EnablePraise
	}
	if c := req.CustomRules; c != nil {
		r := &p.Rules
		setInt(&r.PraiseThreshold, c.PraiseThreshold)
		setInt(&r.DistractionThreshold, c.DistractionThreshold)
		setInt(&r.PostureThreshold, c.PostureThreshold)
		setInt(&r.HighPriorityThreshold, c.HighPriorityThreshold)
		setInt(&r.MinSensitivity, c.MinSensitivity)
		if len(c.Distraction) > 0 {
			merged := make(map[string]int, len(r.Distraction)+len(c.Distraction))
			for k, v := range r.Distraction {
				merged[k] = v
			}
			for k, v := range c.Distraction {
				merged[k] = v
			}
			r.Distraction = merged
		}
		if len(c.StudyActivities) > 0 {
			r.StudyActivities = append(append([]string(nil), r.StudyActivities...), c.StudyActivities...)
		}
	}
	return p
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// statusKind maps the legacy flags to a status card.
func (req notifyRequest) statusKind() compose.StatusKind {
	switch {
	case req.IsMonitorNotification:
		switch strings.ToLower(strings.TrimSpace(req.Status)) {
		case "start", "started", "monitor_start", "开始监控":
			return compose.StatusMonitorStart
		default:
			return compose.StatusMonitorStop
		}
	case req.IsTest:
		return compose.StatusTest
	default:
		return compose.StatusActivity
	}
}

type notifyResponse struct {
	pipeline.Result
	IsTest      bool `json:"isTest"`
	AIGenerated bool `json:"aiGenerated"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   string    `json:"error"`
	At      time.Time `json:"timestamp"`
	Stats   any       `json:"stats,omitempty"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChildName) == "" {
		s.writeError(w, http.StatusBadRequest, "childName is required")
		return
	}

	aiEnabled := req.EnableAINotifications == nil || *req.EnableAINotifications
	var (
		res pipeline.Result
		err error
		ai  bool
	)
	if aiEnabled && req.AnalysisResult != nil && !req.IsTest {
		ai = true
		res, err = s.deps.Notifier.Process(r.Context(), pipeline.Request{
			Analysis:    *req.AnalysisResult,
			Policy:      req.policy(s.deps.Policy()),
			Child:       req.child(),
			Destination: req.Webhook,
			Image:       req.Image,
			DryRun:      req.DryRun,
		})
	} else {
		res, err = s.deps.Notifier.SendStatus(r.Context(), pipeline.StatusRequest{
			Kind:        req.statusKind(),
			Child:       req.child(),
			Activity:    req.Activity,
			Destination: req.Webhook,
			Image:       req.Image,
		})
	}
	if err != nil {
		s.log.Warn("notify failed",
			logx.String("child", req.ChildName),
			logx.String("dest", transport.Redact(req.Webhook)),
			logx.Err(err))
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, notifyResponse{Result: res, IsTest: req.IsTest, AIGenerated: ai && res.Message != nil})
}

// statusFor maps pipeline errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, transport.ErrConfig), errors.Is(err, transport.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, delivery.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, delivery.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, transport.ErrNetwork), errors.Is(err, transport.ErrProvider), errors.Is(err, transport.ErrPayloadTooLarge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dests := 0
	if s.deps.Destinations != nil {
		dests = len(s.deps.Destinations.Destinations())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"timestamp":    time.Now(),
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"destinations": dests,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		s.writeError(w, http.StatusNotFound, "stats disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		s.writeError(w, http.StatusNotFound, "stats disabled")
		return
	}
	s.deps.Stats.Reset()
	s.log.Info("stats reset", logx.String("request_id", requestID(r)))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": time.Now()})
}

func requestID(r *http.Request) string { return middleware.GetReqID(r.Context()) }

func (s *Server) handleDestinations(w http.ResponseWriter, r *http.Request) {
	var out []delivery.DestinationStatus
	if s.deps.Destinations != nil {
		out = s.deps.Destinations.Destinations()
	}
	if out == nil {
		out = []delivery.DestinationStatus{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.writeError(w, http.StatusNotFound, "delivery journal disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	recs, err := s.deps.Journal.RecentDeliveries(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	resp := errorResponse{Success: false, Error: msg, At: time.Now()}
	if s.deps.Stats != nil {
		snap := s.deps.Stats.Snapshot()
		resp.Stats = map[string]any{
			"notificationStats": snap.Notifications,
			"messageStats":      snap.Messages,
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
