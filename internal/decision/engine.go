// Package decision turns an analysis result and a notification policy into a
// verdict. Evaluation is a fixed, first-match-wins sequence of rules.
package decision

import (
	"fmt"
	"math"
	"runtime/debug"

	"studynotify/internal/domain"
	"studynotify/pkg/logx"
)

const (
	ReasonAnalysisFailed = "analysis failed"
	ReasonNoCondition    = "no qualifying condition"
	ReasonFailed         = "decision failed"
)

// Recorder receives every verdict the engine produces.
type Recorder interface {
	RecordDecision(domain.Verdict)
}

type Engine struct {
	rec Recorder
	log logx.Logger
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.rec = r } }

func WithLogger(l logx.Logger) Option { return func(e *Engine) { e.log = l } }

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "decision"))
	return e
}

// Decide never panics; an unexpected failure yields a no-notify verdict.
func (e *Engine) Decide(a domain.AnalysisResult, p domain.Policy) (v domain.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("decision panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			v = domain.Skip(ReasonFailed)
		}
		if e.rec != nil {
			e.rec.RecordDecision(v)
		}
	}()
	return evaluate(a, p)
}

func evaluate(a domain.AnalysisResult, p domain.Policy) domain.Verdict {
	if !a.Success {
		return domain.Skip(ReasonAnalysisFailed)
	}
	sens := p.EffectiveSensitivity()
	rules := p.Rules.WithDefaults()

	if p.EnableActivity && a.Activity != nil {
		act := a.Activity
		label := NormalizeLabel(act.Label)

		if act.IsStudying && p.EnablePraise {
			score := PraiseScore(a, rules)
			if score >= rules.PraiseThreshold && sens >= rules.MinSensitivity {
				return domain.Verdict{
					ShouldNotify: true,
					Kind:         domain.KindPraise,
					Priority:     domain.PriorityMedium,
					Reason:       fmt.Sprintf("focused study detected, praise score %d/10", score),
					Score:        float64(score),
					Tag:          domain.TagStudyPraise,
					Activity:     label,
				}
			}
		}

		if !act.IsStudying {
			score := DistractionScore(label, sens, rules)
			if score >= rules.DistractionThreshold {
				prio := domain.PriorityMedium
				if score >= rules.HighPriorityThreshold {
					prio = domain.PriorityHigh
				}
				return domain.Verdict{
					ShouldNotify: true,
					Kind:         domain.KindAlert,
					Priority:     prio,
					Reason:       fmt.Sprintf("%s detected, distraction score %d/10", displayLabel(label), score),
					Score:        float64(score),
					Tag:          domain.TagDistractionAlert,
					Activity:     label,
				}
			}
		}
	}

	if p.EnablePosture && a.Posture != nil && !a.Posture.IsGood {
		problem := PostureProblem(a.Posture)
		if problem >= rules.PostureThreshold && sens >= rules.MinSensitivity {
			prio := domain.PriorityMedium
			if problem >= rules.HighPriorityThreshold {
				prio = domain.PriorityHigh
			}
			return domain.Verdict{
				ShouldNotify: true,
				Kind:         domain.KindReminder,
				Priority:     prio,
				Reason:       fmt.Sprintf("poor posture detected, severity %d/10", problem),
				Score:        float64(problem),
				Tag:          domain.TagPostureReminder,
				Issues:       append([]string(nil), a.Posture.Issues...),
			}
		}
	}

	if a.Hint != nil && a.Hint.ShouldNotify {
		kind := domain.KindReminder
		if a.Activity != nil && a.Activity.RequiresNotification {
			kind = domain.KindAlert
		}
		reason := a.Hint.Reason
		if reason == "" {
			reason = "requested by analysis"
		}
		v := domain.Verdict{
			ShouldNotify: true,
			Kind:         kind,
			Priority:     domain.PriorityMedium,
			Reason:       reason,
			Tag:          domain.TagUpstreamHint,
		}
		if a.Activity != nil {
			v.Activity = NormalizeLabel(a.Activity.Label)
		}
		return v
	}

	return domain.Skip(ReasonNoCondition)
}

// PraiseScore is the rounded praise score in [0,10].
func PraiseScore(a domain.AnalysisResult, rules domain.Rules) int {
	score := 0.0
	if a.Posture != nil && a.Posture.IsGood {
		score += a.Posture.Score / 1.5
	}
	if act := a.Activity; act != nil && act.IsStudying {
		score += 5
		if isRigorous(NormalizeLabel(act.Label), rules) {
			score++
		}
		if act.StudyDurationMS > 30_000 {
			score++
		}
	}
	return clampScore(round(score))
}

// DistractionScore is round(base(label) * sensitivity/10).
func DistractionScore(label string, sensitivity int, rules domain.Rules) int {
	base, ok := rules.Distraction[label]
	if !ok {
		base, ok = baseDistraction[label]
	}
	if !ok {
		base = unknownDistraction
	}
	return clampScore(round(float64(base) * float64(sensitivity) / 10))
}

// PostureProblem converts a posture score into a severity: 10 - score.
func PostureProblem(p *domain.PostureJudgment) int {
	if p == nil {
		return 0
	}
	return clampScore(round(10 - p.Score))
}

func isRigorous(label string, rules domain.Rules) bool {
	if _, ok := rigorousStudy[label]; ok {
		return true
	}
	for _, s := range rules.StudyActivities {
		if NormalizeLabel(s) == label {
			return true
		}
	}
	return false
}

func displayLabel(label string) string {
	if label == "" {
		return "unknown activity"
	}
	return label
}

func round(x float64) int {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return int(math.Floor(x + 0.5))
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}
