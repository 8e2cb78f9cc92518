// Package compose turns a verdict into the text a parent reads.
package compose

import (
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"studynotify/internal/domain"
	"studynotify/pkg/logx"
)

// Recorder receives every composed message.
type Recorder interface {
	RecordMessage(kind domain.Kind, text string)
}

const maxInterests = 3

// youngAge is the age below which the simpler praise wording is used.
const youngAge = 7

type Composer struct {
	mu  sync.Mutex
	rnd *rand.Rand
	rec Recorder
	log logx.Logger
}

type Option func(*Composer)

// WithRand pins template selection, mainly for tests.
func WithRand(r *rand.Rand) Option   { return func(c *Composer) { c.rnd = r } }
func WithRecorder(r Recorder) Option { return func(c *Composer) { c.rec = r } }
func WithLogger(l logx.Logger) Option {
	return func(c *Composer) { c.log = l }
}

func New(opts ...Option) *Composer {
	c := &Composer{}
	for _, opt := range opts {
		opt(c)
	}
	if c.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		c.rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "compose"))
	return c
}

// Emoji returns the fixed emoji for a kind.
func Emoji(k domain.Kind) string {
	switch k {
	case domain.KindPraise:
		return "👍"
	case domain.KindReminder:
		return "📌"
	case domain.KindAlert:
		return "⚠️"
	default:
		return "🔔"
	}
}

// Compose never returns empty text, and the text always names the child.
func (c *Composer) Compose(v domain.Verdict, a domain.AnalysisResult, child domain.ChildProfile) (msg domain.ComposedMessage) {
	name := child.DisplayName()
	msg = domain.ComposedMessage{
		Kind:            v.Kind,
		Priority:        v.Priority,
		Emoji:           Emoji(v.Kind),
		Personalization: personalization(child),
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("compose panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			msg.Text = fill(defaultSentence, name, "")
		}
		if c.rec != nil {
			c.rec.RecordMessage(msg.Kind, msg.Text)
		}
	}()

	var text string
	switch v.Kind {
	case domain.KindPraise:
		text = c.praise(v, a, child)
	case domain.KindReminder:
		text = c.reminder(v, a, name)
	case domain.KindAlert:
		text = c.alert(v, a, name)
	default:
		text = fill(defaultSentence, name, "")
	}
	msg.Text = ensureName(text, name)
	return msg
}

func (c *Composer) praise(v domain.Verdict, a domain.AnalysisResult, child domain.ChildProfile) string {
	if a.Activity != nil && strings.TrimSpace(a.Activity.Praise) != "" {
		return a.Activity.Praise
	}
	if a.Posture != nil && strings.TrimSpace(a.Posture.Praise) != "" {
		return a.Posture.Praise
	}
	activity := activityLabel(v, a)
	if activity == "" {
		activity = "studying"
	}
	set := praiseTemplates
	if child.Age > 0 && child.Age < youngAge {
		set = youngPraiseTemplates
	}
	return fill(c.pick(set), child.DisplayName(), activity)
}

func (c *Composer) reminder(v domain.Verdict, a domain.AnalysisResult, name string) string {
	if a.Posture != nil && !a.Posture.IsGood {
		return fill(c.pick(postureReminderTemplates), name, "")
	}
	if a.Activity != nil && !a.Activity.IsStudying {
		activity := activityLabel(v, a)
		if activity == "" {
			activity = "other activities"
		}
		return fill(c.pick(activityReminderTemplates), name, activity)
	}
	return fill(genericReminder, name, "")
}

func (c *Composer) alert(v domain.Verdict, a domain.AnalysisResult, name string) string {
	if a.Hint != nil && strings.TrimSpace(a.Hint.Message) != "" {
		return a.Hint.Message
	}
	activity := activityLabel(v, a)
	if activity != "" && (a.Activity == nil || !a.Activity.IsStudying) {
		return fill(c.pick(alertTemplates), name, activity)
	}
	return fill(genericAlert, name, "")
}

func (c *Composer) pick(set []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return set[c.rnd.IntN(len(set))]
}

func activityLabel(v domain.Verdict, a domain.AnalysisResult) string {
	if v.Activity != "" {
		return v.Activity
	}
	if a.Activity != nil {
		return strings.TrimSpace(a.Activity.Label)
	}
	return ""
}

func fill(tmpl, name, activity string) string {
	return strings.NewReplacer("{name}", name, "{activity}", activity).Replace(tmpl)
}

// ensureName prefixes upstream text that does not mention the child.
func ensureName(text, name string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fill(defaultSentence, name, "")
	}
	if strings.Contains(text, name) {
		return text
	}
	return name + ": " + text
}

func personalization(child domain.ChildProfile) domain.Personalization {
	p := domain.Personalization{
		ChildName:   child.DisplayName(),
		ChildAge:    child.Age,
		ChildGender: child.Gender,
	}
	if n := len(child.Interests); n > 0 {
		if n > maxInterests {
			n = maxInterests
		}
		p.Interests = append([]string(nil), child.Interests[:n]...)
	}
	return p
}
