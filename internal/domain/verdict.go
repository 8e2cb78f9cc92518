package domain

// Metric tags carried by a verdict.
const (
	TagStudyPraise      = "study_praise"
	TagDistractionAlert = "distraction_alert"
	TagPostureReminder  = "posture_reminder"
	TagUpstreamHint     = "upstream_hint"
)

// Verdict is the decision engine's output for one analysis cycle.
type Verdict struct {
	ShouldNotify bool     `json:"shouldNotify"`
	Kind         Kind     `json:"type"`
	Priority     Priority `json:"priority"`
	Reason       string   `json:"reason"`
	Score        float64  `json:"score,omitempty"`
	Tag          string   `json:"tag,omitempty"`
	Activity     string   `json:"activity,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// Skip builds a no-notify verdict.
func Skip(reason string) Verdict {
	return Verdict{Kind: KindNone, Priority: PriorityLow, Reason: reason}
}

// Personalization is the child context a composed message was built for.
type Personalization struct {
	ChildName   string   `json:"childName"`
	ChildAge    int      `json:"childAge"`
	ChildGender string   `json:"childGender"`
	Interests   []string `json:"interests,omitempty"`
}

// ComposedMessage is the human-readable notification text.
type ComposedMessage struct {
	Text            string          `json:"content"`
	Kind            Kind            `json:"type"`
	Priority        Priority        `json:"priority"`
	Emoji           string          `json:"emoji"`
	Personalization Personalization `json:"metadata"`
}
