package domain

const (
	DefaultSensitivity = 7
	MinSensitivity     = 1
	MaxSensitivity     = 10
)

// Policy carries the per-child notification preferences.
type Policy struct {
	EnablePosture  bool  `json:"enablePostureNotifications"`
	EnableActivity bool  `json:"enableActivityNotifications"`
	EnablePraise   bool  `json:"enablePraiseMessages"`
	Sensitivity    int   `json:"sensitivity"`
	Rules          Rules `json:"customNotificationRules"`
}

func DefaultPolicy() Policy {
	return Policy{
		EnablePosture:  true,
		EnableActivity: true,
		EnablePraise:   true,
		Sensitivity:    DefaultSensitivity,
	}
}

// EffectiveSensitivity clamps the sensitivity into [1,10]; 0 means default.
func (p Policy) EffectiveSensitivity() int {
	switch {
	case p.Sensitivity == 0:
		return DefaultSensitivity
	case p.Sensitivity < MinSensitivity:
		return MinSensitivity
	case p.Sensitivity > MaxSensitivity:
		return MaxSensitivity
	default:
		return p.Sensitivity
	}
}

// Rules overrides the built-in thresholds. Zero fields keep the defaults.
type Rules struct {
	PraiseThreshold       int            `json:"praiseThreshold,omitempty"`
	DistractionThreshold  int            `json:"distractionThreshold,omitempty"`
	PostureThreshold      int            `json:"postureThreshold,omitempty"`
	HighPriorityThreshold int            `json:"highPriorityThreshold,omitempty"`
	MinSensitivity        int            `json:"minSensitivity,omitempty"`
	Distraction           map[string]int `json:"distraction,omitempty"`
	StudyActivities       []string       `json:"studyActivities,omitempty"`
}

func (r Rules) WithDefaults() Rules {
	if r.PraiseThreshold <= 0 {
		r.PraiseThreshold = 8
	}
	if r.DistractionThreshold <= 0 {
		r.DistractionThreshold = 6
	}
	if r.PostureThreshold <= 0 {
		r.PostureThreshold = 7
	}
	if r.HighPriorityThreshold <= 0 {
		r.HighPriorityThreshold = 8
	}
	if r.MinSensitivity <= 0 {
		r.MinSensitivity = 5
	}
	return r
}
