// Package domain holds the types shared by the decision, composition and
// delivery stages of the notification pipeline.
package domain

import "time"

// AnalysisResult is produced by the external vision analysis and is read-only
// to the pipeline. JSON names follow the analysis collaborator.
type AnalysisResult struct {
	Success  bool              `json:"success"`
	Posture  *PostureJudgment  `json:"postureAnalysis,omitempty"`
	Activity *ActivityJudgment `json:"activityAnalysis,omitempty"`
	Hint     *NotificationHint `json:"notificationDecision,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type PostureJudgment struct {
	IsGood bool     `json:"isGoodPosture"`
	Score  float64  `json:"postureScore"`
	Issues []string `json:"issues,omitempty"`
	Praise string   `json:"praise,omitempty"`
}

type ActivityJudgment struct {
	Label                string `json:"currentActivity"`
	IsStudying           bool   `json:"isStudying"`
	RequiresNotification bool   `json:"requiresNotification,omitempty"`
	// StudyDurationMS is the tracked continuous study time in milliseconds.
	StudyDurationMS int64  `json:"studyDuration,omitempty"`
	Praise          string `json:"praise,omitempty"`
}

func (a *ActivityJudgment) StudyDuration() time.Duration {
	if a == nil || a.StudyDurationMS <= 0 {
		return 0
	}
	return time.Duration(a.StudyDurationMS) * time.Millisecond
}

// NotificationHint is the analysis' own opinion on whether to notify.
type NotificationHint struct {
	ShouldNotify bool   `json:"shouldNotify"`
	Message      string `json:"notificationMessage,omitempty"`
	Reason       string `json:"decisionReason,omitempty"`
}

// ChildProfile personalises composed messages.
type ChildProfile struct {
	Name      string   `json:"childName"`
	Age       int      `json:"childAge"`
	Gender    string   `json:"childGender"`
	Interests []string `json:"interests,omitempty"`
}

func (c ChildProfile) DisplayName() string {
	if c.Name == "" {
		return "your child"
	}
	return c.Name
}
