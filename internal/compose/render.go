package compose

import (
	"fmt"
	"strings"
	"time"

	"studynotify/internal/domain"
	"studynotify/internal/transport"
)

const (
	footerAI     = "studynotify · AI study analysis"
	footerStatus = "studynotify"
	timeLayout   = "2006-01-02 15:04:05"
)

// RenderNotification builds the markdown card for a composed message.
func RenderNotification(msg domain.ComposedMessage, a domain.AnalysisResult, at time.Time) transport.Message {
	var title, icon string
	switch msg.Kind {
	case domain.KindPraise:
		title = "Study praise"
		icon = "⭐"
		if msg.Priority == domain.PriorityHigh {
			icon = "🏆"
		}
	case domain.KindReminder:
		title = "Study reminder"
		icon = "📌"
		if msg.Priority == domain.PriorityHigh {
			icon = "⚠️"
		}
	default:
		title = "Study update"
		icon = "📋"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#### %s %s\n\n", icon, title)
	fmt.Fprintf(&b, "%s %s\n\n", msg.Emoji, msg.Text)
	fmt.Fprintf(&b, "**Child:** %s | **Time:** %s\n\n", msg.Personalization.ChildName, at.Format(timeLayout))

	if a.Posture != nil || a.Activity != nil {
		if p := a.Posture; p != nil {
			if p.IsGood {
				b.WriteString("- Posture: good ✅\n")
			} else {
				b.WriteString("- Posture: needs work ⚠️\n")
			}
		}
		if act := a.Activity; act != nil {
			fmt.Fprintf(&b, "- Activity: %s\n", act.Label)
			if act.IsStudying {
				b.WriteString("- Status: studying 📚\n")
			} else {
				b.WriteString("- Status: not studying 🎮\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("**Suggestion:** ")
	if msg.Kind == domain.KindPraise {
		b.WriteString("Praise the good work promptly and encourage them to keep it up!\n\n")
	} else {
		b.WriteString("Gently remind them to refocus on studying.\n\n")
	}

	return transport.Message{
		Type:   transport.Markdown,
		Title:  title,
		Text:   b.String(),
		Footer: footerAI,
	}
}

// StatusKind selects one of the plain status cards.
type StatusKind string

const (
	StatusTest         StatusKind = "test"
	StatusMonitorStart StatusKind = "monitor_start"
	StatusMonitorStop  StatusKind = "monitor_stop"
	StatusActivity     StatusKind = "activity"
)

func ParseStatusKind(s string) (StatusKind, error) {
	switch k := StatusKind(strings.ToLower(strings.TrimSpace(s))); k {
	case StatusTest, StatusMonitorStart, StatusMonitorStop, StatusActivity:
		return k, nil
	case "":
		return StatusActivity, nil
	default:
		return "", fmt.Errorf("unknown status kind %q", s)
	}
}

// RenderStatus builds the plain test, monitoring and activity cards.
func RenderStatus(kind StatusKind, child domain.ChildProfile, activity string, at time.Time) transport.Message {
	var title, status, note string
	switch kind {
	case StatusMonitorStart:
		title, status, note = "▶️ Monitoring started", "monitoring started", "Study monitoring is now active."
	case StatusMonitorStop:
		title, status, note = "⏸️ Monitoring stopped", "monitoring stopped", "Study monitoring has stopped."
	case StatusTest:
		title, status, note = "🔔 Test notification", "system test", "This is a test message to verify that notifications work."
	default:
		if activity == "" {
			activity = "unknown"
		}
		title, status, note = "👨‍👩‍👧 Study status update", activity, "The current activity may be affecting study. Please take a look."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#### %s\n", title)
	fmt.Fprintf(&b, "**Child:** %s\n\n", child.DisplayName())
	fmt.Fprintf(&b, "**Status:** %s\n\n", status)
	fmt.Fprintf(&b, "**Time:** %s\n\n", at.Format(timeLayout))
	fmt.Fprintf(&b, "> %s\n\n", note)
	b.WriteString("**Suggestions:**\n")
	b.WriteString("1. Check the current study status\n")
	b.WriteString("2. Remind them to stay focused\n")
	b.WriteString("3. Keep the study space quiet and comfortable\n\n")

	return transport.Message{
		Type:   transport.Markdown,
		Title:  strings.TrimSpace(strings.TrimLeftFunc(title, notLetter)),
		Text:   b.String(),
		Footer: footerStatus,
	}
}

func notLetter(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
}
