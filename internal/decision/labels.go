package decision

import "strings"

// Canonical activity labels.
const (
	LabelOnPhone       = "on phone"
	LabelGaming        = "gaming"
	LabelBrowsing      = "browsing"
	LabelSnacking      = "snacking"
	LabelZonedOut      = "zoned out"
	LabelChatting      = "chatting"
	LabelResting       = "resting"
	LabelDrinkingWater = "drinking water"

	LabelHomework = "doing homework"
	LabelReading  = "reading"
	LabelLecture  = "attending class"
	LabelPractice = "doing exercises"
)

const unknownDistraction = 4

var baseDistraction = map[string]int{
	LabelOnPhone:       10,
	LabelGaming:        9,
	LabelBrowsing:      8,
	LabelSnacking:      7,
	LabelZonedOut:      6,
	LabelChatting:      5,
	LabelResting:       3,
	LabelDrinkingWater: 2,
}

var rigorousStudy = map[string]struct{}{
	LabelHomework: {},
	LabelReading:  {},
	LabelLecture:  {},
	LabelPractice: {},
}

// aliases maps labels emitted by the vision analysis to canonical labels.
var aliases = map[string]string{
	"玩手机":  LabelOnPhone,
	"玩游戏":  LabelGaming,
	"浏览网页": LabelBrowsing,
	"吃零食":  LabelSnacking,
	"发呆":   LabelZonedOut,
	"聊天":   LabelChatting,
	"休息":   LabelResting,
	"喝水":   LabelDrinkingWater,
	"写作业":  LabelHomework,
	"阅读":   LabelReading,
	"听课":   LabelLecture,
	"做练习":  LabelPractice,

	"phone":          LabelOnPhone,
	"using phone":    LabelOnPhone,
	"playing games":  LabelGaming,
	"browsing web":   LabelBrowsing,
	"daydreaming":    LabelZonedOut,
	"homework":       LabelHomework,
	"exercises":      LabelPractice,
	"listening":      LabelLecture,
	"drinking":       LabelDrinkingWater,
	"eating snacks":  LabelSnacking,
	"talking":        LabelChatting,
	"taking a break": LabelResting,
}

// NormalizeLabel trims, lower-cases and resolves known aliases. Unknown
// labels are returned trimmed and lower-cased.
func NormalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.Join(strings.Fields(l), " ")
	if canon, ok := aliases[l]; ok {
		return canon
	}
	return l
}
