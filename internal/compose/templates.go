package compose

// Placeholders: {name} is the child's display name, {activity} the detected
// activity label.
var (
	praiseTemplates = []string{
		"Great job! {name} is {activity} with real focus. Keep it up!",
		"{name} is doing wonderfully: sitting straight and studying carefully. Keep going!",
		"It is lovely to see {name} so focused on {activity}!",
		"{name}'s attitude to studying deserves praise today. Well done!",
	}
	youngPraiseTemplates = []string{
		"Wow! {name} is studying so carefully. A big thumbs up! 👍",
		"Amazing! {name} is sitting up nice and straight and paying attention!",
		"Little {name} is so focused. Keep it up, superstar!",
	}
	postureReminderTemplates = []string{
		"{name}, please adjust your posture. A straight back is good for your eyes and spine!",
		"Dear {name}, mind your posture and keep a little more distance from the book or screen!",
		"{name}, sit up a little straighter. Studying is easier and more effective that way!",
		"Reminder for {name}: good posture helps prevent eye strain and back problems!",
	}
	activityReminderTemplates = []string{
		"{name}, time to get back to studying. Focusing makes the work go faster!",
		"Dear {name}, it is study time. Please put {activity} aside and return to your work!",
		"{name}, a short break is fine, but don't forget your study tasks!",
		"Reminder for {name}: focus during study time and relax once the work is done!",
	}
	alertTemplates = []string{
		"{name} has been {activity} for a while. Please take a look!",
		"Heads up: {name} is currently {activity}, which may slow down study progress.",
		"Attention: {name} has left study mode and is {activity}. Consider stepping in.",
		"{name} has spent a long time {activity}. A gentle reminder to return to studying may help.",
	}
)

const (
	genericReminder = "{name}, please keep up good study habits!"
	genericAlert    = "Please check on {name}'s study status."
	defaultSentence = "{name}'s study status has changed. Please check the details."
)
