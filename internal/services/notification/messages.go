package notification

import (
	"github.com/faithtrack-bot-go/internal/models"
)

// Message is the text of one daily reminder
type Message struct {
	Title string
	Body  string
}

// MessageSource picks the reminder text for a bucket and urgency
type MessageSource interface {
	Message(language string, bucket models.TimeBucket, urgency models.Urgency) Message
}

// defaultMessages is the built-in table, keyed by time of day then tone
var defaultMessages = map[models.TimeBucket]map[models.Urgency]Message{
	models.BucketMorning: {
		models.UrgencyGentle: {
			Title: "Good morning",
			Body:  "A new day is a new mercy. Take a quiet moment with God before it gets busy.",
		},
		models.UrgencyModerate: {
			Title: "Morning prayer",
			Body:  "Start today in prayer. Five minutes now will shape the hours ahead.",
		},
		models.UrgencyUrgent: {
			Title: "Don't skip this morning",
			Body:  "Your streak is waiting. Open your Bible and pray before you check anything else.",
		},
	},
	models.BucketAfternoon: {
		models.UrgencyGentle: {
			Title: "A midday pause",
			Body:  "Step away for a moment. Breathe, give thanks, and invite God into the rest of your day.",
		},
		models.UrgencyModerate: {
			Title: "Afternoon check-in",
			Body:  "Half the day is behind you. Have you spent time in the Word yet?",
		},
		models.UrgencyUrgent: {
			Title: "Time to pray",
			Body:  "Don't let the afternoon slip away. Stop what you're doing and pray now.",
		},
	},
	models.BucketEvening: {
		models.UrgencyGentle: {
			Title: "Evening reflection",
			Body:  "Before you rest, look back on today and thank God for where you saw Him.",
		},
		models.UrgencyModerate: {
			Title: "End the day with God",
			Body:  "Close today in prayer and Scripture. Your habit is built one evening at a time.",
		},
		models.UrgencyUrgent: {
			Title: "Last call for today",
			Body:  "The day is almost over and you haven't prayed yet. Take a few minutes now.",
		},
	},
}

// StaticMessages serves the built-in English table
type StaticMessages struct{}

func (StaticMessages) Message(_ string, bucket models.TimeBucket, urgency models.Urgency) Message {
	return DefaultMessage(bucket, urgency)
}

// DefaultMessage looks up the built-in table, falling back to a gentle tone
func DefaultMessage(bucket models.TimeBucket, urgency models.Urgency) Message {
	tones, ok := defaultMessages[bucket]
	if !ok {
		tones = defaultMessages[models.BucketEvening]
	}
	if msg, ok := tones[urgency]; ok {
		return msg
	}
	return tones[models.UrgencyGentle]
}

// BucketFor maps an hour of the day to its bucket
func BucketFor(hour int) models.TimeBucket {
	switch {
	case hour >= 5 && hour < 12:
		return models.BucketMorning
	case hour >= 12 && hour < 17:
		return models.BucketAfternoon
	default:
		return models.BucketEvening
	}
}
