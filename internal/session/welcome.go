package session

import (
	"time"

	"krishmitra/internal/domain"
)

// WelcomeGreeting is the fixed assistant greeting every new conversation
// opens with.
const WelcomeGreeting = "Namaste! 🙏 I'm Krish Mitra, your agricultural assistant. " +
	"I can help with farming techniques, crop diseases, government schemes, " +
	"weather adaptation, and more. How may I assist you today?"

// welcomeTitle is the placeholder title for a chat that has no questions yet.
const welcomeTitle = "New Conversation"

// NewWelcomeChat builds the default greeting conversation: a fresh
// identifier, the placeholder title and a single assistant-authored welcome
// message. It seeds brand-new users and is the recovery path when history
// loading fails.
func NewWelcomeChat(id string, now time.Time) domain.Chat {
	return domain.Chat{
		ID:    id,
		Title: welcomeTitle,
		Messages: []domain.Message{{
			Content:   WelcomeGreeting,
			IsUser:    false,
			Timestamp: now.Format(domain.TimestampLayout),
		}},
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}
