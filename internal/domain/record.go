package domain

// Record is one persisted question/answer pair, the atomic unit written to
// the record store. A record's ConversationID groups it into a chat; legacy
// single-turn rows may have an empty ConversationID, in which case the
// record's own ID serves as the conversation identifier.
type Record struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	CreatedAt      string   `json:"created_at"`
	Sources        []Source `json:"sources,omitempty"`
}
