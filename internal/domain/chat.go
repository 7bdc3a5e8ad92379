package domain

// TimestampLayout is the display format applied to message timestamps.
// Timestamps are time-of-day only; they are assigned once at message
// creation and never recomputed.
const TimestampLayout = "3:04:05 PM"

// Message is a single entry in a chat, authored either by the user or by
// the assistant. Messages are immutable once created.
type Message struct {
	Content   string `json:"content"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp"`
}

// Chat is an ordered thread of user/assistant messages sharing one ID.
// The ID is either server-assigned (the key of the chat's first persisted
// record) or client-generated for chats that have not been persisted yet.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt string    `json:"created_at"`
}

// Clone returns a copy of the chat with its own message slice, so callers
// can hand out snapshots without exposing internal state to mutation.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// LastUserMessage returns the most recent user-authored message, or false
// if the chat contains none.
func (c Chat) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// User identifies the signed-in account a session belongs to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Source is one supporting document returned by the answering service.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
