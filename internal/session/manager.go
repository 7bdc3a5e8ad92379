// Package session owns the per-user chat state: the chat list, the current
// chat selection and their synchronization with the record store.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"krishmitra/internal/domain"
	"krishmitra/internal/history"
	"krishmitra/internal/notify"
	"krishmitra/internal/repository"
)

// Manager holds one signed-in user's conversations in memory and mediates
// every store interaction. Operations serialize on a single mutex, which is
// released around store calls; between store calls each operation's state
// reads and mutations are atomic with respect to the others.
type Manager struct {
	store    repository.RecordStore
	notifier notify.Notifier
	logger   *slog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	user    *domain.User
	chats   []domain.Chat
	current string // ID of the current chat, empty when none
	loading bool
	loadSeq uint64
}

// NewManager creates a Manager over the given store. notifier receives the
// user-facing success/failure notices; it may be nil.
func NewManager(store repository.RecordStore, notifier notify.Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Func(func(notify.Notice) {})
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Load installs the signed-in identity and rebuilds the chat list from the
// record store. A nil user means signed out: all state is cleared. When the
// user has no history, or loading fails, a single welcome chat is seeded
// instead. A load whose identity has been superseded by a newer Load call
// discards its result.
func (m *Manager) Load(ctx context.Context, user *domain.User) {
	m.mu.Lock()
	m.loadSeq++
	seq := m.loadSeq

	if user == nil {
		m.user = nil
		m.chats = nil
		m.current = ""
		m.loading = false
		m.mu.Unlock()
		return
	}

	u := *user
	m.user = &u
	m.loading = true
	m.mu.Unlock()

	records, err := m.store.ListRecordsByUser(ctx, u.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.loadSeq {
		// A newer Load superseded this one while the fetch was in
		// flight; its completion owns the state now.
		return
	}
	m.loading = false

	if err != nil {
		m.logger.Error("failed to load chat history", "user_id", u.ID, "error", err)
		m.notifier.Notify(notify.Notice{
			Title:       "Error",
			Description: "Failed to load chat history",
			Variant:     notify.VariantDestructive,
		})
		m.seedWelcomeLocked()
		return
	}

	chats := history.Rebuild(records)
	if len(chats) == 0 {
		m.seedWelcomeLocked()
		return
	}

	m.chats = chats
	if m.current == "" {
		m.current = chats[0].ID
	}
}

// CreateNewChat prepends a fresh welcome chat and selects it. The chat is
// not persisted until a message turn completes in it.
func (m *Manager) CreateNewChat() domain.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createNewChatLocked()
}

func (m *Manager) createNewChatLocked() domain.Chat {
	chat := NewWelcomeChat(m.newID(), m.now())
	m.chats = append([]domain.Chat{chat}, m.chats...)
	m.current = chat.ID
	return chat.Clone()
}

// seedWelcomeLocked replaces the chat list with a single welcome chat and
// selects it.
func (m *Manager) seedWelcomeLocked() {
	chat := NewWelcomeChat(m.newID(), m.now())
	m.chats = []domain.Chat{chat}
	m.current = chat.ID
}

// SelectChat makes the chat with the given ID current. An unknown ID is a
// silent no-op: callers only pass IDs from an already-rendered list.
func (m *Manager) SelectChat(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOfLocked(id) >= 0 {
		m.current = id
	}
}

// DeleteChat removes a conversation from the store and then from memory.
// The store is the source of truth: on store failure the chat stays
// visible and only a notice is surfaced. When the deleted chat was
// current, the next remaining chat is selected, or a fresh welcome chat is
// created so a signed-in user is never left without a current chat.
func (m *Manager) DeleteChat(ctx context.Context, id string) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return
	}
	userID := m.user.ID
	m.mu.Unlock()

	if err := m.store.DeleteConversation(ctx, userID, id); err != nil {
		m.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		m.notifier.Notify(notify.Notice{
			Title:       "Error",
			Description: "Failed to delete conversation",
			Variant:     notify.VariantDestructive,
		})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx := m.indexOfLocked(id); idx >= 0 {
		m.chats = append(m.chats[:idx], m.chats[idx+1:]...)
	}
	if m.current == id {
		if len(m.chats) > 0 {
			m.current = m.chats[0].ID
		} else {
			m.createNewChatLocked()
		}
	}
	m.notifier.Notify(notify.Notice{
		Title:       "Success",
		Description: "Conversation deleted",
		Variant:     notify.VariantDefault,
	})
}

// AddMessageToChat appends a message to the current chat. The in-memory
// append happens first; when the message is an assistant reply completing a
// turn, the question/answer pair is then persisted as one record. An insert
// failure surfaces a notice but does not roll the append back. Without a
// current chat or a signed-in user the message is dropped.
func (m *Manager) AddMessageToChat(ctx context.Context, msg domain.Message) {
	m.addMessage(ctx, msg, nil)
}

// AddAssistantReply is AddMessageToChat for assistant messages that carry
// supporting sources; the sources are stored on the persisted record.
func (m *Manager) AddAssistantReply(ctx context.Context, msg domain.Message, sources []domain.Source) {
	m.addMessage(ctx, msg, sources)
}

func (m *Manager) addMessage(ctx context.Context, msg domain.Message, sources []domain.Source) {
	m.mu.Lock()
	if m.current == "" || m.user == nil {
		m.mu.Unlock()
		return
	}

	idx := m.indexOfLocked(m.current)
	if idx < 0 {
		m.mu.Unlock()
		return
	}

	updated := m.chats[idx].Clone()
	updated.Messages = append(updated.Messages, msg)
	m.chats[idx] = updated

	if msg.IsUser {
		m.mu.Unlock()
		return
	}

	// An assistant reply completes a turn: pair it with the most recent
	// user question and persist the two halves as one record.
	question, ok := updated.LastUserMessage()
	rec := domain.Record{
		ConversationID: updated.ID,
		UserID:         m.user.ID,
		Question:       question.Content,
		Answer:         msg.Content,
		CreatedAt:      m.now().UTC().Format(time.RFC3339Nano),
		Sources:        sources,
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if err := m.store.InsertRecord(ctx, rec); err != nil {
		m.logger.Error("failed to save message", "conversation_id", rec.ConversationID, "error", err)
		m.notifier.Notify(notify.Notice{
			Title:       "Error",
			Description: "Failed to save message to chat history",
			Variant:     notify.VariantDestructive,
		})
	}
}

// SetCurrentChatMessages replaces the current chat's messages wholesale.
// No store interaction: replacements bypass the question/answer pairing
// that persists turns, so this is for bulk overwrites only.
func (m *Manager) SetCurrentChatMessages(messages []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return
	}
	idx := m.indexOfLocked(m.current)
	if idx < 0 {
		return
	}

	updated := m.chats[idx]
	updated.Messages = make([]domain.Message, len(messages))
	copy(updated.Messages, messages)
	m.chats[idx] = updated
}

// Notifier exposes the manager's notification channel so collaborators
// surface their notices on the same feed.
func (m *Manager) Notifier() notify.Notifier {
	return m.notifier
}

// Chats returns a snapshot of the chat list.
func (m *Manager) Chats() []domain.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, c.Clone())
	}
	return out
}

// CurrentChat returns a snapshot of the current chat, or false when none
// is selected.
func (m *Manager) CurrentChat() (domain.Chat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfLocked(m.current)
	if idx < 0 {
		return domain.Chat{}, false
	}
	return m.chats[idx].Clone(), true
}

// IsLoading reports whether a history load is in flight.
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// User returns the signed-in identity, or false when signed out.
func (m *Manager) User() (domain.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.user == nil {
		return domain.User{}, false
	}
	return *m.user, true
}

func (m *Manager) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.chats {
		if m.chats[i].ID == id {
			return i
		}
	}
	return -1
}
