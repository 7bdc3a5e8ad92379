package session

import (
	"context"
	"log/slog"
	"sync"

	"krishmitra/internal/domain"
	"krishmitra/internal/notify"
	"krishmitra/internal/repository"
)

// Registry owns one Manager per signed-in user. Sign-in creates the
// manager and loads history; sign-out tears the manager down. Each manager
// gets its own notice feed so the UI can poll per-user notifications.
type Registry struct {
	store  repository.RecordStore
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	manager *Manager
	feed    *notify.Feed
}

// NewRegistry creates an empty Registry over the given store.
func NewRegistry(store repository.RecordStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// SignIn returns the manager for the user, creating it and loading the
// user's history on first sight of the identity.
func (r *Registry) SignIn(ctx context.Context, user domain.User) *Manager {
	r.mu.Lock()
	entry, ok := r.entries[user.ID]
	if !ok {
		feed := notify.NewFeed()
		entry = &registryEntry{
			manager: NewManager(r.store, notify.Tee(&notify.SlogNotifier{Logger: r.logger}, feed), r.logger),
			feed:    feed,
		}
		r.entries[user.ID] = entry
	}
	r.mu.Unlock()

	if !ok {
		entry.manager.Load(ctx, &user)
	}
	return entry.manager
}

// SignOut clears the user's session state and removes the manager.
func (r *Registry) SignOut(ctx context.Context, userID string) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	delete(r.entries, userID)
	r.mu.Unlock()

	if ok {
		entry.manager.Load(ctx, nil)
	}
}

// Get returns the manager for a signed-in user, or false if the user has
// no session.
func (r *Registry) Get(userID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return entry.manager, true
}

// DrainNotices returns and clears the buffered notices for a user.
func (r *Registry) DrainNotices(userID string) []notify.Notice {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return entry.feed.Drain()
}
