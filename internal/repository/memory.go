package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"krishmitra/internal/domain"
)

// memoryStore implements RecordStore using an in-memory slice. Used for
// tests and local development runs.
type memoryStore struct {
	mu      sync.RWMutex
	records []domain.Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() RecordStore {
	return &memoryStore{}
}

// InsertRecord implements RecordStore.
func (s *memoryStore) InsertRecord(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records = append(s.records, rec)
	return nil
}

// ListRecordsByUser implements RecordStore.
func (s *memoryStore) ListRecordsByUser(ctx context.Context, userID string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0)
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return parseCreatedAt(out[i].CreatedAt).After(parseCreatedAt(out[j].CreatedAt))
	})
	return out, nil
}

// DeleteConversation implements RecordStore.
func (s *memoryStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.ConversationID == conversationID {
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return nil
}

// Close implements RecordStore.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	return nil
}

func parseCreatedAt(createdAt string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Compile-time check that memoryStore implements RecordStore.
var _ RecordStore = (*memoryStore)(nil)
