package repository

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"krishmitra/internal/domain"
)

const chatHistoryTable = "chat_history"

// supabaseStore implements RecordStore against the chat_history table.
type supabaseStore struct {
	client *supabase.Client
}

// chatHistoryRow mirrors one chat_history row. conversation_id is nullable
// for legacy single-turn rows.
type chatHistoryRow struct {
	ID             string          `json:"id,omitempty"`
	ConversationID *string         `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Question       string          `json:"question"`
	Answer         string          `json:"answer"`
	CreatedAt      string          `json:"created_at"`
	Sources        []domain.Source `json:"sources"`
}

// NewSupabaseStore creates a RecordStore backed by a Supabase project.
func NewSupabaseStore(url, apiKey string) (RecordStore, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &supabaseStore{client: client}, nil
}

// InsertRecord implements RecordStore.
func (s *supabaseStore) InsertRecord(ctx context.Context, rec domain.Record) error {
	row := rowFromRecord(rec)
	_, _, err := s.client.From(chatHistoryTable).
		Insert(row, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert chat_history row: %w", err)
	}
	return nil
}

// ListRecordsByUser implements RecordStore.
func (s *supabaseStore) ListRecordsByUser(ctx context.Context, userID string) ([]domain.Record, error) {
	var rows []chatHistoryRow
	_, err := s.client.From(chatHistoryTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat_history rows: %w", err)
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records, nil
}

// DeleteConversation implements RecordStore. The table is filtered on
// conversation_id only; rows are already scoped to their owner by the
// generated conversation identifiers.
func (s *supabaseStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	_, _, err := s.client.From(chatHistoryTable).
		Delete("", "").
		Eq("conversation_id", conversationID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// Close implements RecordStore.
func (s *supabaseStore) Close() error {
	// The Supabase client has no resources requiring explicit close.
	return nil
}

func rowFromRecord(rec domain.Record) chatHistoryRow {
	row := chatHistoryRow{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		CreatedAt: rec.CreatedAt,
		Sources:   rec.Sources,
	}
	if rec.ConversationID != "" {
		row.ConversationID = &rec.ConversationID
	}
	return row
}

func recordFromRow(row chatHistoryRow) domain.Record {
	rec := domain.Record{
		ID:        row.ID,
		UserID:    row.UserID,
		Question:  row.Question,
		Answer:    row.Answer,
		CreatedAt: row.CreatedAt,
		Sources:   row.Sources,
	}
	if row.ConversationID != nil {
		rec.ConversationID = *row.ConversationID
	}
	return rec
}

// Compile-time check that supabaseStore implements RecordStore.
var _ RecordStore = (*supabaseStore)(nil)
