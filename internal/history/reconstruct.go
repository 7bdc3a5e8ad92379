// Package history rebuilds chat threads from the flat question/answer
// records returned by the record store.
package history

import (
	"fmt"
	"sort"
	"time"

	"krishmitra/internal/domain"
)

// maxTitleLen is the number of leading characters of the first question
// used as a chat title.
const maxTitleLen = 30

// createdAtLayouts are the timestamp shapes the record store is known to
// emit, tried in order.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Rebuild turns a flat list of records, as returned by the store in
// descending created_at order, into chats grouped by conversation. Each
// record contributes a user message followed by an assistant message, both
// stamped with the record's creation time formatted as local time of day.
// Chats keep the order in which their first record appeared; messages
// within a chat are re-sorted to chronological order.
func Rebuild(records []domain.Record) []domain.Chat {
	byID := make(map[string]int, len(records))
	chats := make([]domain.Chat, 0, len(records))

	for _, rec := range records {
		convID := rec.ConversationID
		if convID == "" {
			// Legacy single-turn rows predate conversation grouping.
			convID = rec.ID
		}

		idx, ok := byID[convID]
		if !ok {
			idx = len(chats)
			byID[convID] = idx
			chats = append(chats, domain.Chat{
				ID:        convID,
				Title:     fmt.Sprintf("Chat %d", idx+1),
				CreatedAt: rec.CreatedAt,
			})
		}

		ts := formatCreatedAt(rec.CreatedAt)
		chats[idx].Messages = append(chats[idx].Messages,
			domain.Message{Content: rec.Question, IsUser: true, Timestamp: ts},
			domain.Message{Content: rec.Answer, IsUser: false, Timestamp: ts},
		)
	}

	for i := range chats {
		sortMessages(chats[i].Messages)
		if first, ok := firstUserMessage(chats[i].Messages); ok && first.Content != "" {
			chats[i].Title = TitleFor(first.Content)
		}
	}

	return chats
}

// TitleFor derives a chat title from the first question: the leading 30
// characters, ellipsis-suffixed when truncated.
func TitleFor(question string) string {
	runes := []rune(question)
	if len(runes) <= maxTitleLen {
		return question
	}
	return string(runes[:maxTitleLen]) + "..."
}

// sortMessages orders messages by their parsed time-of-day timestamps.
// The timestamps carry no date, so the ordering is only meaningful within
// a single day; ties and unparseable values keep their existing order.
func sortMessages(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, iOK := parseTimestamp(msgs[i].Timestamp)
		tj, jOK := parseTimestamp(msgs[j].Timestamp)
		if !iOK || !jOK {
			return false
		}
		return ti.Before(tj)
	})
}

func firstUserMessage(msgs []domain.Message) (domain.Message, bool) {
	for _, m := range msgs {
		if m.IsUser {
			return m, true
		}
	}
	return domain.Message{}, false
}

// formatCreatedAt converts a store created_at value to the display
// timestamp carried on messages. Values that cannot be parsed are passed
// through unchanged rather than dropped.
func formatCreatedAt(createdAt string) string {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, createdAt); err == nil {
			return t.Local().Format(domain.TimestampLayout)
		}
	}
	return createdAt
}

func parseTimestamp(ts string) (time.Time, bool) {
	t, err := time.Parse(domain.TimestampLayout, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
