package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"krishmitra/internal/domain"
	"krishmitra/internal/integrations/askapi"
	"krishmitra/internal/notify"
	"krishmitra/internal/repository"
	"krishmitra/internal/session"
)

type fakeAsker struct {
	gotInput askapi.AskInput
	out      askapi.AskOutput
	err      error
}

func (f *fakeAsker) Ask(_ context.Context, in askapi.AskInput) (askapi.AskOutput, error) {
	f.gotInput = in
	return f.out, f.err
}

func newSignedInManager(t *testing.T, store repository.RecordStore) (*session.Manager, *notify.Feed) {
	t.Helper()
	feed := notify.NewFeed()
	mgr := session.NewManager(store, feed, nil)
	mgr.Load(context.Background(), &domain.User{ID: "user-1", Email: "user-1@example.com"})
	return mgr, feed
}

func TestNewTurnService_NilAsker(t *testing.T) {
	_, err := NewTurnService(nil, nil)
	require.Error(t, err)
}

func TestRunTurn(t *testing.T) {
	store := repository.NewMemoryStore()
	mgr, _ := newSignedInManager(t, store)
	chat, ok := mgr.CurrentChat()
	require.True(t, ok)

	asker := &fakeAsker{out: askapi.AskOutput{
		Answer:  "Plant in flooded fields.",
		Sources: []domain.Source{{URL: "https://example.com", Title: "Rice"}},
	}}
	svc, err := NewTurnService(asker, nil)
	require.NoError(t, err)

	out, err := svc.RunTurn(context.Background(), mgr, TurnInput{Question: "How to grow rice?"})
	require.NoError(t, err)

	require.Equal(t, chat.ID, out.ChatID)
	require.Equal(t, "How to grow rice?", out.UserMessage.Content)
	require.True(t, out.UserMessage.IsUser)
	require.Equal(t, "Plant in flooded fields.", out.AssistantMessage.Content)
	require.False(t, out.AssistantMessage.IsUser)
	require.Equal(t, asker.out.Sources, out.Sources)
	require.False(t, out.Failed)

	// The service saw the conversation as it stood before the question.
	require.Equal(t, "How to grow rice?", asker.gotInput.Question)
	require.Equal(t, chat.ID, asker.gotInput.ConversationID)
	require.Len(t, asker.gotInput.ConversationHistory, 1)
	require.Equal(t, session.WelcomeGreeting, asker.gotInput.ConversationHistory[0].Content)

	// Both halves landed in the chat and one record landed in the store.
	current, ok := mgr.CurrentChat()
	require.True(t, ok)
	require.Len(t, current.Messages, 3)

	records, err := store.ListRecordsByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "How to grow rice?", records[0].Question)
	require.Equal(t, "Plant in flooded fields.", records[0].Answer)
	require.Equal(t, chat.ID, records[0].ConversationID)
	require.Equal(t, asker.out.Sources, records[0].Sources)
}

func TestRunTurn_EmptyQuestion(t *testing.T) {
	mgr, _ := newSignedInManager(t, repository.NewMemoryStore())
	svc, err := NewTurnService(&fakeAsker{}, nil)
	require.NoError(t, err)

	for _, question := range []string{"", "   ", "\n\t"} {
		_, err := svc.RunTurn(context.Background(), mgr, TurnInput{Question: question})

		var ucErr *Error
		require.ErrorAs(t, err, &ucErr)
		require.Equal(t, ErrorInvalidInput, ucErr.Code)
		require.Equal(t, "empty_question", ucErr.Reason)
	}
}

func TestRunTurn_NotSignedIn(t *testing.T) {
	mgr := session.NewManager(repository.NewMemoryStore(), nil, nil)
	svc, err := NewTurnService(&fakeAsker{}, nil)
	require.NoError(t, err)

	_, err = svc.RunTurn(context.Background(), mgr, TurnInput{Question: "hello"})

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorNoSession, ucErr.Code)
	require.Equal(t, "not_signed_in", ucErr.Reason)
}

func TestRunTurn_ServiceFailureFallsBack(t *testing.T) {
	store := repository.NewMemoryStore()
	mgr, feed := newSignedInManager(t, store)

	asker := &fakeAsker{
		out: askapi.AskOutput{Sources: []domain.Source{{URL: "https://stale.example.com"}}},
		err: errors.New("connection refused"),
	}
	svc, err := NewTurnService(asker, nil)
	require.NoError(t, err)

	out, err := svc.RunTurn(context.Background(), mgr, TurnInput{Question: "How to grow rice?"})
	require.NoError(t, err)

	require.True(t, out.Failed)
	require.Equal(t, fallbackUnavailable, out.AssistantMessage.Content)
	require.Nil(t, out.Sources)

	notices := feed.Drain()
	require.Len(t, notices, 1)
	require.Equal(t, "Failed to get a response. Please check if the API server is running.", notices[0].Description)
	require.Equal(t, notify.VariantDestructive, notices[0].Variant)

	// The fallback is a normal assistant reply: appended and persisted.
	current, ok := mgr.CurrentChat()
	require.True(t, ok)
	require.Len(t, current.Messages, 3)
	require.Equal(t, fallbackUnavailable, current.Messages[2].Content)

	records, err := store.ListRecordsByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, fallbackUnavailable, records[0].Answer)
	require.Empty(t, records[0].Sources)
}

func TestRunTurn_BlankAnswerFallsBack(t *testing.T) {
	store := repository.NewMemoryStore()
	mgr, feed := newSignedInManager(t, store)

	asker := &fakeAsker{out: askapi.AskOutput{Answer: "   "}}
	svc, err := NewTurnService(asker, nil)
	require.NoError(t, err)

	out, err := svc.RunTurn(context.Background(), mgr, TurnInput{Question: "How to grow rice?"})
	require.NoError(t, err)

	require.False(t, out.Failed)
	require.Equal(t, fallbackNoAnswer, out.AssistantMessage.Content)
	require.Empty(t, feed.Drain())

	records, err := store.ListRecordsByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, fallbackNoAnswer, records[0].Answer)
}

func TestRunTurn_TrimsQuestion(t *testing.T) {
	mgr, _ := newSignedInManager(t, repository.NewMemoryStore())
	asker := &fakeAsker{out: askapi.AskOutput{Answer: "ok"}}
	svc, err := NewTurnService(asker, nil)
	require.NoError(t, err)

	out, err := svc.RunTurn(context.Background(), mgr, TurnInput{Question: "  spaced out  "})
	require.NoError(t, err)

	require.Equal(t, "spaced out", out.UserMessage.Content)
	require.Equal(t, "spaced out", asker.gotInput.Question)
}
