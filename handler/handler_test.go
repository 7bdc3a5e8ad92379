package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"krishmitra/internal/domain"
	"krishmitra/internal/integrations/askapi"
	"krishmitra/internal/notify"
	"krishmitra/internal/repository"
	"krishmitra/internal/session"
	"krishmitra/internal/usecase"
)

type fakeAsker struct {
	out askapi.AskOutput
	err error
}

func (f *fakeAsker) Ask(context.Context, askapi.AskInput) (askapi.AskOutput, error) {
	return f.out, f.err
}

func newTestHandler(t *testing.T, asker usecase.Asker) http.Handler {
	t.Helper()
	if asker == nil {
		asker = &fakeAsker{out: askapi.AskOutput{Answer: "an answer"}}
	}
	registry := session.NewRegistry(repository.NewMemoryStore(), nil)
	turns, err := usecase.NewTurnService(asker, nil)
	require.NoError(t, err)
	h, err := New(registry, turns, nil)
	require.NoError(t, err)
	return h
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func signInUser(t *testing.T, h http.Handler, userID string) stateResponse {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/session", "", signInRequest{UserID: userID, Email: userID + "@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var state stateResponse
	decodeInto(t, rec, &state)
	return state
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAboutAndSuggestions(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/about", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var about map[string]string
	decodeInto(t, rec, &about)
	require.Equal(t, "About Krish Mitra", about["title"])
	require.Contains(t, about["description"], "LLaMA 3")

	rec = doRequest(t, h, http.MethodGet, "/api/suggestions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var suggestions map[string][]string
	decodeInto(t, rec, &suggestions)
	require.Len(t, suggestions["suggestions"], 4)
}

func TestSignIn(t *testing.T) {
	h := newTestHandler(t, nil)

	state := signInUser(t, h, "user-1")
	require.Len(t, state.Chats, 1)
	require.Equal(t, "New Conversation", state.Chats[0].Title)
	require.Equal(t, state.Chats[0].ID, state.CurrentChatID)
	require.False(t, state.IsLoadingChats)
}

func TestSignIn_MissingUserID(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := doRequest(t, h, http.MethodPost, "/api/session", "", signInRequest{Email: "x@example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListChats_RequiresSession(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/chats", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/chats", "nobody", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndSelectChat(t *testing.T) {
	h := newTestHandler(t, nil)
	first := signInUser(t, h, "user-1")

	rec := doRequest(t, h, http.MethodPost, "/api/chats", "user-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Chat
	decodeInto(t, rec, &created)
	require.NotEqual(t, first.CurrentChatID, created.ID)

	rec = doRequest(t, h, http.MethodGet, "/api/chats", "user-1", nil)
	var state stateResponse
	decodeInto(t, rec, &state)
	require.Len(t, state.Chats, 2)
	require.Equal(t, created.ID, state.CurrentChatID)

	// Select the original chat back.
	rec = doRequest(t, h, http.MethodPost, "/api/chats/"+first.CurrentChatID+"/select", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &state)
	require.Equal(t, first.CurrentChatID, state.CurrentChatID)

	// Unknown IDs leave the selection in place.
	rec = doRequest(t, h, http.MethodPost, "/api/chats/no-such-chat/select", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &state)
	require.Equal(t, first.CurrentChatID, state.CurrentChatID)
}

func TestDeleteChat_LastChatReplaced(t *testing.T) {
	h := newTestHandler(t, nil)
	state := signInUser(t, h, "user-1")

	rec := doRequest(t, h, http.MethodDelete, "/api/chats/"+state.CurrentChatID, "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var after stateResponse
	decodeInto(t, rec, &after)
	require.Len(t, after.Chats, 1)
	require.NotEqual(t, state.CurrentChatID, after.CurrentChatID)
}

func TestSendMessage(t *testing.T) {
	h := newTestHandler(t, &fakeAsker{out: askapi.AskOutput{
		Answer:  "Plant in flooded fields.",
		Sources: []domain.Source{{URL: "https://example.com", Title: "Rice"}},
	}})
	state := signInUser(t, h, "user-1")

	rec := doRequest(t, h, http.MethodPost, "/api/chats/current/messages", "user-1", sendMessageRequest{Question: "How to grow rice?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sendMessageResponse
	decodeInto(t, rec, &resp)
	require.Equal(t, state.CurrentChatID, resp.ChatID)
	require.Equal(t, "How to grow rice?", resp.UserMessage.Content)
	require.Equal(t, "Plant in flooded fields.", resp.AssistantMessage.Content)
	require.Len(t, resp.Sources, 1)
	require.False(t, resp.Failed)

	// Both halves are now in the chat, and the title tracks the question.
	rec = doRequest(t, h, http.MethodGet, "/api/chats", "user-1", nil)
	var after stateResponse
	decodeInto(t, rec, &after)
	require.Len(t, after.Chats[0].Messages, 3)
}

func TestSendMessage_EmptyQuestion(t *testing.T) {
	h := newTestHandler(t, nil)
	signInUser(t, h, "user-1")

	rec := doRequest(t, h, http.MethodPost, "/api/chats/current/messages", "user-1", sendMessageRequest{Question: "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_ServiceFailureSurfacesNotice(t *testing.T) {
	h := newTestHandler(t, &fakeAsker{err: errors.New("connection refused")})
	signInUser(t, h, "user-1")

	rec := doRequest(t, h, http.MethodPost, "/api/chats/current/messages", "user-1", sendMessageRequest{Question: "How to grow rice?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sendMessageResponse
	decodeInto(t, rec, &resp)
	require.True(t, resp.Failed)
	require.Contains(t, resp.AssistantMessage.Content, "trouble connecting")

	rec = doRequest(t, h, http.MethodGet, "/api/notices", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notices struct {
		Notices []notify.Notice `json:"notices"`
	}
	decodeInto(t, rec, &notices)
	require.Len(t, notices.Notices, 1)
	require.Equal(t, "Failed to get a response. Please check if the API server is running.", notices.Notices[0].Description)
	require.Equal(t, notify.VariantDestructive, notices.Notices[0].Variant)

	// Draining empties the feed.
	rec = doRequest(t, h, http.MethodGet, "/api/notices", "user-1", nil)
	decodeInto(t, rec, &notices)
	require.Empty(t, notices.Notices)
}

func TestSignOut(t *testing.T) {
	h := newTestHandler(t, nil)
	signInUser(t, h, "user-1")

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set(userIDHeader, "user-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got := doRequest(t, h, http.MethodGet, "/api/chats", "user-1", nil)
	require.Equal(t, http.StatusUnauthorized, got.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), userIDHeader)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newTestHandler(t, nil)
	signInUser(t, h, "user-1")
	signInUser(t, h, "user-2")

	for i := 0; i < 2; i++ {
		rec := doRequest(t, h, http.MethodPost, "/api/chats", "user-1", nil)
		require.Equal(t, http.StatusCreated, rec.Code, fmt.Sprintf("create %d", i))
	}

	rec := doRequest(t, h, http.MethodGet, "/api/chats", "user-2", nil)
	var state stateResponse
	decodeInto(t, rec, &state)
	require.Len(t, state.Chats, 1)
}
