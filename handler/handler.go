// Package handler exposes the chat session API consumed by the web client.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"krishmitra/internal/domain"
	"krishmitra/internal/session"
	"krishmitra/internal/usecase"
)

// userIDHeader carries the authenticated user's ID on every request. Token
// validation happens upstream; this service trusts the gateway's headers.
const (
	userIDHeader    = "X-User-ID"
	userEmailHeader = "X-User-Email"
)

// suggestedQuestions are the starter prompts offered on an empty chat.
var suggestedQuestions = []string{
	"What government schemes are available for organic farming?",
	"How to identify and treat rice blast disease?",
	"What are the best practices for water conservation in farming?",
	"Which crops are suitable for drought-prone areas?",
}

const aboutDescription = "Agricultural assistant powered by LLaMA 3 and SearxNG, " +
	"designed to help farmers with expert knowledge."

// Server routes chat API requests to the session registry and turn service.
type Server struct {
	registry *session.Registry
	turns    *usecase.TurnService
	logger   *slog.Logger
}

// New creates the API handler with logging and CORS middleware applied.
func New(registry *session.Registry, turns *usecase.TurnService, logger *slog.Logger) (http.Handler, error) {
	if registry == nil {
		return nil, errors.New("handler: registry must not be nil")
	}
	if turns == nil {
		return nil, errors.New("handler: turn service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{registry: registry, turns: turns, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/about", s.handleAbout)
	mux.HandleFunc("GET /api/suggestions", s.handleSuggestions)

	mux.HandleFunc("POST /api/session", s.handleSignIn)
	mux.HandleFunc("DELETE /api/session", s.handleSignOut)

	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("POST /api/chats/{id}/select", s.handleSelectChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("POST /api/chats/current/messages", s.handleSendMessage)

	mux.HandleFunc("GET /api/notices", s.handleNotices)

	return chainMiddlewares(mux, withCORS, withRequestLogging(logger)), nil
}

type signInRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type stateResponse struct {
	Chats          []domain.Chat `json:"chats"`
	CurrentChatID  string        `json:"current_chat_id,omitempty"`
	IsLoadingChats bool          `json:"is_loading_chats"`
}

type sendMessageRequest struct {
	Question string `json:"question"`
}

type sendMessageResponse struct {
	ChatID           string          `json:"chat_id"`
	UserMessage      domain.Message  `json:"user_message"`
	AssistantMessage domain.Message  `json:"assistant_message"`
	Sources          []domain.Source `json:"sources,omitempty"`
	Failed           bool            `json:"failed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"title":       "About Krish Mitra",
		"description": aboutDescription,
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestedQuestions})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		badRequest(w, "user_id is required")
		return
	}

	mgr := s.registry.SignIn(r.Context(), domain.User{ID: req.UserID, Email: req.Email})
	writeJSON(w, http.StatusOK, snapshot(mgr))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		badRequest(w, userIDHeader+" header is required")
		return
	}
	s.registry.SignOut(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(mgr))
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.manager(w, r)
	if !ok {
		return
	}
	chat := mgr.CreateNewChat()
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.manager(w, r)
	if !ok {
		return
	}
	// Unknown IDs are deliberately a no-op; the response always carries
	// the resulting selection.
	mgr.SelectChat(r.PathValue("id"))
	writeJSON(w, http.StatusOK, snapshot(mgr))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.manager(w, r)
	if !ok {
		return
	}
	mgr.DeleteChat(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, snapshot(mgr))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.manager(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	out, err := s.turns.RunTurn(r.Context(), mgr, usecase.TurnInput{Question: req.Question})
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			switch ucErr.Code {
			case usecase.ErrorInvalidInput:
				badRequest(w, ucErr.Reason)
			case usecase.ErrorNoSession:
				writeJSON(w, http.StatusConflict, errorResponse{Error: ucErr.Reason})
			default:
				internalError(w, s.logger, err)
			}
			return
		}
		internalError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		ChatID:           out.ChatID,
		UserMessage:      out.UserMessage,
		AssistantMessage: out.AssistantMessage,
		Sources:          out.Sources,
		Failed:           out.Failed,
	})
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		badRequest(w, userIDHeader+" header is required")
		return
	}
	notices := s.registry.DrainNotices(userID)
	writeJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

// manager resolves the request's session manager from the user header.
// A missing header or unknown session writes the error response itself.
func (s *Server) manager(w http.ResponseWriter, r *http.Request) (*session.Manager, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		badRequest(w, userIDHeader+" header is required")
		return nil, false
	}
	mgr, ok := s.registry.Get(userID)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no active session; sign in first"})
		return nil, false
	}
	return mgr, true
}

func snapshot(mgr *session.Manager) stateResponse {
	resp := stateResponse{
		Chats:          mgr.Chats(),
		IsLoadingChats: mgr.IsLoading(),
	}
	if current, ok := mgr.CurrentChat(); ok {
		resp.CurrentChatID = current.ID
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func internalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
