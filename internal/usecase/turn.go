// Package usecase runs complete question/answer turns against the
// answering service on behalf of a user's chat session.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"krishmitra/internal/domain"
	"krishmitra/internal/integrations/askapi"
	"krishmitra/internal/notify"
	"krishmitra/internal/session"
)

// Fallback assistant texts. Both travel the normal assistant append path,
// so they are persisted like any other reply.
const (
	// fallbackUnavailable substitutes the reply when the answering
	// service fails or is unreachable.
	fallbackUnavailable = "I'm having trouble connecting to my knowledge base. " +
		"Please check if the server is running and try again."

	// fallbackNoAnswer substitutes a success response with a blank answer.
	fallbackNoAnswer = "I couldn't find an answer to that. " +
		"Please try rephrasing your question."
)

// Asker is the answering-service operation consumed by TurnService.
type Asker interface {
	Ask(ctx context.Context, in askapi.AskInput) (askapi.AskOutput, error)
}

// TurnService appends a user's question to the current chat, obtains the
// assistant reply and appends it through the persistence path.
type TurnService struct {
	asker  Asker
	logger *slog.Logger

	now func() time.Time
}

// TurnInput is one question for the current chat of a user's session.
type TurnInput struct {
	Question string
}

// TurnOutput reports the appended messages and the supporting sources of
// the reply. Failed marks a turn whose reply is a substituted fallback.
type TurnOutput struct {
	ChatID           string
	UserMessage      domain.Message
	AssistantMessage domain.Message
	Sources          []domain.Source
	Failed           bool
}

// NewTurnService creates a TurnService over the given answering client.
func NewTurnService(asker Asker, logger *slog.Logger) (*TurnService, error) {
	if asker == nil {
		return nil, errors.New("usecase: asker must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnService{asker: asker, logger: logger, now: time.Now}, nil
}

// RunTurn executes one turn on the manager's current chat. The user
// message is appended before the service call; a failed or empty reply is
// replaced by the corresponding fallback text, which is still appended and
// persisted as a normal assistant message.
func (s *TurnService) RunTurn(ctx context.Context, mgr *session.Manager, in TurnInput) (TurnOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if _, ok := mgr.User(); !ok {
		return TurnOutput{}, newError(ErrorNoSession, "not_signed_in", nil)
	}
	chat, ok := mgr.CurrentChat()
	if !ok {
		return TurnOutput{}, newError(ErrorNoSession, "no_current_chat", nil)
	}

	// Snapshot the context before the question joins it; the service
	// receives the conversation as it stood when the question was asked.
	priorHistory := chat.Messages

	userMsg := domain.Message{
		Content:   question,
		IsUser:    true,
		Timestamp: s.now().Format(domain.TimestampLayout),
	}
	mgr.AddMessageToChat(ctx, userMsg)

	out, err := s.asker.Ask(ctx, askapi.AskInput{
		Question:            question,
		ConversationID:      chat.ID,
		ConversationHistory: priorHistory,
	})

	answer := out.Answer
	failed := false
	switch {
	case err != nil:
		s.logger.Error("answering service failed", "conversation_id", chat.ID, "error", err)
		mgr.Notifier().Notify(notify.Notice{
			Title:       "Error",
			Description: "Failed to get a response. Please check if the API server is running.",
			Variant:     notify.VariantDestructive,
		})
		answer = fallbackUnavailable
		failed = true
		out.Sources = nil
	case strings.TrimSpace(answer) == "":
		answer = fallbackNoAnswer
	}

	assistantMsg := domain.Message{
		Content:   answer,
		IsUser:    false,
		Timestamp: s.now().Format(domain.TimestampLayout),
	}
	mgr.AddAssistantReply(ctx, assistantMsg, out.Sources)

	return TurnOutput{
		ChatID:           chat.ID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Sources:          out.Sources,
		Failed:           failed,
	}, nil
}
