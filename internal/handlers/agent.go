package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/agent"
	"github.com/leadninja/leadninja-api/internal/authz"
	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
)

type AgentHandler struct {
	loop          *agent.Loop
	conversations repository.ConversationRepository
	logger        zerolog.Logger
}

func NewAgentHandler(loop *agent.Loop, conversations repository.ConversationRepository, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		loop:          loop,
		conversations: conversations,
		logger:        logger,
	}
}

// Chat runs one agent turn. Callers either continue a stored conversation
// by sending message (plus conversation_id after the first turn), or manage
// history themselves by sending the full messages list. The response always
// carries the reconstructed messages and the tool log, so clients never have
// to infer what happened from the final message alone.
func (h *AgentHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload struct {
		ConversationID string           `json:"conversation_id"`
		Message        string           `json:"message"`
		Messages       []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Message) == "" && len(payload.Messages) == 0 {
		http.Error(w, "message or messages is required", http.StatusBadRequest)
		return
	}

	var conv models.Conversation
	var err error
	if payload.ConversationID != "" {
		conv, err = h.conversations.Get(r.Context(), userID, payload.ConversationID)
		if err != nil {
			if errors.Is(err, repository.ErrConversationNotFound) {
				http.Error(w, "Conversation not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		conv, err = h.conversations.Create(r.Context(), models.Conversation{
			UserID: userID,
			Title:  conversationTitle(payload.Message, payload.Messages),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	// A caller-supplied messages list replaces the stored history for this
	// turn; the loop's result is persisted over it either way.
	history := conv.Messages
	if len(payload.Messages) > 0 {
		history = payload.Messages
	}
	if strings.TrimSpace(payload.Message) != "" {
		history = append(history, models.Message{
			Role:    models.MessageRoleUser,
			Content: payload.Message,
		})
	}

	result, runErr := h.loop.Run(r.Context(), userID, history)
	if len(result.Messages) > 0 {
		conv.Messages = result.Messages
		conv.ToolLog = append(conv.ToolLog, result.ToolLog...)
		if err := h.conversations.Update(r.Context(), userID, conv.ID, conv.Messages, conv.ToolLog); err != nil {
			h.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to persist conversation")
		}
	}
	if runErr != nil {
		if errors.Is(runErr, agent.ErrModelUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":           "model_unavailable",
				"conversation_id": conv.ID,
				"retriable":       true,
			})
			return
		}
		http.Error(w, runErr.Error(), http.StatusInternalServerError)
		return
	}

	var reply string
	for i := len(result.Messages) - 1; i >= 0; i-- {
		if result.Messages[i].Role == models.MessageRoleAssistant && result.Messages[i].Content != "" {
			reply = result.Messages[i].Content
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conv.ID,
		"messages":        result.Messages,
		"reply":           reply,
		"tool_log":        result.ToolLog,
	})
}

func (h *AgentHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conv, err := h.conversations.Get(r.Context(), userID, mux.Vars(r)["conversationID"])
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *AgentHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.conversations.List(r.Context(), userID, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

const maxTitleBytes = 80

// conversationTitle derives a title from the first user message, truncated
// on a rune boundary so multibyte text stays valid UTF-8.
func conversationTitle(message string, history []models.Message) string {
	title := strings.TrimSpace(message)
	if title == "" {
		for _, m := range history {
			if m.Role == models.MessageRoleUser && strings.TrimSpace(m.Content) != "" {
				title = strings.TrimSpace(m.Content)
				break
			}
		}
	}
	if len(title) > maxTitleBytes {
		cut := maxTitleBytes
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	return title
}
