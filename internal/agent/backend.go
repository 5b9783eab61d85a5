package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/leadninja/leadninja-api/internal/models"
)

// ErrModelUnavailable classifies a failed call to the underlying model
// provider (quota, rate limit, transport). It aborts the current turn and
// the caller may retry the whole request.
var ErrModelUnavailable = errors.New("model provider unavailable")

// ToolDefinition is the schema-described capability catalog entry shown to
// the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// TurnRequest carries one model call. Messages always holds the complete
// conversation; Delta holds only the messages appended since the previous
// call in this loop run. Stateless backends read Messages, continuation
// backends read Delta plus PreviousResponseID.
type TurnRequest struct {
	Messages           []models.Message
	Delta              []models.Message
	Tools              []ToolDefinition
	PreviousResponseID string
}

// TurnResponse is the model's reply: an assistant message that either
// carries tool calls (the loop dispatches them and goes around again) or
// plain content (the loop ends). ResponseID is set by continuation
// backends and threaded back on the next call.
type TurnResponse struct {
	Message    models.Message
	ResponseID string
}

// Backend abstracts the model calling convention so the loop never needs
// to know which shape is in effect.
type Backend interface {
	CreateTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error)
}

// NewBackend selects the implementation by configured convention name.
func NewBackend(kind, baseURL, apiKey, model string) (Backend, error) {
	httpClient := &http.Client{Timeout: 90 * time.Second}
	switch kind {
	case "chat", "":
		return &chatBackend{baseURL: baseURL, apiKey: apiKey, model: model, client: httpClient}, nil
	case "responses":
		return &responsesBackend{baseURL: baseURL, apiKey: apiKey, model: model, client: httpClient}, nil
	default:
		return nil, errors.New("unknown agent backend: " + kind)
	}
}
