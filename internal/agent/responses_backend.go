package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/leadninja/leadninja-api/internal/models"
)

// responsesBackend speaks the stateful responses wire format: after the
// first call only the new items are sent, chained to the prior response by
// previous_response_id.
type responsesBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type responsesItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type responsesRequest struct {
	Model              string          `json:"model"`
	Input              []responsesItem `json:"input"`
	Tools              []responsesTool `json:"tools,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
}

type responsesResponse struct {
	ID     string          `json:"id"`
	Output []responsesItem `json:"output"`
}

func (b *responsesBackend) CreateTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	payload := responsesRequest{
		Model:              b.model,
		PreviousResponseID: req.PreviousResponseID,
	}

	// On a continuation only the delta travels; the provider holds the rest.
	input := req.Messages
	if req.PreviousResponseID != "" {
		input = req.Delta
	}
	for _, msg := range input {
		payload.Input = append(payload.Input, toResponsesItems(msg)...)
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, responsesTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	body, err := postJSON(ctx, b.client, b.baseURL+"/responses", b.apiKey, payload)
	if err != nil {
		return nil, err
	}

	var resp responsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode responses payload: %w", err)
	}

	msg := models.Message{Role: models.MessageRoleAssistant}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			msg.Content = item.Content
		case "function_call":
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: json.RawMessage(item.Arguments),
			})
		}
	}

	return &TurnResponse{Message: msg, ResponseID: resp.ID}, nil
}

func toResponsesItems(msg models.Message) []responsesItem {
	switch msg.Role {
	case models.MessageRoleTool:
		return []responsesItem{{
			Type:   "function_call_output",
			CallID: msg.ToolCallID,
			Output: msg.Content,
		}}
	case models.MessageRoleAssistant:
		items := make([]responsesItem, 0, 1+len(msg.ToolCalls))
		if msg.Content != "" {
			items = append(items, responsesItem{Type: "message", Role: string(msg.Role), Content: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			items = append(items, responsesItem{
				Type:      "function_call",
				CallID:    call.ID,
				Name:      call.Name,
				Arguments: string(call.Arguments),
			})
		}
		return items
	default:
		return []responsesItem{{Type: "message", Role: string(msg.Role), Content: msg.Content}}
	}
}
