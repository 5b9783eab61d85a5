package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadninja/leadninja-api/internal/models"
)

// scriptedBackend replays a fixed sequence of turns and records every
// request it saw.
type scriptedBackend struct {
	turns    []TurnResponse
	err      error
	requests []TurnRequest
}

func (b *scriptedBackend) CreateTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	turn := len(b.requests) - 1
	if turn >= len(b.turns) {
		turn = len(b.turns) - 1
	}
	return &b.turns[turn], nil
}

type recordingDispatcher struct {
	calls   []models.ToolCall
	payload json.RawMessage
	isError bool
}

func (d *recordingDispatcher) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "list_campaigns", Parameters: json.RawMessage(`{}`)}}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, userID string, call models.ToolCall) (json.RawMessage, bool) {
	d.calls = append(d.calls, call)
	return d.payload, d.isError
}

func assistantTurn(content string, calls ...models.ToolCall) TurnResponse {
	return TurnResponse{Message: models.Message{
		Role:      models.MessageRoleAssistant,
		Content:   content,
		ToolCalls: calls,
	}}
}

func userMessage(content string) []models.Message {
	return []models.Message{{Role: models.MessageRoleUser, Content: content}}
}

func TestLoopPlainAnswer(t *testing.T) {
	backend := &scriptedBackend{turns: []TurnResponse{assistantTurn("hello")}}
	loop := NewLoop(backend, &recordingDispatcher{}, 8, time.Second, zerolog.Nop())

	result, err := loop.Run(context.Background(), "u1", userMessage("hi"))
	require.NoError(t, err)

	// system prompt + user + assistant
	require.Len(t, result.Messages, 3)
	assert.Equal(t, models.MessageRoleSystem, result.Messages[0].Role)
	assert.Equal(t, "hello", result.Messages[2].Content)
	assert.Empty(t, result.ToolLog)
	assert.Len(t, backend.requests, 1)
}

func TestLoopToolRoundTrip(t *testing.T) {
	call := models.ToolCall{ID: "call_1", Name: "list_campaigns", Arguments: json.RawMessage(`{}`)}
	backend := &scriptedBackend{turns: []TurnResponse{
		assistantTurn("", call),
		assistantTurn("you have 2 campaigns"),
	}}
	dispatcher := &recordingDispatcher{payload: json.RawMessage(`[{"id":"c1"},{"id":"c2"}]`)}
	loop := NewLoop(backend, dispatcher, 8, time.Second, zerolog.Nop())

	result, err := loop.Run(context.Background(), "u1", userMessage("what campaigns do I have?"))
	require.NoError(t, err)

	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "list_campaigns", dispatcher.calls[0].Name)

	require.Len(t, result.ToolLog, 1)
	assert.Equal(t, "call_1", result.ToolLog[0].CallID)
	assert.False(t, result.ToolLog[0].IsError)
	assert.JSONEq(t, `[{"id":"c1"},{"id":"c2"}]`, string(result.ToolLog[0].Result))

	// The tool result went back to the model as a tool-role message.
	last := result.Messages[len(result.Messages)-1]
	assert.Equal(t, "you have 2 campaigns", last.Content)
	toolMsg := result.Messages[len(result.Messages)-2]
	assert.Equal(t, models.MessageRoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
}

func TestLoopConcurrentCallsKeepOrder(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "call_a", Name: "list_campaigns", Arguments: json.RawMessage(`{}`)},
		{ID: "call_b", Name: "get_credit_balance", Arguments: json.RawMessage(`{}`)},
		{ID: "call_c", Name: "list_jobs", Arguments: json.RawMessage(`{}`)},
	}
	backend := &scriptedBackend{turns: []TurnResponse{
		assistantTurn("", calls...),
		assistantTurn("done"),
	}}
	dispatcher := &recordingDispatcher{payload: json.RawMessage(`{}`)}
	loop := NewLoop(backend, dispatcher, 8, time.Second, zerolog.Nop())

	result, err := loop.Run(context.Background(), "u1", userMessage("status please"))
	require.NoError(t, err)

	require.Len(t, result.ToolLog, 3)
	assert.Equal(t, "call_a", result.ToolLog[0].CallID)
	assert.Equal(t, "call_b", result.ToolLog[1].CallID)
	assert.Equal(t, "call_c", result.ToolLog[2].CallID)
}

func TestLoopToolErrorKeepsGoing(t *testing.T) {
	call := models.ToolCall{ID: "call_1", Name: "find_emails", Arguments: json.RawMessage(`{"campaign_id":"nope"}`)}
	backend := &scriptedBackend{turns: []TurnResponse{
		assistantTurn("", call),
		assistantTurn("that campaign does not exist"),
	}}
	dispatcher := &recordingDispatcher{payload: json.RawMessage(`{"error":"campaign not found"}`), isError: true}
	loop := NewLoop(backend, dispatcher, 8, time.Second, zerolog.Nop())

	result, err := loop.Run(context.Background(), "u1", userMessage("find emails in nope"))
	require.NoError(t, err)

	// A failing tool surfaces as an error payload to the model, not as a
	// loop error.
	require.Len(t, result.ToolLog, 1)
	assert.True(t, result.ToolLog[0].IsError)
	assert.Equal(t, "that campaign does not exist", result.Messages[len(result.Messages)-1].Content)
}

func TestLoopIterationCap(t *testing.T) {
	// A model that always wants another tool call.
	call := models.ToolCall{ID: "call_x", Name: "list_jobs", Arguments: json.RawMessage(`{}`)}
	backend := &scriptedBackend{turns: []TurnResponse{assistantTurn("", call)}}
	dispatcher := &recordingDispatcher{payload: json.RawMessage(`[]`)}
	loop := NewLoop(backend, dispatcher, 3, time.Second, zerolog.Nop())

	result, err := loop.Run(context.Background(), "u1", userMessage("go"))
	require.NoError(t, err)

	assert.Len(t, backend.requests, 3)
	assert.Len(t, result.ToolLog, 3)
	assert.Equal(t, capReachedMessage, result.Messages[len(result.Messages)-1].Content)
}

func TestLoopBackendError(t *testing.T) {
	backend := &scriptedBackend{err: errors.Wrap(ErrModelUnavailable, "status 503")}
	loop := NewLoop(backend, &recordingDispatcher{}, 8, time.Second, zerolog.Nop())

	result, err := loop.Run(context.Background(), "u1", userMessage("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	// Messages so far come back for persistence even on failure.
	require.Len(t, result.Messages, 2)
}

func TestLoopKeepsExistingSystemPrompt(t *testing.T) {
	backend := &scriptedBackend{turns: []TurnResponse{assistantTurn("ok")}}
	loop := NewLoop(backend, &recordingDispatcher{}, 8, time.Second, zerolog.Nop())

	history := []models.Message{
		{Role: models.MessageRoleSystem, Content: "custom prompt"},
		{Role: models.MessageRoleUser, Content: "hi"},
	}
	result, err := loop.Run(context.Background(), "u1", history)
	require.NoError(t, err)
	require.Len(t, result.Messages, 3)
	assert.Equal(t, "custom prompt", result.Messages[0].Content)
}

func TestLoopContinuationState(t *testing.T) {
	call := models.ToolCall{ID: "call_1", Name: "list_campaigns", Arguments: json.RawMessage(`{}`)}
	backend := &scriptedBackend{turns: []TurnResponse{
		{Message: models.Message{Role: models.MessageRoleAssistant, ToolCalls: []models.ToolCall{call}}, ResponseID: "resp_1"},
		{Message: models.Message{Role: models.MessageRoleAssistant, Content: "done"}, ResponseID: "resp_2"},
	}}
	dispatcher := &recordingDispatcher{payload: json.RawMessage(`[]`)}
	loop := NewLoop(backend, dispatcher, 8, time.Second, zerolog.Nop())

	_, err := loop.Run(context.Background(), "u1", userMessage("hi"))
	require.NoError(t, err)

	require.Len(t, backend.requests, 2)
	// First call carries the whole history; the second threads the
	// response id and only the new tool results.
	assert.Empty(t, backend.requests[0].PreviousResponseID)
	assert.Equal(t, "resp_1", backend.requests[1].PreviousResponseID)
	require.Len(t, backend.requests[1].Delta, 1)
	assert.Equal(t, models.MessageRoleTool, backend.requests[1].Delta[0].Role)
}
