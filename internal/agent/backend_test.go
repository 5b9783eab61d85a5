package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadninja/leadninja-api/internal/models"
)

func newChatBackend(serverURL string) *chatBackend {
	return &chatBackend{baseURL: serverURL, apiKey: "test-key", model: "gpt-4o", client: http.DefaultClient}
}

func newResponsesBackend(serverURL string) *responsesBackend {
	return &responsesBackend{baseURL: serverURL, apiKey: "test-key", model: "gpt-4o", client: http.DefaultClient}
}

func turnRequest(content string) TurnRequest {
	return TurnRequest{
		Messages: []models.Message{{Role: models.MessageRoleUser, Content: content}},
		Tools:    []ToolDefinition{{Name: "list_campaigns", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}
}

func TestChatBackendPlainReply(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer server.Close()

	resp, err := newChatBackend(server.URL).CreateTurn(context.Background(), turnRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, models.MessageRoleAssistant, resp.Message.Role)

	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "hi", captured.Messages[0].Content)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "list_campaigns", captured.Tools[0].Function.Name)
}

func TestChatBackendToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{
			"role":"assistant",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"find_emails","arguments":"{\"campaign_id\":\"c1\"}"}}]
		}}]}`))
	}))
	defer server.Close()

	resp, err := newChatBackend(server.URL).CreateTurn(context.Background(), turnRequest("find emails"))
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "find_emails", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"campaign_id":"c1"}`, string(resp.Message.ToolCalls[0].Arguments))
}

func TestChatBackendRateLimitIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	_, err := newChatBackend(server.URL).CreateTurn(context.Background(), turnRequest("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestChatBackendServerErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newChatBackend(server.URL).CreateTurn(context.Background(), turnRequest("hi"))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestChatBackendClientErrorIsNotRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model name"}}`))
	}))
	defer server.Close()

	_, err := newChatBackend(server.URL).CreateTurn(context.Background(), turnRequest("hi"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "bad model name")
}

func TestChatBackendEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newChatBackend(server.URL).CreateTurn(context.Background(), turnRequest("hi"))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestResponsesBackendFirstCallSendsHistory(t *testing.T) {
	var captured responsesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"id":"resp_1","output":[{"type":"message","role":"assistant","content":"hello"}]}`))
	}))
	defer server.Close()

	resp, err := newResponsesBackend(server.URL).CreateTurn(context.Background(), turnRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ResponseID)
	assert.Equal(t, "hello", resp.Message.Content)

	assert.Empty(t, captured.PreviousResponseID)
	require.Len(t, captured.Input, 1)
	assert.Equal(t, "hi", captured.Input[0].Content)
}

func TestResponsesBackendContinuationSendsDeltaOnly(t *testing.T) {
	var captured responsesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"id":"resp_2","output":[{"type":"message","role":"assistant","content":"done"}]}`))
	}))
	defer server.Close()

	req := TurnRequest{
		Messages: []models.Message{
			{Role: models.MessageRoleUser, Content: "hi"},
			{Role: models.MessageRoleAssistant, ToolCalls: []models.ToolCall{{ID: "call_1", Name: "list_jobs", Arguments: json.RawMessage(`{}`)}}},
			{Role: models.MessageRoleTool, Content: `[]`, ToolCallID: "call_1"},
		},
		Delta:              []models.Message{{Role: models.MessageRoleTool, Content: `[]`, ToolCallID: "call_1"}},
		PreviousResponseID: "resp_1",
	}

	resp, err := newResponsesBackend(server.URL).CreateTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "resp_2", resp.ResponseID)

	assert.Equal(t, "resp_1", captured.PreviousResponseID)
	require.Len(t, captured.Input, 1)
	assert.Equal(t, "function_call_output", captured.Input[0].Type)
	assert.Equal(t, "call_1", captured.Input[0].CallID)
}

func TestResponsesBackendFunctionCallOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"resp_1","output":[
			{"type":"function_call","call_id":"call_9","name":"verify_emails","arguments":"{\"campaign_id\":\"c1\"}"}
		]}`))
	}))
	defer server.Close()

	resp, err := newResponsesBackend(server.URL).CreateTurn(context.Background(), turnRequest("verify"))
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "verify_emails", resp.Message.ToolCalls[0].Name)
}

func TestNewBackendSelection(t *testing.T) {
	b, err := NewBackend("chat", "http://x", "k", "m")
	require.NoError(t, err)
	assert.IsType(t, &chatBackend{}, b)

	b, err = NewBackend("", "http://x", "k", "m")
	require.NoError(t, err)
	assert.IsType(t, &chatBackend{}, b)

	b, err = NewBackend("responses", "http://x", "k", "m")
	require.NoError(t, err)
	assert.IsType(t, &responsesBackend{}, b)

	_, err = NewBackend("telepathy", "http://x", "k", "m")
	require.Error(t, err)
}
