package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/models"
)

const systemPrompt = `You are the Lead Ninja assistant. You help users run their lead
enrichment pipeline: scraping leads, cleaning them, finding emails and
decision makers, and verifying emails.

Rules you must always follow:
- Before starting any job that costs credits, call the tool once with
  dry_run=true, show the user the eligible lead count and estimated cost,
  and wait for their explicit confirmation before calling it again without
  dry_run.
- Never start a paid job the user has not confirmed in this conversation.
- When a tool reports insufficient_credits, tell the user their balance and
  how many credits the job needs; do not retry.
- Use the read-only tools freely to answer questions about campaigns,
  leads, jobs and credits.`

const capReachedMessage = "I had to stop before finishing: the request needed more tool calls than allowed in one conversation turn. Here is what I completed so far; please ask me to continue."

// ToolDispatcher executes tool calls on behalf of the loop. The boolean
// result marks an error payload; the loop records it but keeps going.
type ToolDispatcher interface {
	Definitions() []ToolDefinition
	Dispatch(ctx context.Context, userID string, call models.ToolCall) (json.RawMessage, bool)
}

// Result is the whole reconstructed conversation plus the audit trail of
// every tool invocation, so callers never infer what happened from the
// final message alone.
type Result struct {
	Messages []models.Message      `json:"messages"`
	ToolLog  []models.ToolLogEntry `json:"tool_log"`
}

// Loop drives the multi-turn tool-calling conversation. It is sequential
// per conversation; independent conversations share nothing but the
// gateway and ledger, which serialize on their own.
type Loop struct {
	backend       Backend
	dispatcher    ToolDispatcher
	maxIterations int
	callTimeout   time.Duration
	logger        zerolog.Logger
}

func NewLoop(backend Backend, dispatcher ToolDispatcher, maxIterations int, callTimeout time.Duration, logger zerolog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = 8
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Loop{
		backend:       backend,
		dispatcher:    dispatcher,
		maxIterations: maxIterations,
		callTimeout:   callTimeout,
		logger:        logger.With().Str("component", "agent_loop").Logger(),
	}
}

// Run feeds the model the tool catalog and repeats until it answers
// without tool calls or the iteration cap is hit. Hitting the cap
// terminates with a best-effort final message, never an error.
func (l *Loop) Run(ctx context.Context, userID string, history []models.Message) (Result, error) {
	messages := make([]models.Message, 0, len(history)+1)
	if len(history) == 0 || history[0].Role != models.MessageRoleSystem {
		messages = append(messages, models.Message{Role: models.MessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history...)

	result := Result{}
	tools := l.dispatcher.Definitions()

	// delta tracks messages appended since the previous backend call, for
	// continuation-style backends; previousResponseID threads their state.
	delta := messages
	previousResponseID := ""

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
		resp, err := l.backend.CreateTurn(callCtx, TurnRequest{
			Messages:           messages,
			Delta:              delta,
			Tools:              tools,
			PreviousResponseID: previousResponseID,
		})
		cancel()
		if err != nil {
			result.Messages = messages
			return result, errors.Wrap(err, "model call failed")
		}

		messages = append(messages, resp.Message)
		delta = nil
		previousResponseID = resp.ResponseID

		if len(resp.Message.ToolCalls) == 0 {
			result.Messages = messages
			return result, nil
		}

		toolMessages, entries := l.dispatchAll(ctx, userID, resp.Message.ToolCalls)
		messages = append(messages, toolMessages...)
		delta = toolMessages
		result.ToolLog = append(result.ToolLog, entries...)
	}

	l.logger.Warn().
		Str("user_id", userID).
		Int("max_iterations", l.maxIterations).
		Msg("iteration cap reached")
	messages = append(messages, models.Message{Role: models.MessageRoleAssistant, Content: capReachedMessage})
	result.Messages = messages
	return result, nil
}

// dispatchAll executes every tool call from one model turn. Calls within a
// turn are independent, so they run concurrently; results keep the model's
// call order.
func (l *Loop) dispatchAll(ctx context.Context, userID string, calls []models.ToolCall) ([]models.Message, []models.ToolLogEntry) {
	toolMessages := make([]models.Message, len(calls))
	entries := make([]models.ToolLogEntry, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			start := time.Now()
			payload, isErr := l.dispatcher.Dispatch(ctx, userID, call)

			toolMessages[i] = models.Message{
				Role:       models.MessageRoleTool,
				Content:    string(payload),
				ToolCallID: call.ID,
			}
			entries[i] = models.ToolLogEntry{
				CallID:     call.ID,
				Name:       call.Name,
				Arguments:  call.Arguments,
				Result:     payload,
				IsError:    isErr,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}(i, call)
	}
	wg.Wait()

	return toolMessages, entries
}
