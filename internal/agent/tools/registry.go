package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/agent"
	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
	"github.com/leadninja/leadninja-api/internal/trigger"
)

// ToolName is the closed set of capabilities exposed to the model. An
// identifier outside this set dispatches to a typed error result, never a
// silent no-op.
type ToolName string

const (
	ToolListCampaigns      ToolName = "list_campaigns"
	ToolGetCampaignStats   ToolName = "get_campaign_stats"
	ToolGetSampleLeads     ToolName = "get_sample_leads"
	ToolListJobs           ToolName = "list_jobs"
	ToolGetCreditBalance   ToolName = "get_credit_balance"
	ToolScrapeLeads        ToolName = "scrape_leads"
	ToolCleanLeads         ToolName = "clean_leads"
	ToolFindEmails         ToolName = "find_emails"
	ToolFindDecisionMakers ToolName = "find_decision_makers"
	ToolVerifyEmails       ToolName = "verify_emails"
)

// jobTypeByTool maps each mutating tool to the pipeline step it triggers.
var jobTypeByTool = map[ToolName]models.JobType{
	ToolScrapeLeads:        models.JobTypeScrapeMaps,
	ToolCleanLeads:         models.JobTypeCleanLeads,
	ToolFindEmails:         models.JobTypeFindEmails,
	ToolFindDecisionMakers: models.JobTypeFindDecisionMakers,
	ToolVerifyEmails:       models.JobTypeVerifyEmails,
}

type handlerFunc func(ctx context.Context, userID string, args json.RawMessage) (interface{}, error)

type tool struct {
	definition agent.ToolDefinition
	handler    handlerFunc
}

// Registry maps tool names to their parameter schemas and handlers.
// Mutating handlers go through the same trigger gateway as direct API
// calls; read-only handlers never write anything.
type Registry struct {
	tools  map[ToolName]tool
	order  []ToolName
	logger zerolog.Logger
}

func NewRegistry(gateway *trigger.Gateway, campaigns repository.CampaignRepository, jobs repository.JobRepository, ledger *credits.Service, logger zerolog.Logger) *Registry {
	r := &Registry{
		tools:  make(map[ToolName]tool),
		logger: logger.With().Str("component", "tool_registry").Logger(),
	}
	r.registerReadTools(campaigns, jobs, ledger)
	r.registerTriggerTools(gateway)
	return r
}

func (r *Registry) register(name ToolName, description string, schema string, handler handlerFunc) {
	r.tools[name] = tool{
		definition: agent.ToolDefinition{
			Name:        string(name),
			Description: description,
			Parameters:  json.RawMessage(schema),
		},
		handler: handler,
	}
	r.order = append(r.order, name)
}

// Definitions returns the catalog shown to the model, in registration order.
func (r *Registry) Definitions() []agent.ToolDefinition {
	defs := make([]agent.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].definition)
	}
	return defs
}

// Dispatch runs one tool call and returns the serialized result. A handler
// failure is serialized as an error payload inside the result so the model
// can react to it; it never aborts the conversation.
func (r *Registry) Dispatch(ctx context.Context, userID string, call models.ToolCall) (json.RawMessage, bool) {
	t, ok := r.tools[ToolName(call.Name)]
	if !ok {
		r.logger.Warn().Str("tool", call.Name).Msg("unknown tool requested")
		return errorPayload(fmt.Sprintf("unknown tool: %s", call.Name)), true
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	result, err := t.handler(ctx, userID, args)
	if err != nil {
		r.logger.Warn().Err(err).Str("tool", call.Name).Msg("tool handler failed")
		return errorPayload(err.Error()), true
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return errorPayload("failed to serialize tool result"), true
	}
	return payload, false
}

func errorPayload(msg string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return payload
}
