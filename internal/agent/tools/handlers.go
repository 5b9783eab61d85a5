package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/repository"
	"github.com/leadninja/leadninja-api/internal/trigger"
)

type campaignArgs struct {
	CampaignID string `json:"campaign_id"`
}

type sampleLeadsArgs struct {
	CampaignID string `json:"campaign_id"`
	Limit      int    `json:"limit"`
}

type listJobsArgs struct {
	CampaignID string `json:"campaign_id"`
	Limit      int    `json:"limit"`
}

// triggerArgs is the shared parameter shape of every mutating tool. DryRun
// routes to the gateway's preview path; nothing is created or charged.
type triggerArgs struct {
	CampaignID      string `json:"campaign_id"`
	MaxLeads        int    `json:"max_leads"`
	IncludeExisting bool   `json:"include_existing"`
	Query           string `json:"query"`
	Location        string `json:"location"`
	DryRun          bool   `json:"dry_run"`
}

func (r *Registry) registerReadTools(campaigns repository.CampaignRepository, jobs repository.JobRepository, ledger *credits.Service) {
	r.register(ToolListCampaigns,
		"List the user's lead campaigns.",
		`{"type":"object","properties":{}}`,
		func(ctx context.Context, userID string, _ json.RawMessage) (interface{}, error) {
			return campaigns.ListCampaigns(userID)
		})

	r.register(ToolGetCampaignStats,
		"Get lead counts and enrichment coverage for a campaign.",
		`{"type":"object","properties":{"campaign_id":{"type":"string"}},"required":["campaign_id"]}`,
		func(ctx context.Context, userID string, raw json.RawMessage) (interface{}, error) {
			var args campaignArgs
			if err := parseArgs(raw, &args); err != nil {
				return nil, err
			}
			return campaigns.GetCampaignStats(userID, args.CampaignID)
		})

	r.register(ToolGetSampleLeads,
		"Fetch a small sample of a campaign's leads for inspection.",
		`{"type":"object","properties":{"campaign_id":{"type":"string"},"limit":{"type":"integer","default":5}},"required":["campaign_id"]}`,
		func(ctx context.Context, userID string, raw json.RawMessage) (interface{}, error) {
			var args sampleLeadsArgs
			if err := parseArgs(raw, &args); err != nil {
				return nil, err
			}
			if args.Limit <= 0 || args.Limit > 25 {
				args.Limit = 5
			}
			return campaigns.SampleLeads(userID, args.CampaignID, args.Limit)
		})

	r.register(ToolListJobs,
		"List recent pipeline jobs, optionally scoped to one campaign.",
		`{"type":"object","properties":{"campaign_id":{"type":"string"},"limit":{"type":"integer","default":10}}}`,
		func(ctx context.Context, userID string, raw json.RawMessage) (interface{}, error) {
			var args listJobsArgs
			if err := parseArgs(raw, &args); err != nil {
				return nil, err
			}
			if args.Limit <= 0 || args.Limit > 50 {
				args.Limit = 10
			}
			return jobs.ListJobs(userID, args.CampaignID, args.Limit, 0)
		})

	r.register(ToolGetCreditBalance,
		"Get the user's current credit balance and period usage.",
		`{"type":"object","properties":{}}`,
		func(ctx context.Context, userID string, _ json.RawMessage) (interface{}, error) {
			return ledger.Balance(ctx, userID)
		})
}

func (r *Registry) registerTriggerTools(gateway *trigger.Gateway) {
	descriptions := map[ToolName]string{
		ToolScrapeLeads:        "Scrape new business leads from Google Maps for a niche and location.",
		ToolCleanLeads:         "Clean and validate a campaign's leads (website checks, dedup).",
		ToolFindEmails:         "Find contact emails for a campaign's leads that lack one.",
		ToolFindDecisionMakers: "Find owner/founder/CEO names for a campaign's leads.",
		ToolVerifyEmails:       "Verify deliverability of the campaign's found emails.",
	}

	const triggerSchema = `{
		"type": "object",
		"properties": {
			"campaign_id": {"type": "string"},
			"max_leads": {"type": "integer", "default": 100},
			"include_existing": {"type": "boolean", "default": false},
			"query": {"type": "string"},
			"location": {"type": "string"},
			"dry_run": {"type": "boolean", "description": "Preview eligibility and cost without starting the job."}
		},
		"required": ["campaign_id"]
	}`

	ordered := []ToolName{ToolScrapeLeads, ToolCleanLeads, ToolFindEmails, ToolFindDecisionMakers, ToolVerifyEmails}
	for _, name := range ordered {
		jobType := jobTypeByTool[name]
		r.register(name, descriptions[name], triggerSchema,
			func(ctx context.Context, userID string, raw json.RawMessage) (interface{}, error) {
				var args triggerArgs
				if err := parseArgs(raw, &args); err != nil {
					return nil, err
				}

				req := trigger.Request{
					CampaignID:      args.CampaignID,
					Type:            jobType,
					MaxLeads:        args.MaxLeads,
					IncludeExisting: args.IncludeExisting,
					Query:           args.Query,
					Location:        args.Location,
				}

				if args.DryRun {
					est, err := gateway.Preview(ctx, userID, req)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"dry_run": true, "estimate": est}, nil
				}

				job, est, err := gateway.Trigger(ctx, userID, req)
				if err != nil {
					var insufficientErr *credits.ErrInsufficientCredits
					if errors.As(err, &insufficientErr) {
						// Structured so the model can explain the shortfall.
						return map[string]interface{}{
							"error":   "insufficient_credits",
							"balance": insufficientErr.Balance,
							"needed":  insufficientErr.Needed,
						}, nil
					}
					return nil, err
				}
				return map[string]interface{}{"job": job, "estimate": est}, nil
			})
	}
}

func parseArgs(raw json.RawMessage, into interface{}) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("invalid tool arguments: %v", err)
	}
	return nil
}
