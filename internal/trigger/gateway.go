package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
)

var (
	ErrInvalidJobType = errors.New("unknown job type")
	// ErrNoEligibleLeads means the needs-processing filter matched nothing;
	// no job is created and nothing is charged.
	ErrNoEligibleLeads = errors.New("no eligible leads to process")
	ErrMissingCampaign = errors.New("campaign_id is required for this job type")
)

const defaultMaxLeads = 100

// creditCostPerUnit is the platform price per eligible unit, by job type.
// Decision-maker finding costs double: it burns two upstream services.
var creditCostPerUnit = map[models.JobType]int{
	models.JobTypeScrapeMaps:         1,
	models.JobTypeCleanLeads:         0,
	models.JobTypeFindEmails:         1,
	models.JobTypeFindDecisionMakers: 2,
	models.JobTypeVerifyEmails:       1,
}

// Request describes one step trigger, whether it arrives from the HTTP API
// or from an agent tool call.
type Request struct {
	CampaignID      string
	Type            models.JobType
	MaxLeads        int
	IncludeExisting bool
	Query           string
	Location        string
	Extra           json.RawMessage
}

// Estimate is the eligibility/cost computation shared by preview and
// execute. Preview returns it alone; execute stamps it into the job config.
type Estimate struct {
	Type          models.JobType `json:"type"`
	EligibleUnits int            `json:"eligible_units"`
	CostPerUnit   int            `json:"cost_per_unit"`
	EstimatedCost int            `json:"estimated_cost"`
	BYOK          bool           `json:"byok"`
	Charged       bool           `json:"charged"`
}

// Gateway is the single code path for starting a paid pipeline step. Both
// the HTTP handlers and the agent tools go through it; there is no other
// way to insert a job or debit the ledger for one.
type Gateway struct {
	jobs      repository.JobRepository
	campaigns repository.CampaignRepository
	ledger    *credits.Service
	byok      *credits.BYOKResolver
	logger    zerolog.Logger
}

func NewGateway(jobs repository.JobRepository, campaigns repository.CampaignRepository, ledger *credits.Service, byok *credits.BYOKResolver, logger zerolog.Logger) *Gateway {
	return &Gateway{
		jobs:      jobs,
		campaigns: campaigns,
		ledger:    ledger,
		byok:      byok,
		logger:    logger.With().Str("component", "trigger").Logger(),
	}
}

// Preview computes the same eligibility and cost the real trigger would
// use, without inserting a job or touching the ledger. Safe to call any
// number of times.
func (g *Gateway) Preview(ctx context.Context, userID string, req Request) (Estimate, error) {
	return g.estimate(ctx, userID, req)
}

// Trigger validates, costs, debits and enqueues. On an insufficient
// balance the typed error from the ledger is returned and no job row
// exists; the debit and the insert are ordered so that a failed insert
// after a successful debit is the only window, and it is closed by
// refunding inside the error path.
func (g *Gateway) Trigger(ctx context.Context, userID string, req Request) (models.Job, Estimate, error) {
	est, err := g.estimate(ctx, userID, req)
	if err != nil {
		return models.Job{}, est, err
	}
	if est.EligibleUnits == 0 {
		return models.Job{}, est, ErrNoEligibleLeads
	}

	if est.Charged {
		description := fmt.Sprintf("%s: %d units", req.Type, est.EligibleUnits)
		if _, err := g.ledger.CheckAndDeduct(ctx, userID, est.EstimatedCost, description); err != nil {
			return models.Job{}, est, err
		}
	}

	job := models.Job{
		UserID: userID,
		Type:   req.Type,
		Config: models.JobConfig{
			MaxLeads:        req.MaxLeads,
			IncludeExisting: req.IncludeExisting,
			Query:           req.Query,
			Location:        req.Location,
			EligibleUnits:   est.EligibleUnits,
			EstimatedCost:   est.EstimatedCost,
			CreditsCharged:  est.Charged,
			BYOK:            est.BYOK,
			Extra:           req.Extra,
		},
	}
	if req.CampaignID != "" {
		job.CampaignID = &req.CampaignID
	}

	created, err := g.jobs.CreateJob(job)
	if err != nil {
		if est.Charged {
			// The debit landed but the insert did not; put the credits back.
			if _, refundErr := g.ledger.Add(ctx, userID, est.EstimatedCost, models.TransactionTypeRefund,
				fmt.Sprintf("refund: %s enqueue failed", req.Type), nil); refundErr != nil {
				g.logger.Error().Err(refundErr).
					Str("user_id", userID).
					Int("amount", est.EstimatedCost).
					Msg("refund after failed enqueue also failed")
			}
		}
		return models.Job{}, est, errors.Wrap(err, "failed to enqueue job")
	}

	g.logger.Info().
		Str("user_id", userID).
		Str("job_id", created.ID).
		Str("type", string(req.Type)).
		Int("eligible_units", est.EligibleUnits).
		Bool("charged", est.Charged).
		Msg("job triggered")
	return created, est, nil
}

func (g *Gateway) estimate(ctx context.Context, userID string, req Request) (Estimate, error) {
	if !models.IsValidJobType(req.Type) {
		return Estimate{}, ErrInvalidJobType
	}
	// A malformed id can never match a row; reject it before it reaches a
	// uuid cast in SQL.
	if req.CampaignID != "" {
		if _, err := uuid.Parse(req.CampaignID); err != nil {
			return Estimate{}, repository.ErrCampaignNotFound
		}
	}

	maxLeads := req.MaxLeads
	if maxLeads <= 0 {
		maxLeads = defaultMaxLeads
	}

	var units int
	switch req.Type {
	case models.JobTypeScrapeMaps:
		// Scraping creates new records; the workload is the request size.
		// A campaign reference is still validated when present.
		if req.CampaignID != "" {
			if _, err := g.campaigns.GetCampaign(userID, req.CampaignID); err != nil {
				return Estimate{}, err
			}
		}
		units = maxLeads
	default:
		if req.CampaignID == "" {
			return Estimate{}, ErrMissingCampaign
		}
		eligible, err := g.campaigns.CountEligibleLeads(userID, req.CampaignID, req.Type, req.IncludeExisting)
		if err != nil {
			return Estimate{}, err
		}
		units = eligible
		if units > maxLeads {
			units = maxLeads
		}
	}

	est := Estimate{
		Type:          req.Type,
		EligibleUnits: units,
		CostPerUnit:   creditCostPerUnit[req.Type],
	}
	est.EstimatedCost = est.EligibleUnits * est.CostPerUnit

	if est.EstimatedCost == 0 {
		return est, nil
	}

	est.BYOK = g.byok.IsBYOK(ctx, userID, req.Type)
	est.Charged = !est.BYOK && g.ledger.Enabled()
	return est, nil
}
