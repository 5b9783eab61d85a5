package models

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeScrapeMaps         JobType = "scrape_maps"
	JobTypeCleanLeads         JobType = "clean_leads"
	JobTypeFindEmails         JobType = "find_emails"
	JobTypeFindDecisionMakers JobType = "find_decision_makers"
	JobTypeVerifyEmails       JobType = "verify_emails"
)

// KnownJobTypes lists every job type a worker can execute, in pipeline order.
var KnownJobTypes = []JobType{
	JobTypeScrapeMaps,
	JobTypeCleanLeads,
	JobTypeFindEmails,
	JobTypeFindDecisionMakers,
	JobTypeVerifyEmails,
}

func IsValidJobType(t JobType) bool {
	for _, known := range KnownJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a status is final. Completed, failed and
// cancelled are equally terminal; no transition leaves any of them.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobConfig holds the immutable input parameters captured when a job is
// created. EligibleUnits, EstimatedCost and CreditsCharged are stamped by the
// trigger gateway for auditability; workers treat the whole struct as read-only.
type JobConfig struct {
	MaxLeads        int             `json:"max_leads,omitempty"`
	IncludeExisting bool            `json:"include_existing,omitempty"`
	Query           string          `json:"query,omitempty"`
	Location        string          `json:"location,omitempty"`
	EligibleUnits   int             `json:"eligible_units"`
	EstimatedCost   int             `json:"estimated_cost"`
	CreditsCharged  bool            `json:"credits_charged"`
	BYOK            bool            `json:"byok"`
	Extra           json.RawMessage `json:"extra,omitempty"`
}

// JobProgress is written by the external worker while a job runs. Counters
// are informative only; there is no ordering guarantee across fields and
// callers must tolerate partial updates.
type JobProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Found     int `json:"found,omitempty"`
	Enriched  int `json:"enriched,omitempty"`
}

type Job struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	CampaignID  *string         `json:"campaign_id,omitempty" db:"campaign_id"`
	Type        JobType         `json:"type" db:"type"`
	Status      JobStatus       `json:"status" db:"status"`
	Config      JobConfig       `json:"config" db:"config"`
	Progress    *JobProgress    `json:"progress,omitempty" db:"progress"`
	Result      json.RawMessage `json:"result,omitempty" db:"result"`
	Error       *string         `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
