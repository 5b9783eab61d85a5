package models

import "time"

type Campaign struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Niche     string    `json:"niche" db:"niche"`
	Location  string    `json:"location" db:"location"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Lead is a read model only. Rows are written by the external scraping and
// enrichment workers; this service reads them for eligibility counts, stats
// and samples.
type Lead struct {
	ID                 string     `json:"id" db:"id"`
	CampaignID         string     `json:"campaign_id" db:"campaign_id"`
	CompanyName        string     `json:"company_name" db:"company_name"`
	Domain             *string    `json:"domain,omitempty" db:"domain"`
	CompanyWebsite     *string    `json:"company_website,omitempty" db:"company_website"`
	Email              *string    `json:"email,omitempty" db:"email"`
	Phone              *string    `json:"phone,omitempty" db:"phone"`
	DecisionMakerName  *string    `json:"decision_maker_name,omitempty" db:"decision_maker_name"`
	DecisionMakerTitle *string    `json:"decision_maker_title,omitempty" db:"decision_maker_title"`
	EmailVerified      *bool      `json:"email_verified,omitempty" db:"email_verified"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// CampaignStats aggregates per-campaign lead enrichment coverage.
type CampaignStats struct {
	CampaignID        string `json:"campaign_id"`
	TotalLeads        int    `json:"total_leads"`
	WithWebsite       int    `json:"with_website"`
	WithEmail         int    `json:"with_email"`
	WithDecisionMaker int    `json:"with_decision_maker"`
	VerifiedEmails    int    `json:"verified_emails"`
	ActiveJobs        int    `json:"active_jobs"`
}
