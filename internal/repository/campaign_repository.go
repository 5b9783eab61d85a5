package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadninja/leadninja-api/internal/models"
)

var ErrCampaignNotFound = errors.New("campaign not found")

type CampaignRepository interface {
	GetCampaign(userID, campaignID string) (models.Campaign, error)
	ListCampaigns(userID string) ([]models.Campaign, error)
	GetCampaignStats(userID, campaignID string) (models.CampaignStats, error)
	SampleLeads(userID, campaignID string, limit int) ([]models.Lead, error)

	// CountEligibleLeads returns the number of leads the given job type
	// would actually process, applying the type's needs-processing filter
	// unless includeExisting is set. The result is not clamped; clamping by
	// max_leads happens in the trigger gateway.
	CountEligibleLeads(userID, campaignID string, jobType models.JobType, includeExisting bool) (int, error)
}

type campaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) GetCampaign(userID, campaignID string) (models.Campaign, error) {
	var c models.Campaign
	query := `
		SELECT id, user_id, name, niche, location, status, created_at, updated_at
		FROM ninja.campaigns
		WHERE id = $1 AND user_id = $2
	`
	err := r.db.QueryRow(query, campaignID, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Niche, &c.Location, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return c, ErrCampaignNotFound
		}
		return c, err
	}
	return c, nil
}

func (r *campaignRepository) ListCampaigns(userID string) ([]models.Campaign, error) {
	query := `
		SELECT id, user_id, name, niche, location, status, created_at, updated_at
		FROM ninja.campaigns
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Niche, &c.Location, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *campaignRepository) GetCampaignStats(userID, campaignID string) (models.CampaignStats, error) {
	stats := models.CampaignStats{CampaignID: campaignID}

	// Ownership check first so a foreign campaign reads as not-found rather
	// than as an empty campaign.
	if _, err := r.GetCampaign(userID, campaignID); err != nil {
		return stats, err
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM((company_website IS NOT NULL OR domain IS NOT NULL)::int), 0),
			COALESCE(SUM((email IS NOT NULL)::int), 0),
			COALESCE(SUM((decision_maker_name IS NOT NULL)::int), 0),
			COALESCE(SUM((email_verified IS TRUE)::int), 0)
		FROM ninja.leads
		WHERE campaign_id = $1
	`
	err := r.db.QueryRow(query, campaignID).Scan(
		&stats.TotalLeads, &stats.WithWebsite, &stats.WithEmail, &stats.WithDecisionMaker, &stats.VerifiedEmails,
	)
	if err != nil {
		return stats, fmt.Errorf("campaign stats query error: %w", err)
	}

	const activeQuery = `
		SELECT COUNT(*) FROM ninja.bulk_jobs
		WHERE campaign_id = $1 AND status IN ('pending', 'running')
	`
	if err := r.db.QueryRow(activeQuery, campaignID).Scan(&stats.ActiveJobs); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *campaignRepository) SampleLeads(userID, campaignID string, limit int) ([]models.Lead, error) {
	if _, err := r.GetCampaign(userID, campaignID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, campaign_id, company_name, domain, company_website, email, phone,
		       decision_maker_name, decision_maker_title, email_verified, created_at, updated_at
		FROM ninja.leads
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]models.Lead, 0, limit)
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(
			&l.ID, &l.CampaignID, &l.CompanyName, &l.Domain, &l.CompanyWebsite, &l.Email, &l.Phone,
			&l.DecisionMakerName, &l.DecisionMakerTitle, &l.EmailVerified, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// Per-type needs-processing filters. Each type's filter is independent: a
// lead excluded from one type's count still counts for every other type.
var eligibilityFilters = map[models.JobType]string{
	models.JobTypeCleanLeads:         `(enrichment_status ->> 'website_validated') IS NULL`,
	models.JobTypeFindEmails:         `email IS NULL AND (company_website IS NOT NULL OR domain IS NOT NULL)`,
	models.JobTypeFindDecisionMakers: `decision_maker_name IS NULL AND (company_website IS NOT NULL OR domain IS NOT NULL)`,
	models.JobTypeVerifyEmails:       `email IS NOT NULL AND email_verified IS NULL`,
}

func (r *campaignRepository) CountEligibleLeads(userID, campaignID string, jobType models.JobType, includeExisting bool) (int, error) {
	if _, err := r.GetCampaign(userID, campaignID); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM ninja.leads WHERE campaign_id = $1`
	if filter, ok := eligibilityFilters[jobType]; ok && !includeExisting {
		query += ` AND ` + filter
	}

	var count int
	if err := r.db.QueryRow(query, campaignID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
