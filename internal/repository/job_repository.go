package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leadninja/leadninja-api/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a transition is attempted on a job
	// that already reached a terminal status.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

type JobRepository interface {
	CreateJob(job models.Job) (models.Job, error)
	GetJob(userID, jobID string) (models.Job, error)
	ListJobs(userID string, campaignID string, limit, offset int) ([]models.Job, error)
	ListActiveJobs(userID, campaignID string) ([]models.Job, error)
	CancelJob(userID, jobID string) (models.Job, error)

	// Worker-side contract. Production workers are external processes that
	// run the same statements against the same tables; these methods exist
	// so the lifecycle is exercisable end to end from this codebase.
	ClaimNextPendingJob(ctx context.Context) (*models.Job, error)
	UpdateProgress(jobID string, progress models.JobProgress) error
	CompleteJob(jobID string, result json.RawMessage) error
	FailJob(jobID string, errMsg string) error
	RecoverOrphanedJobs(ctx context.Context) (int64, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, user_id, campaign_id, type, status, config, progress, result, error, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...interface{}) error }) (models.Job, error) {
	var (
		job      models.Job
		config   []byte
		progress []byte
		result   []byte
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.CampaignID,
		&job.Type,
		&job.Status,
		&config,
		&progress,
		&result,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return job, err
	}
	if err := json.Unmarshal(config, &job.Config); err != nil {
		return job, fmt.Errorf("invalid job config: %w", err)
	}
	if len(progress) > 0 {
		var p models.JobProgress
		if err := json.Unmarshal(progress, &p); err != nil {
			return job, fmt.Errorf("invalid job progress: %w", err)
		}
		job.Progress = &p
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return job, nil
}

// CreateJob inserts a new pending job. Ownership of the referenced campaign
// is enforced in the statement itself: the insert-select yields no row when
// the campaign does not belong to the user.
func (r *jobRepository) CreateJob(job models.Job) (models.Job, error) {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return job, err
	}
	job.Status = models.JobStatusPending

	if job.CampaignID != nil {
		query := `
			INSERT INTO ninja.bulk_jobs (user_id, campaign_id, type, status, config)
			SELECT $1, c.id, $3, $4, $5
			FROM ninja.campaigns c
			WHERE c.id = $2 AND c.user_id = $1
			RETURNING id, created_at
		`
		err = r.db.QueryRow(query, job.UserID, *job.CampaignID, job.Type, job.Status, config).
			Scan(&job.ID, &job.CreatedAt)
	} else {
		query := `
			INSERT INTO ninja.bulk_jobs (user_id, type, status, config)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`
		err = r.db.QueryRow(query, job.UserID, job.Type, job.Status, config).
			Scan(&job.ID, &job.CreatedAt)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return job, ErrCampaignNotFound
		}
		return job, err
	}
	return job, nil
}

func (r *jobRepository) GetJob(userID, jobID string) (models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ninja.bulk_jobs
		WHERE id = $1 AND user_id = $2
	`
	job, err := scanJob(r.db.QueryRow(query, jobID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return job, ErrJobNotFound
		}
		return job, err
	}
	return job, nil
}

func (r *jobRepository) ListJobs(userID string, campaignID string, limit, offset int) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ninja.bulk_jobs
		WHERE user_id = $1 AND ($2 = '' OR campaign_id = $2::uuid)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(query, userID, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) ListActiveJobs(userID, campaignID string) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ninja.bulk_jobs
		WHERE user_id = $1
		  AND ($2 = '' OR campaign_id = $2::uuid)
		  AND status IN ('pending', 'running')
		ORDER BY created_at
	`
	rows, err := r.db.Query(query, userID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CancelJob marks a job cancelled. Only pending or running jobs can be
// cancelled; a job already terminal is left untouched.
func (r *jobRepository) CancelJob(userID, jobID string) (models.Job, error) {
	query := `
		UPDATE ninja.bulk_jobs
		SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'running')
		RETURNING ` + jobColumns + `
	`
	job, err := scanJob(r.db.QueryRow(query, jobID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			// Either missing or already terminal; disambiguate for the caller.
			if _, getErr := r.GetJob(userID, jobID); getErr == nil {
				return job, ErrJobTerminal
			}
			return job, ErrJobNotFound
		}
		return job, err
	}
	return job, nil
}

// ClaimNextPendingJob atomically claims the oldest pending job and flips it
// to running. SKIP LOCKED keeps concurrent workers from claiming the same row.
func (r *jobRepository) ClaimNextPendingJob(ctx context.Context) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE ninja.bulk_jobs
		SET status = 'running', started_at = now()
		WHERE id = (
			SELECT id FROM ninja.bulk_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns + `
	`
	job, err := scanJob(tx.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) UpdateProgress(jobID string, progress models.JobProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	query := `
		UPDATE ninja.bulk_jobs
		SET progress = $2
		WHERE id = $1 AND status = 'running'
	`
	_, err = r.db.Exec(query, jobID, payload)
	return err
}

func (r *jobRepository) CompleteJob(jobID string, result json.RawMessage) error {
	return r.finishJob(jobID, models.JobStatusCompleted, result, "")
}

func (r *jobRepository) FailJob(jobID string, errMsg string) error {
	return r.finishJob(jobID, models.JobStatusFailed, nil, errMsg)
}

// finishJob writes the terminal status together with exactly one of
// result/error. The status guard makes terminal states final: a late write
// against an already-terminal job affects zero rows.
func (r *jobRepository) finishJob(jobID string, status models.JobStatus, result json.RawMessage, errMsg string) error {
	query := `
		UPDATE ninja.bulk_jobs
		SET status = $2,
		    result = $3,
		    error = NULLIF($4, ''),
		    completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`
	res, err := r.db.Exec(query, jobID, status, nullableJSON(result), errMsg)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobTerminal
	}
	return nil
}

// RecoverOrphanedJobs resets running jobs back to pending. Called at worker
// startup: a job still running when no worker holds it was orphaned by a
// crash or restart.
func (r *jobRepository) RecoverOrphanedJobs(ctx context.Context) (int64, error) {
	query := `
		UPDATE ninja.bulk_jobs
		SET status = 'pending', started_at = NULL, progress = NULL
		WHERE status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
