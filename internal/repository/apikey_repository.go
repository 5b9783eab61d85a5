package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/leadninja/leadninja-api/internal/models"
)

// APIKeyRepository is the BYOK credential store as seen by the metering
// path: existence checks only. Key material is written at signup-settings
// time and read exclusively by the external workers.
type APIKeyRepository interface {
	// HasAllKeys reports whether the user holds a credential for every one
	// of the given services.
	HasAllKeys(ctx context.Context, userID string, services []string) (bool, error)
	ListServices(ctx context.Context, userID string) ([]string, error)
	SaveKey(ctx context.Context, userID, service, encryptedKey string) error
	DeleteKey(ctx context.Context, userID, service string) error
	ListKeys(ctx context.Context, userID string) ([]models.APIKey, error)
}

type apiKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) HasAllKeys(ctx context.Context, userID string, services []string) (bool, error) {
	if len(services) == 0 {
		return true, nil
	}
	query := `
		SELECT COUNT(DISTINCT service)
		FROM ninja.user_api_keys
		WHERE user_id = $1 AND service = ANY($2)
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, pq.Array(services)).Scan(&count); err != nil {
		return false, err
	}
	return count == len(services), nil
}

func (r *apiKeyRepository) ListServices(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT service FROM ninja.user_api_keys WHERE user_id = $1 ORDER BY service`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r *apiKeyRepository) SaveKey(ctx context.Context, userID, service, encryptedKey string) error {
	query := `
		INSERT INTO ninja.user_api_keys (user_id, service, encrypted_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, service) DO UPDATE SET encrypted_key = EXCLUDED.encrypted_key
	`
	_, err := r.db.ExecContext(ctx, query, userID, service, encryptedKey)
	return err
}

func (r *apiKeyRepository) DeleteKey(ctx context.Context, userID, service string) error {
	query := `DELETE FROM ninja.user_api_keys WHERE user_id = $1 AND service = $2`
	_, err := r.db.ExecContext(ctx, query, userID, service)
	return err
}

func (r *apiKeyRepository) ListKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	query := `SELECT user_id, service, created_at FROM ninja.user_api_keys WHERE user_id = $1 ORDER BY service`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.UserID, &k.Service, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
