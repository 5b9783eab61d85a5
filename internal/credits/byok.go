package credits

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
)

// requiredServices maps each job type to the external paid services its
// worker calls. A type mapped to nothing is always free.
var requiredServices = map[models.JobType][]string{
	models.JobTypeScrapeMaps:         {"outscraper"},
	models.JobTypeCleanLeads:         {},
	models.JobTypeFindEmails:         {"openwebninja"},
	models.JobTypeFindDecisionMakers: {"openwebninja", "openai"},
	models.JobTypeVerifyEmails:       {"anymailfinder"},
}

// RequiredServices returns the external services a job type depends on.
func RequiredServices(jobType models.JobType) []string {
	return requiredServices[jobType]
}

// IsFree reports whether a job type needs no paid capability at all.
func IsFree(jobType models.JobType) bool {
	return len(requiredServices[jobType]) == 0
}

// BYOKResolver answers one question: does this user hold their own
// credentials for every service a job type requires? If yes, metering is
// skipped entirely for that trigger.
type BYOKResolver struct {
	keys   repository.APIKeyRepository
	logger zerolog.Logger
}

func NewBYOKResolver(keys repository.APIKeyRepository, logger zerolog.Logger) *BYOKResolver {
	return &BYOKResolver{
		keys:   keys,
		logger: logger.With().Str("component", "byok").Logger(),
	}
}

// IsBYOK reports whether the user bypasses metering for the job type.
// A lookup failure fails closed: the user is treated as not-BYOK and gets
// charged, rather than being silently granted a free pass.
func (r *BYOKResolver) IsBYOK(ctx context.Context, userID string, jobType models.JobType) bool {
	services := requiredServices[jobType]
	if len(services) == 0 {
		return false
	}

	hasAll, err := r.keys.HasAllKeys(ctx, userID, services)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("job_type", string(jobType)).
			Msg("BYOK key lookup failed, treating as metered")
		return false
	}
	return hasAll
}
