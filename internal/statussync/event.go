package statussync

import (
	"encoding/json"

	"github.com/leadninja/leadninja-api/internal/models"
)

// JobEvent is the row-change notification emitted by the bulk_jobs trigger
// and fanned out to subscribed clients. It intentionally carries only
// identity and status; clients fetch full rows through the poll path.
type JobEvent struct {
	JobID      string           `json:"id"`
	UserID     string           `json:"user_id"`
	CampaignID *string          `json:"campaign_id,omitempty"`
	Type       models.JobType   `json:"type"`
	Status     models.JobStatus `json:"status"`
}

func parseJobEvent(payload string) (JobEvent, error) {
	var evt JobEvent
	err := json.Unmarshal([]byte(payload), &evt)
	return evt, err
}

// userChannel is the per-user Redis pub/sub channel name.
func userChannel(userID string) string {
	return "jobs:" + userID
}
