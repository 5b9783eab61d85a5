package statussync

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Hub hands out per-user subscriptions to the job event stream. It is the
// push half of status sync; the poll endpoints are the fallback half.
type Hub struct {
	redis  *redis.Client
	logger zerolog.Logger
}

func NewHub(redisClient *redis.Client, logger zerolog.Logger) *Hub {
	return &Hub{
		redis:  redisClient,
		logger: logger.With().Str("component", "statussync_hub").Logger(),
	}
}

// Subscribe returns a channel of job events for one user, optionally
// filtered to a campaign. The channel closes when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, userID, campaignID string) <-chan JobEvent {
	out := make(chan JobEvent, 16)
	sub := h.redis.Subscribe(ctx, userChannel(userID))

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var evt JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					h.logger.Warn().Err(err).Msg("dropping malformed job event")
					continue
				}
				if campaignID != "" && (evt.CampaignID == nil || *evt.CampaignID != campaignID) {
					continue
				}
				select {
				case out <- evt:
				default:
					// Slow consumer; drop rather than block the hub. The
					// poll fallback reconciles anything missed.
				}
			}
		}
	}()

	return out
}
