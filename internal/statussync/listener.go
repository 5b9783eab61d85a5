package statussync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	notifyChannel        = "job_changes"
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second
	listenerPingInterval = 90 * time.Second
)

// Listener bridges Postgres row-change notifications onto Redis so every
// API replica sees job transitions regardless of which database connection
// carried the NOTIFY.
type Listener struct {
	pgListener *pq.Listener
	redis      *redis.Client
	logger     zerolog.Logger
}

func NewListener(databaseURL string, redisClient *redis.Client, logger zerolog.Logger) *Listener {
	componentLogger := logger.With().Str("component", "statussync").Logger()

	pgListener := pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				componentLogger.Warn().Err(err).Int("event", int(ev)).Msg("postgres listener event")
			}
		})

	return &Listener{
		pgListener: pgListener,
		redis:      redisClient,
		logger:     componentLogger,
	}
}

// Run listens until the context is cancelled. Notifications that fail to
// parse or publish are logged and dropped; the poll fallback covers any
// client that misses one.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.pgListener.Listen(notifyChannel); err != nil {
		return err
	}
	defer l.pgListener.Close()

	l.logger.Info().Str("channel", notifyChannel).Msg("listening for job changes")

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			if err := l.pgListener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("listener ping failed")
			}
		case notification := <-l.pgListener.Notify:
			if notification == nil {
				// Reconnect marker; the listener re-establishes LISTEN itself.
				continue
			}
			l.publish(ctx, notification.Extra)
		}
	}
}

func (l *Listener) publish(ctx context.Context, payload string) {
	evt, err := parseJobEvent(payload)
	if err != nil {
		l.logger.Warn().Err(err).Msg("dropping malformed job notification")
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := l.redis.Publish(ctx, userChannel(evt.UserID), data).Err(); err != nil {
		l.logger.Warn().Err(err).Str("job_id", evt.JobID).Msg("failed to publish job event")
	}
}
