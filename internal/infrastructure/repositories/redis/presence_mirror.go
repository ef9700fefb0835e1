package redis

import (
	"context"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceMirror writes the current online set into a Redis set so external
// dashboards can read it. It is write-only and strictly advisory: the
// in-process registry remains the source of truth, and the relay keeps
// working when Redis is down.
type PresenceMirror struct {
	client       *redis.Client
	key          string
	writeTimeout time.Duration
	retryCfg     retry.Config
	logger       *zap.SugaredLogger
}

func NewPresenceMirror(client *redis.Client, key string, writeTimeout time.Duration, logger *zap.SugaredLogger) *PresenceMirror {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 50 * time.Millisecond

	return &PresenceMirror{
		client:       client,
		key:          key,
		writeTimeout: writeTimeout,
		retryCfg:     cfg,
		logger:       logger,
	}
}

// Store replaces the mirrored set with the snapshot's online users.
func (m *PresenceMirror) Store(ctx context.Context, snap domain.PresenceSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	members := make([]interface{}, 0, len(snap.Online))
	for _, u := range snap.Online {
		members = append(members, string(u))
	}

	err := retry.Retry(ctx, m.retryCfg, func() error {
		pipe := m.client.TxPipeline()
		pipe.Del(ctx, m.key)
		if len(members) > 0 {
			pipe.SAdd(ctx, m.key, members...)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}

	m.logger.Debugw("mirrored presence snapshot",
		"key", m.key,
		"online", len(snap.Online),
	)
	return nil
}
