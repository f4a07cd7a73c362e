package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const presenceKey = "chat:online"

// PresenceRepository mirrors hub membership into Redis so presence survives
// across server instances. A nil repository is safe to call; presence then
// lives only in the hub's memory.
type PresenceRepository struct {
	client *redis.Client
	logger *zap.Logger
}

func NewPresenceRepository(client *redis.Client, logger *zap.Logger) *PresenceRepository {
	if client == nil {
		return nil
	}
	return &PresenceRepository{client: client, logger: logger}
}

func (r *PresenceRepository) SetOnline(ctx context.Context, userID string) {
	if r == nil {
		return
	}
	if err := r.client.HSet(ctx, presenceKey, userID, time.Now().UTC().Format(time.RFC3339)).Err(); err != nil {
		r.logger.Warn("failed to record user online", zap.String("user_id", userID), zap.Error(err))
	}
}

func (r *PresenceRepository) SetOffline(ctx context.Context, userID string) {
	if r == nil {
		return
	}
	if err := r.client.HDel(ctx, presenceKey, userID).Err(); err != nil {
		r.logger.Warn("failed to record user offline", zap.String("user_id", userID), zap.Error(err))
	}
}

// Online returns the ids of every user with an active connection anywhere.
func (r *PresenceRepository) Online(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	entries, err := r.client.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence set: %w", err)
	}
	users := make([]string, 0, len(entries))
	for id := range entries {
		users = append(users, id)
	}
	return users, nil
}
