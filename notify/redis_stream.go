package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/Dosada05/tournament-standings/models"
)

// RedisStream appends every event to a Redis stream so that other services
// can consume them with XREADGROUP.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Deliver(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":            event.ID,
			"type":          string(event.Type),
			"tournament_id": strconv.Itoa(event.TournamentID),
			"data":          string(data),
			"timestamp":     strconv.FormatInt(event.OccurredAt.Unix(), 10),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd to %s: %w", s.stream, err)
	}
	return nil
}
