package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keeps session history in redis lists so multiple replicas share
// conversations. Expiry is delegated to redis TTLs.
type Redis struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, limit int, ttl time.Duration) *Redis {
	if limit <= 0 {
		limit = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		limit: limit,
		ttl:   ttl,
	}
}

func (s *Redis) Close() error { return s.client.Close() }

func historyKey(id string) string { return fmt.Sprintf("chat:%s:history", id) }

func (s *Redis) EnsureSession(ctx context.Context, id string) (string, error) {
	if id != "" {
		exists, err := s.client.Exists(ctx, historyKey(id)).Result()
		if err != nil {
			return "", fmt.Errorf("checking session: %w", err)
		}
		if exists == 1 {
			_ = s.client.Expire(ctx, historyKey(id), s.ttl).Err()
			return id, nil
		}
	}
	newID := uuid.NewString()
	// An empty list cannot exist in redis; the session materializes on the
	// first Append. The minted ID is enough for the client to continue.
	return newID, nil
}

func (s *Redis) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key := historyKey(sessionID)
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		values = append(values, data)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.limit), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

func (s *Redis) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.client.LRange(ctx, historyKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	out := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
