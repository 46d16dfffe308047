package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dataplane/internal/apikey/models"
	"dataplane/pkg/domain"
)

const (
	keyPrefix      = "apikey:usage:"
	fieldCount     = "count"
	fieldLastUsed  = "last_used"
	lastUsedLayout = time.RFC3339Nano
)

// RedisStore keeps one hash per key: count via HINCRBY and the last use
// timestamp, so concurrent instances share counters.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, keyID domain.APIKeyID, at time.Time) error {
	key := keyPrefix + keyID.String()
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, fieldCount, 1)
	pipe.HSet(ctx, key, fieldLastUsed, at.UTC().Format(lastUsedLayout))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment api key usage: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, keyIDs []domain.APIKeyID) (map[domain.APIKeyID]models.Usage, error) {
	out := make(map[domain.APIKeyID]models.Usage, len(keyIDs))
	if len(keyIDs) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keyIDs))
	for i, id := range keyIDs {
		cmds[i] = pipe.HGetAll(ctx, keyPrefix+id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load api key usage: %w", err)
	}

	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		var u models.Usage
		if n, err := strconv.ParseInt(fields[fieldCount], 10, 64); err == nil {
			u.RequestCount = n
		}
		if t, err := time.Parse(lastUsedLayout, fields[fieldLastUsed]); err == nil {
			u.LastUsedAt = &t
		}
		out[keyIDs[i]] = u
	}
	return out, nil
}
