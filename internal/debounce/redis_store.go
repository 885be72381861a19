package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// batchTTL bounds how long an orphaned batch can linger in Redis if every
// waiter died before claiming it.
const batchTTL = 5 * time.Minute

// RedisStore shares the debounce window across processes.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		panic("debounce: redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

func messagesKey(contactID string) string { return "debounce:" + contactID + ":messages" }
func tokenKey(contactID string) string    { return "debounce:" + contactID + ":token" }

func (s *RedisStore) Append(ctx context.Context, contactID, message string) (string, error) {
	token := uuid.NewString()
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, messagesKey(contactID), message)
	pipe.Expire(ctx, messagesKey(contactID), batchTTL)
	pipe.Set(ctx, tokenKey(contactID), token, batchTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("debounce: redis append: %w", err)
	}
	return token, nil
}

func (s *RedisStore) IsLatest(ctx context.Context, contactID, token string) (bool, error) {
	current, err := s.client.Get(ctx, tokenKey(contactID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("debounce: redis token read: %w", err)
	}
	return current == token, nil
}

func (s *RedisStore) Claim(ctx context.Context, contactID string) ([]string, error) {
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, messagesKey(contactID), 0, -1)
	pipe.Del(ctx, messagesKey(contactID), tokenKey(contactID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("debounce: redis claim: %w", err)
	}
	return rangeCmd.Val(), nil
}
