package replay

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"patron/pkg/platform/sentinel"
)

const defaultKeyPrefix = "patron:webhook:nonce:"

// RedisStore records nonces with SET NX. Keys expire after the retention
// horizon, so no sweep is needed.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

func NewRedis(client redis.UniversalClient, retention time.Duration, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: retention, keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Record(ctx context.Context, provider, nonce string, at time.Time) error {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+nonce, provider+"|"+at.UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *RedisStore) Seen(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return n > 0, nil
}

// SeenAny checks every nonce in one pipelined round trip and returns the
// recorded subset, sorted.
func (s *RedisStore) SeenAny(ctx context.Context, nonces []string) ([]string, error) {
	if len(nonces) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(nonces))
	for i, n := range nonces {
		cmds[i] = pipe.Exists(ctx, s.keyPrefix+n)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check nonces: %w", err)
	}
	var out []string
	for i, cmd := range cmds {
		if cmd.Val() > 0 && !slices.Contains(out, nonces[i]) {
			out = append(out, nonces[i])
		}
	}
	slices.Sort(out)
	return out, nil
}

// PurgeBefore is a no-op; Redis expires keys itself.
func (s *RedisStore) PurgeBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Forget releases a nonce so the provider's retry is processed again.
func (s *RedisStore) Forget(ctx context.Context, nonce string) error {
	if err := s.client.Del(ctx, s.keyPrefix+nonce).Err(); err != nil {
		return fmt.Errorf("forget nonce: %w", err)
	}
	return nil
}
