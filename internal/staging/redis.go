package staging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps staging values in Redis so that the API server and the
// sync worker see the same ledger and pending-sync set.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix), nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read staging key %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("write staging key %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete staging key %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) AddMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, r.prefix+key, toArgs(members)...).Err(); err != nil {
		return fmt.Errorf("add to staging set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) RemoveMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, r.prefix+key, toArgs(members)...).Err(); err != nil {
		return fmt.Errorf("remove from staging set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	out, err := r.client.SMembers(ctx, r.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("read staging set %s: %w", key, err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock staging key %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// unlockScript deletes the lease only while it still carries the caller's token.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *RedisStore) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("unlock staging key %s: %w", key, err)
	}
	return nil
}

func toArgs(members []string) []any {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
