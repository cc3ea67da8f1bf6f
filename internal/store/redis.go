package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"deepresearch/internal/state"
)

const factKeyPrefix = "fact:"

// factOrderKey holds fact IDs in insertion order so GetAllFacts can
// return a stable ordering.
const factOrderKey = "facts:order"

// RedisStore persists facts as JSON values in redis.
type RedisStore struct {
	client *redis.Client
}

// RedisConn opens and pings a redis connection.
func RedisConn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) SaveFacts(ctx context.Context, facts []state.Fact) error {
	for _, f := range facts {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		key := factKeyPrefix + f.ID
		exists, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
			return err
		}
		if exists == 0 {
			if err := r.client.RPush(ctx, factOrderKey, f.ID).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RedisStore) GetAllFacts(ctx context.Context) ([]state.Fact, error) {
	ids, err := r.client.LRange(ctx, factOrderKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var facts []state.Fact
	for _, id := range ids {
		val, err := r.client.Get(ctx, factKeyPrefix+id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var f state.Fact
		if err := json.Unmarshal([]byte(val), &f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

func (r *RedisStore) Search(ctx context.Context, query string) ([]state.Fact, error) {
	all, err := r.GetAllFacts(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []state.Fact
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Content), q) || strings.Contains(strings.ToLower(f.Source), q) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	ids, err := r.client.LRange(ctx, factOrderKey, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.client.Del(ctx, factKeyPrefix+id).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, factOrderKey).Err()
}

func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	facts, err := r.GetAllFacts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(facts), nil
}
