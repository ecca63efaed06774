package reportlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backed store.
type RedisConfig struct {
	Addr     string `json:"addr" default:"localhost:6379"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key" default:"flexsim:reports"`
}

// RedisStore keeps entries in a sorted set scored by report start.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Key == "" {
		cfg.Key = "flexsim:reports"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, key: cfg.Key}, nil
}

func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.key, redis.Z{Score: float64(e.Report.Start), Member: b}).Err()
}

func (s *RedisStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if q.From != 0 {
		rng.Min = strconv.FormatInt(q.From, 10)
	}
	if q.To != 0 {
		rng.Max = strconv.FormatInt(q.To, 10)
	}
	members, err := s.client.ZRangeByScore(ctx, s.key, rng).Result()
	if err != nil {
		return nil, err
	}
	res := make([]Entry, 0, len(members))
	for _, m := range members {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		res = append(res, e)
	}
	return q.apply(res), nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
