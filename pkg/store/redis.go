package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each namespace in one hash, `lessonmate:<profile>:<ns>`.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects to url. A value that is not a redis:// URL is used as
// a plain host:port address.
func OpenRedis(ctx context.Context, url, profile string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opt.Addr, err)
	}
	return NewRedis(rdb, profile), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, profile string) *Redis {
	if profile == "" {
		profile = "default"
	}
	return &Redis{rdb: rdb, prefix: "lessonmate:" + profile + ":"}
}

func (r *Redis) hash(ns string) string { return r.prefix + ns }

func (r *Redis) Get(ctx context.Context, ns, key string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, r.hash(ns), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return v, true, nil
}

func (r *Redis) GetMany(ctx context.Context, ns string, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.hash(ns), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ns, err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, ns, key, value string) error {
	if err := r.rdb.HSet(ctx, r.hash(ns), key, value).Err(); err != nil {
		return fmt.Errorf("set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (r *Redis) SetMany(ctx context.Context, ns string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := r.rdb.HSet(ctx, r.hash(ns), args...).Err(); err != nil {
		return fmt.Errorf("set %s: %w", ns, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, ns, key string) error {
	if err := r.rdb.HDel(ctx, r.hash(ns), key).Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
