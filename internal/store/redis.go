package store

import (
	"github.com/go-redis/redis"
)

// RedisConfig locates the backing Redis instance.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis opens a Redis-backed store. The prefix namespaces this
// runtime's keys.
func NewRedis(cfg RedisConfig, prefix string) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (r *redisStore) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *redisStore) Get(key string) (string, error) {
	v, err := r.client.Get(r.key(key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (r *redisStore) Set(key, value string) error {
	return r.client.Set(r.key(key), value, 0).Err()
}

func (r *redisStore) Delete(key string) error {
	return r.client.Del(r.key(key)).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
