package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"

	"github.com/redis/go-redis/v9"
)

const counterPrefix = "count:"

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect открывает клиента и сразу проверяет соединение.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Store — субтитры, выборки длительности сессий и счётчики использования.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// PushCapped добавляет value в начало списка и оставляет keep последних.
func (s *Store) PushCapped(ctx context.Context, key, value string, keep int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		if keep > 0 {
			pipe.LTrim(ctx, key, 0, keep-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, key string) ([]string, error) {
	out, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return out, nil
}

// IncrBy добавляет накопленные значения к счётчикам одним пайплайном.
func (s *Store) IncrBy(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, n := range counts {
			pipe.IncrBy(ctx, counterPrefix+name, n)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis incrby: %w", err)
	}
	return nil
}

func (s *Store) Counter(ctx context.Context, name string) (int64, error) {
	n, err := s.client.Get(ctx, counterPrefix+name).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get counter %s: %w", name, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
