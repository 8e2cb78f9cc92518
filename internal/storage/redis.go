package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"studynotify/pkg/logx"
)

// redisStore keeps the journal in a capped list, newest first.
type redisStore struct {
	client *redis.Client
	key    string
	max    int64
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("journal opened", logx.String("addr", opts.Addr))
	return newRedisStore(client, cfg, log), nil
}

func newRedisStore(client *redis.Client, cfg Config, log logx.Logger) *redisStore {
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultRedisKey
	}
	capacity := cfg.MaxEntries
	if capacity <= 0 {
		capacity = defaultMaxEntries
	}
	return &redisStore{client: client, key: key, max: int64(capacity), log: log}
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push record: %w", err)
	}
	return nil
}

func (s *redisStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	limit = normalizeLimit(limit)
	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit)-1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read records: %w", err)
	}
	out := make([]DeliveryRecord, 0, len(raw))
	for _, item := range raw {
		var r DeliveryRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.log.Debug("skip bad journal entry", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
