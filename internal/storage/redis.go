package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

const defaultRedisPrefix = "monitor:snapshot:"

// redisStore keeps one key per source holding the JSON array of records.
// A single SET replaces the value atomically.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	prefix := cfg.KeyPrefix
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}

	opts := &redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(source string) string { return s.prefix + source }

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) Snapshot(ctx context.Context, source string) ([]record.Record, error) {
	if err := validSource(source); err != nil {
		return nil, fail("read", source, err)
	}
	b, err := s.client.Get(ctx, s.key(source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, fail("read", source, err)
	}
	var out []record.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, corrupt("read", source, err)
	}
	for _, r := range out {
		if r == nil {
			return nil, corrupt("read", source, errors.New("null record"))
		}
	}
	return record.CloneAll(out), nil
}

func (s *redisStore) ReplaceSnapshot(ctx context.Context, source string, records []record.Record) error {
	if err := validSource(source); err != nil {
		return fail("replace", source, err)
	}
	b, err := json.Marshal(record.CloneAll(records))
	if err != nil {
		return fail("replace", source, err)
	}
	// No TTL: a snapshot lives until it is replaced.
	if err := s.client.Set(ctx, s.key(source), b, 0).Err(); err != nil {
		return fail("replace", source, err)
	}
	s.log.Debug("snapshot replaced", logx.String("source", source), logx.Int("records", len(records)))
	return nil
}

func (s *redisStore) Sources(ctx context.Context) ([]string, error) {
	out := make([]string, 0)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fail("list", "", err)
	}
	sort.Strings(out)
	return out, nil
}
