// README: Redis pub/sub transport and Redis-hash presence store for multi-process fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"kottu/internal/types"
)

type RedisTransport struct {
	redis *redis.Client
}

func NewRedisTransport(redis *redis.Client) *RedisTransport {
	return &RedisTransport{redis: redis}
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := t.redis.Subscribe(ctx, topic)
	// Wait for the subscribe confirmation so a failed handshake surfaces here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &redisSub{ps: ps}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.redis.Publish(ctx, topic, payload).Err()
}

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSub) Close() error {
	return s.ps.Close()
}

const presenceKeyPrefix = "kottu:presence:%s:members"

// RedisPresence keeps one hash per tenant: field = presence key, value = JSON record.
type RedisPresence struct {
	redis *redis.Client
}

func NewRedisPresence(redis *redis.Client) *RedisPresence {
	return &RedisPresence{redis: redis}
}

func (s *RedisPresence) Put(ctx context.Context, tenantID types.ID, p Presence) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.redis.HSet(ctx, presenceKey(tenantID), p.Key, raw).Err()
}

func (s *RedisPresence) Remove(ctx context.Context, tenantID types.ID, key string) error {
	return s.redis.HDel(ctx, presenceKey(tenantID), key).Err()
}

// List returns live entries and deletes those last seen before staleBefore.
func (s *RedisPresence) List(ctx context.Context, tenantID types.ID, staleBefore time.Time) ([]Presence, error) {
	vals, err := s.redis.HGetAll(ctx, presenceKey(tenantID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Presence, 0, len(vals))
	var stale []string
	for field, raw := range vals {
		var p Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil || p.OnlineAt.Before(staleBefore) {
			stale = append(stale, field)
			continue
		}
		out = append(out, p)
	}
	if len(stale) > 0 {
		if err := s.redis.HDel(ctx, presenceKey(tenantID), stale...).Err(); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func presenceKey(tenantID types.ID) string {
	return fmt.Sprintf(presenceKeyPrefix, string(tenantID))
}
