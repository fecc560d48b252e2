// Package location implements the Player Location Index (C10): a
// Redis-backed distributed name -> engine lookup for O(1) cross-engine
// message routing, per spec.md §4.10.
package location

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Index is the contract the Engine Loop depends on for registering and
// looking up player ownership across engines.
type Index interface {
	Register(playerNameLower, engineID string) error
	Unregister(playerNameLower, engineID string) error
	LookupEngineID(playerNameLower string) (string, bool, error)
	RefreshTTLs(engineID string) error
}

// RedisIndex is the only implementation named in spec.md §4.10 — the
// contract is entirely I/O-bound, so there is no meaningful in-memory
// variant to offer for a single-engine deployment (sharding.enabled=false
// simply never constructs one).
type RedisIndex struct {
	client *redis.Client
	ttl    time.Duration

	registered map[string]bool // names this engine instance has registered, for RefreshTTLs
}

func NewRedisIndex(client *redis.Client, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, ttl: ttl, registered: make(map[string]bool)}
}

func key(playerNameLower string) string { return "location:" + playerNameLower }

// Register writes the entry with a synchronous SET carrying the index
// TTL; the call blocks until Redis answers and returns its error to the
// caller.
func (r *RedisIndex) Register(playerNameLower, engineID string) error {
	ctx := context.Background()
	if err := r.client.Set(ctx, key(playerNameLower), engineID, r.ttl).Err(); err != nil {
		return err
	}
	r.registered[playerNameLower] = true
	return nil
}

// Unregister is a conditional delete: it only removes the entry if the
// stored owner still equals this engine, preventing a losing handoff
// race from evicting the new owner's entry (spec.md §4.10).
func (r *RedisIndex) Unregister(playerNameLower, engineID string) error {
	ctx := context.Background()
	delete(r.registered, playerNameLower)

	current, err := r.client.Get(ctx, key(playerNameLower)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if current != engineID {
		return nil
	}
	return r.client.Del(ctx, key(playerNameLower)).Err()
}

func (r *RedisIndex) LookupEngineID(playerNameLower string) (string, bool, error) {
	ctx := context.Background()
	val, err := r.client.Get(ctx, key(playerNameLower)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// RefreshTTLs extends the TTL on every name this engine instance has
// registered; it needs no external input, per spec.md §4.10.
func (r *RedisIndex) RefreshTTLs(engineID string) error {
	ctx := context.Background()
	for nameLower := range r.registered {
		if err := r.client.Expire(ctx, key(nameLower), r.ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}
