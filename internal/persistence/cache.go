package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedRepository fronts a PlayerRepository with an optional Redis L2
// read cache, per spec.md §4.6: reads and Create populate the cache,
// Save and Delete invalidate the record's id and name entries, and a
// cache miss or failure falls through transparently to the underlying
// repository.
type CachedRepository struct {
	underlying PlayerRepository
	client     *redis.Client
	ttl        time.Duration
}

func NewCachedRepository(underlying PlayerRepository, client *redis.Client, ttl time.Duration) *CachedRepository {
	return &CachedRepository{underlying: underlying, client: client, ttl: ttl}
}

func idKey(id string) string         { return "player:id:" + id }
func nameKey(nameLower string) string { return "player:name:" + nameLower }

func (c *CachedRepository) FindByID(id string) (PlayerRecord, bool, error) {
	ctx := context.Background()
	if data, err := c.client.Get(ctx, idKey(id)).Result(); err == nil {
		var rec PlayerRecord
		if jsonErr := json.Unmarshal([]byte(data), &rec); jsonErr == nil {
			return rec, true, nil
		}
	}

	rec, found, err := c.underlying.FindByID(id)
	if err == nil && found {
		c.populate(rec)
	}
	return rec, found, err
}

func (c *CachedRepository) FindByName(name string) (PlayerRecord, bool, error) {
	return c.FindByNameLower(strings.ToLower(name))
}

func (c *CachedRepository) FindByNameLower(nameLower string) (PlayerRecord, bool, error) {
	ctx := context.Background()
	if data, err := c.client.Get(ctx, nameKey(nameLower)).Result(); err == nil {
		var rec PlayerRecord
		if jsonErr := json.Unmarshal([]byte(data), &rec); jsonErr == nil {
			return rec, true, nil
		}
	}

	rec, found, err := c.underlying.FindByNameLower(nameLower)
	if err == nil && found {
		c.populate(rec)
	}
	return rec, found, err
}

func (c *CachedRepository) populate(rec PlayerRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ctx := context.Background()
	// Best-effort; a cache write failure just means the next read misses.
	c.client.Set(ctx, idKey(rec.ID), data, c.ttl)
	c.client.Set(ctx, nameKey(strings.ToLower(rec.Name)), data, c.ttl)
}

func (c *CachedRepository) Create(name, startRoomID string, now time.Time) (PlayerRecord, error) {
	rec, err := c.underlying.Create(name, startRoomID, now)
	if err == nil {
		c.populate(rec)
	}
	return rec, err
}

func (c *CachedRepository) Save(record PlayerRecord) error {
	if err := c.underlying.Save(record); err != nil {
		return err
	}
	ctx := context.Background()
	c.client.Del(ctx, idKey(record.ID), nameKey(strings.ToLower(record.Name)))
	return nil
}

func (c *CachedRepository) Delete(id string) error {
	rec, found, _ := c.underlying.FindByID(id)
	if err := c.underlying.Delete(id); err != nil {
		return err
	}
	ctx := context.Background()
	c.client.Del(ctx, idKey(id))
	if found {
		c.client.Del(ctx, nameKey(strings.ToLower(rec.Name)))
	}
	return nil
}
