package zone

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgryski/go-rendezvous"
	"github.com/redis/go-redis/v9"
)

// LeaseRegistry is the Redis TTL-keyed Zone Registry implementation of
// spec.md §4.8. Each claim writes a TTL key per zone, or per (zone,
// engineId) when instancing is on; readers
// filter out entries whose lease has expired by relying on Redis's own
// key expiry rather than tracking deadlines locally.
type LeaseRegistry struct {
	client      *redis.Client
	ttl         time.Duration
	instancing  bool
	rendezvous  *rendezvous.Table
	knownEngines []string

	claimedZones map[string][]string // engineId -> zones it last claimed
}

// NewLeaseRegistry constructs a lease-backed registry. candidateEngines
// seeds the rendezvous-hash fallback used when no lease is currently
// held for a zone (spec.md §4.8's deterministic fallback).
func NewLeaseRegistry(client *redis.Client, ttl time.Duration, instancing bool, candidateEngines []string) *LeaseRegistry {
	r := &LeaseRegistry{client: client, ttl: ttl, instancing: instancing, knownEngines: candidateEngines, claimedZones: make(map[string][]string)}
	r.rebuildRendezvous()
	return r
}

func (l *LeaseRegistry) rebuildRendezvous() {
	l.rendezvous = rendezvous.New(l.knownEngines, hashString)
}

func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func zoneKey(zoneName string) string { return "zone:owner:" + zoneName }
func zoneInstanceKey(zoneName, engineID string) string { return "zone:instance:" + zoneName + ":" + engineID }
func loadKey(engineID string) string { return "zone:load:" + engineID }

func encodeAddr(addr EngineAddress) string {
	return fmt.Sprintf("%s@%s:%d", addr.EngineID, addr.Host, addr.Port)
}

func decodeAddr(s string) (EngineAddress, bool) {
	atIdx := strings.Index(s, "@")
	if atIdx < 0 {
		return EngineAddress{}, false
	}
	engineID := s[:atIdx]
	hostPort := s[atIdx+1:]
	colonIdx := strings.LastIndex(hostPort, ":")
	if colonIdx < 0 {
		return EngineAddress{}, false
	}
	port, err := strconv.Atoi(hostPort[colonIdx+1:])
	if err != nil {
		return EngineAddress{}, false
	}
	return EngineAddress{EngineID: engineID, Host: hostPort[:colonIdx], Port: port}, true
}

func (l *LeaseRegistry) OwnerOf(zoneName string) (EngineAddress, bool) {
	ctx := context.Background()
	val, err := l.client.Get(ctx, zoneKey(zoneName)).Result()
	if err == nil {
		if addr, ok := decodeAddr(val); ok {
			return addr, true
		}
	}

	// No live lease: fall back to a deterministic rendezvous-hash
	// assignment among known engines, per spec.md §4.8.
	if l.rendezvous == nil || len(l.knownEngines) == 0 {
		return EngineAddress{}, false
	}
	engineID := l.rendezvous.Get(zoneName)
	for _, e := range l.knownEngines {
		if e == engineID {
			return EngineAddress{EngineID: engineID}, true
		}
	}
	return EngineAddress{}, false
}

func (l *LeaseRegistry) ClaimZones(engineID string, addr EngineAddress, zones []string) error {
	ctx := context.Background()
	encoded := encodeAddr(addr)
	for _, z := range zones {
		if l.instancing {
			if err := l.client.Set(ctx, zoneInstanceKey(z, engineID), encoded, l.ttl).Err(); err != nil {
				return err
			}
			continue
		}
		if err := l.client.Set(ctx, zoneKey(z), encoded, l.ttl).Err(); err != nil {
			return err
		}
	}
	l.claimedZones[engineID] = zones
	return nil
}

// RenewLease extends the TTL on every key this engine last claimed via
// ClaimZones; a key that has already expired is not recreated, and that
// is not reported as an error.
func (l *LeaseRegistry) RenewLease(engineID string) error {
	zones, ok := l.claimedZones[engineID]
	if !ok {
		return nil
	}
	ctx := context.Background()
	for _, z := range zones {
		key := zoneKey(z)
		if l.instancing {
			key = zoneInstanceKey(z, engineID)
		}
		if err := l.client.Expire(ctx, key, l.ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (l *LeaseRegistry) AllAssignments() map[string]EngineAddress {
	ctx := context.Background()
	out := make(map[string]EngineAddress)
	iter := l.client.Scan(ctx, 0, "zone:owner:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		zoneName := strings.TrimPrefix(key, "zone:owner:")
		val, err := l.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		if addr, ok := decodeAddr(val); ok {
			out[zoneName] = addr
		}
	}
	return out
}

func (l *LeaseRegistry) IsLocal(zoneName, engineID string) bool {
	addr, ok := l.OwnerOf(zoneName)
	return ok && addr.EngineID == engineID
}

func (l *LeaseRegistry) InstancesOf(zoneName string) []Instance {
	ctx := context.Background()
	var out []Instance
	iter := l.client.Scan(ctx, 0, "zone:instance:"+zoneName+":*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := l.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		addr, ok := decodeAddr(val)
		if !ok {
			continue
		}
		out = append(out, Instance{EngineAddress: addr, Zone: zoneName})
	}
	return out
}

func (l *LeaseRegistry) ReportLoad(engineID string, zoneCounts map[string]int) error {
	ctx := context.Background()
	total := 0
	for _, n := range zoneCounts {
		total += n
	}
	return l.client.Set(ctx, loadKey(engineID), total, l.ttl*2).Err()
}

func (l *LeaseRegistry) InstancingEnabled() bool { return l.instancing }
