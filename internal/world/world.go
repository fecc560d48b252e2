// Package world implements the World + Registries component (C4): the
// immutable room graph loaded at startup plus the runtime-mutable player,
// mob, and item registries. Per spec.md §5 the Engine Loop is the sole
// writer and reader of every registry here, so none of these types take
// locks — that single-writer discipline is what retires the teacher's
// sync.RWMutex-guarded RoomManager (internal/game/room_manager.go).
package world

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RoomID is a namespaced "zone:local" identifier, per spec.md §3.
type RoomID string

// Room is immutable world content; it is never mutated after load.
type Room struct {
	ID          RoomID            `yaml:"id"`
	Zone        string            `yaml:"zone"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Exits       map[string]RoomID `yaml:"exits"`
}

type roomFile struct {
	Rooms []Room `yaml:"rooms"`
}

// RoomRegistry is a flat RoomID-keyed table. Rooms reference each other
// only by ID in Exits, never by pointer, so the table carries no object
// graph cycles for the YAML loader to worry about (per spec.md §9).
type RoomRegistry struct {
	rooms map[RoomID]Room
}

// LoadRooms reads one or more YAML resource files (spec.md §6
// world.resources) and merges their rooms into one flat registry. A
// duplicate room ID across files is a startup error.
func LoadRooms(paths []string) (*RoomRegistry, error) {
	reg := &RoomRegistry{rooms: make(map[RoomID]Room)}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("world: reading %s: %w", path, err)
		}
		var rf roomFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("world: parsing %s: %w", path, err)
		}
		for _, r := range rf.Rooms {
			if _, dup := reg.rooms[r.ID]; dup {
				return nil, fmt.Errorf("world: duplicate room id %q in %s", r.ID, path)
			}
			reg.rooms[r.ID] = r
		}
	}

	return reg, nil
}

// Get returns a room by id.
func (r *RoomRegistry) Get(id RoomID) (Room, bool) {
	room, ok := r.rooms[id]
	return room, ok
}

// Exit resolves a direction from a room to its destination RoomID.
func (r *RoomRegistry) Exit(from RoomID, direction string) (RoomID, bool) {
	room, ok := r.rooms[from]
	if !ok {
		return "", false
	}
	to, ok := room.Exits[direction]
	return to, ok
}

// Len reports how many rooms are loaded.
func (r *RoomRegistry) Len() int { return len(r.rooms) }

// All returns every loaded room, in no particular order; it is read by
// the builder/admin command surface, never by the hot movement path.
func (r *RoomRegistry) All() []Room {
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// ZoneOf returns a room's owning zone.
func (r *RoomRegistry) ZoneOf(id RoomID) (string, bool) {
	room, ok := r.rooms[id]
	if !ok {
		return "", false
	}
	return room.Zone, true
}

// Player is the in-memory runtime state of one authenticated player, per
// spec.md §3.
type Player struct {
	SessionID    uint64
	PlayerID     string
	Name         string
	RoomID       RoomID
	HP, MaxHP    int
	Mana, MaxMana int
	Level        int
	XPTotal      int
	Constitution int
	Dexterity    int
	IsStaff      bool
	AccountBound bool
	InCombatWith string // empty when not in combat
	LastRegenAt  time.Time

	// Keys is the builder/admin capability set, granted independently of
	// IsStaff (a staff member still needs the "builder" key to use the
	// builder commands). Nil means no keys.
	Keys map[string]bool
}

// HasKey reports whether the player possesses a named capability.
func (p *Player) HasKey(key string) bool {
	if p.Keys == nil {
		return false
	}
	return p.Keys[key]
}

// HasAllKeys reports whether the player possesses every named capability.
func (p *Player) HasAllKeys(keys ...string) bool {
	for _, k := range keys {
		if !p.HasKey(k) {
			return false
		}
	}
	return true
}

// HasAnyKey reports whether the player possesses at least one named
// capability.
func (p *Player) HasAnyKey(keys ...string) bool {
	for _, k := range keys {
		if p.HasKey(k) {
			return true
		}
	}
	return false
}

// PlayerRegistry indexes live players by session and by lowercase name
// for O(1) uniqueness checks, owned exclusively by the Engine Loop.
type PlayerRegistry struct {
	bySession map[uint64]*Player
	byName    map[string]*Player
}

func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{bySession: make(map[uint64]*Player), byName: make(map[string]*Player)}
}

func (pr *PlayerRegistry) Add(p *Player) {
	pr.bySession[p.SessionID] = p
	pr.byName[lowerName(p.Name)] = p
}

func (pr *PlayerRegistry) Remove(sessionID uint64) {
	p, ok := pr.bySession[sessionID]
	if !ok {
		return
	}
	delete(pr.bySession, sessionID)
	delete(pr.byName, lowerName(p.Name))
}

func (pr *PlayerRegistry) BySession(sessionID uint64) (*Player, bool) {
	p, ok := pr.bySession[sessionID]
	return p, ok
}

func (pr *PlayerRegistry) ByNameLower(nameLower string) (*Player, bool) {
	p, ok := pr.byName[nameLower]
	return p, ok
}

func (pr *PlayerRegistry) IsOnline(nameLower string) bool {
	_, ok := pr.byName[nameLower]
	return ok
}

// All returns every online player; callers must not mutate the slice
// contents from outside the Engine Loop goroutine.
func (pr *PlayerRegistry) All() []*Player {
	out := make([]*Player, 0, len(pr.bySession))
	for _, p := range pr.bySession {
		out = append(out, p)
	}
	return out
}

func (pr *PlayerRegistry) Count() int { return len(pr.bySession) }

func lowerName(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}

// Mob is runtime-mutable state for one spawned creature.
type Mob struct {
	ID        string
	TemplateID string
	RoomID    RoomID
	HP, MaxHP int
	InCombatWith string
}

// MobRegistry indexes live mobs by id, owned exclusively by the owning
// engine's Engine Loop for the zone containing each mob.
type MobRegistry struct {
	mobs map[string]*Mob
}

func NewMobRegistry() *MobRegistry { return &MobRegistry{mobs: make(map[string]*Mob)} }

func (mr *MobRegistry) Add(m *Mob)              { mr.mobs[m.ID] = m }
func (mr *MobRegistry) Remove(id string)        { delete(mr.mobs, id) }
func (mr *MobRegistry) Get(id string) (*Mob, bool) { m, ok := mr.mobs[id]; return m, ok }
func (mr *MobRegistry) All() []*Mob {
	out := make([]*Mob, 0, len(mr.mobs))
	for _, m := range mr.mobs {
		out = append(out, m)
	}
	return out
}

// Item is runtime-mutable state for one item instance.
type Item struct {
	ID         string
	TemplateID string
	OwnerPlayerID string // empty when on the ground
	RoomID     RoomID
}

// ItemRegistry indexes live item instances by id.
type ItemRegistry struct {
	items map[string]*Item
}

func NewItemRegistry() *ItemRegistry { return &ItemRegistry{items: make(map[string]*Item)} }

func (ir *ItemRegistry) Add(i *Item)               { ir.items[i.ID] = i }
func (ir *ItemRegistry) Remove(id string)          { delete(ir.items, id) }
func (ir *ItemRegistry) Get(id string) (*Item, bool) { i, ok := ir.items[id]; return i, ok }
