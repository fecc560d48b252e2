// Package persistence implements the Persistence Pipeline (C6): a
// PlayerRepository contract with two interchangeable backends (YAML file,
// relational), a write-behind dirty-set wrapper, and an optional Redis L2
// read cache — generalized from the teacher's internal/database package,
// which opened a single sql.DB and never implemented the write-behind or
// cache layers spec.md §4.6 requires.
package persistence

import "time"

// PlayerRecord is the durable form of a player, independent of any
// in-memory world.Player runtime state.
type PlayerRecord struct {
	ID           string
	Name         string
	PasswordHash string
	RoomID       string
	HP, MaxHP    int
	Mana, MaxMana int
	Level        int
	XPTotal      int
	Constitution int
	Dexterity    int
	IsStaff      bool
	MFASecret    string
	BuilderKeys  []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlayerRepository is the contract the Engine Loop and the Auth Flow
// depend on, per spec.md §4.6.
type PlayerRepository interface {
	FindByID(id string) (PlayerRecord, bool, error)
	FindByName(name string) (PlayerRecord, bool, error)
	FindByNameLower(nameLower string) (PlayerRecord, bool, error)
	Create(name, startRoomID string, now time.Time) (PlayerRecord, error)
	Save(record PlayerRecord) error
	Delete(id string) error
}
