// Package handoff implements the Handoff Manager (C9): the source- and
// target-side protocol for migrating a player between engines with
// at-most-once transfer semantics, per spec.md §4.9.
package handoff

import (
	"errors"
	"time"

	"mudengine/internal/interengine"
	"mudengine/internal/zone"
)

var (
	ErrPlayerNotFound  = errors.New("handoff: player not found")
	ErrNoEngineForZone = errors.New("handoff: no engine owns the target zone")
	ErrAlreadyInTransit = errors.New("handoff: session already has a pending handoff")
)

// PendingHandoff tracks one in-flight migration on the source engine.
type PendingHandoff struct {
	SessionID      uint64
	PlayerName     string
	FromRoomID     string
	TargetRoomID   string
	TargetEngineID string
	Deadline       time.Time
}

// PlayerLookup resolves the minimal player data a handoff needs from the
// caller's world.PlayerRegistry without this package importing it
// directly, keeping handoff decoupled from world's in-memory layout.
type PlayerLookup interface {
	Serialize(sessionID uint64) (name, fromRoomID, stateJSON string, ok bool)
}

// Source orchestrates outbound handoffs for one engine.
type Source struct {
	engineID string
	zones    zone.Registry
	bus      interengine.Bus
	players  PlayerLookup
	ackTimeout time.Duration

	pending map[uint64]*PendingHandoff
}

func NewSource(engineID string, zones zone.Registry, bus interengine.Bus, players PlayerLookup, ackTimeout time.Duration) *Source {
	return &Source{
		engineID:   engineID,
		zones:      zones,
		bus:        bus,
		players:    players,
		ackTimeout: ackTimeout,
		pending:    make(map[uint64]*PendingHandoff),
	}
}

// InitiateHandoff runs steps 1-4 of the source protocol in spec.md §4.9;
// the caller (the engine's cmdMove) emits the departure message to the
// player.
func (s *Source) InitiateHandoff(sessionID uint64, targetRoomID, targetZone string, now time.Time) error {
	if _, inTransit := s.pending[sessionID]; inTransit {
		return ErrAlreadyInTransit
	}

	name, fromRoomID, stateJSON, ok := s.players.Serialize(sessionID)
	if !ok {
		return ErrPlayerNotFound
	}

	targetAddr, ok := s.zones.OwnerOf(targetZone)
	if !ok {
		return ErrNoEngineForZone
	}

	if err := s.bus.SendTo(targetAddr.EngineID, interengine.Message{
		Kind:            interengine.KindPlayerHandoff,
		SessionID:       sessionID,
		TargetRoomID:    targetRoomID,
		PlayerStateJSON: stateJSON,
		SourceEngineID:  s.engineID,
	}); err != nil {
		return err
	}

	s.pending[sessionID] = &PendingHandoff{
		SessionID:      sessionID,
		PlayerName:     name,
		FromRoomID:     fromRoomID,
		TargetRoomID:   targetRoomID,
		TargetEngineID: targetAddr.EngineID,
		Deadline:       now.Add(s.ackTimeout),
	}

	return nil
}

// HandleAckResult tells the caller what follow-up outbound/game events to
// emit; this package never touches world state or the outbound router
// directly.
type HandleAckResult struct {
	SessionID  uint64
	Succeeded  bool
	FromRoomID string
	PlayerName string
	NewEngineID string
	ErrorMessage string
}

// HandleAck finalizes or rolls back a pending handoff on ack receipt, per
// spec.md §4.9 step 6/7.
func (s *Source) HandleAck(msg interengine.Message) (HandleAckResult, bool) {
	pending, ok := s.pending[msg.SessionID]
	if !ok {
		return HandleAckResult{}, false
	}
	delete(s.pending, msg.SessionID)

	if !msg.Success {
		return HandleAckResult{SessionID: msg.SessionID, Succeeded: false, PlayerName: pending.PlayerName, ErrorMessage: msg.ErrorMessage}, true
	}

	return HandleAckResult{
		SessionID:   msg.SessionID,
		Succeeded:   true,
		FromRoomID:  pending.FromRoomID,
		PlayerName:  pending.PlayerName,
		NewEngineID: pending.TargetEngineID,
	}, true
}

// ExpireTimedOut returns every pending handoff whose deadline has passed
// and removes them from the pending set, for rollback messaging.
func (s *Source) ExpireTimedOut(now time.Time) []PendingHandoff {
	var expired []PendingHandoff
	for id, p := range s.pending {
		if now.After(p.Deadline) {
			expired = append(expired, *p)
			delete(s.pending, id)
		}
	}
	return expired
}

func (s *Source) IsInTransit(sessionID uint64) bool {
	_, ok := s.pending[sessionID]
	return ok
}

func (s *Source) CancelIfPending(sessionID uint64) {
	delete(s.pending, sessionID)
}

// Target accepts inbound handoffs on the receiving engine.
type Target struct {
	engineID string
	zones    zone.Registry
	isBoundLocally func(sessionID uint64) bool
}

func NewTarget(engineID string, zones zone.Registry, isBoundLocally func(sessionID uint64) bool) *Target {
	return &Target{engineID: engineID, zones: zones, isBoundLocally: isBoundLocally}
}

// AcceptHandoff runs the target protocol of spec.md §4.9: verify local
// ownership, reject duplicates, and report success/failure via the
// returned ack message (the caller sends it back over the bus).
func (t *Target) AcceptHandoff(msg interengine.Message, targetZone string) interengine.Message {
	if !t.zones.IsLocal(targetZone, t.engineID) {
		return interengine.Message{
			Kind: interengine.KindHandoffAck, SessionID: msg.SessionID,
			Success: false, ErrorMessage: "Target room is not hosted on this engine",
		}
	}

	if t.isBoundLocally(msg.SessionID) {
		return interengine.Message{
			Kind: interengine.KindHandoffAck, SessionID: msg.SessionID,
			Success: false, ErrorMessage: "Session already exists on target engine",
		}
	}

	return interengine.Message{Kind: interengine.KindHandoffAck, SessionID: msg.SessionID, Success: true}
}
