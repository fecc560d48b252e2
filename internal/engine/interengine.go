package engine

import (
	"encoding/json"
	"log"
	"time"

	"mudengine/internal/events"
	"mudengine/internal/interengine"
	"mudengine/internal/world"
)

// whoCollector accumulates WhoResponse entries for one outstanding
// cross-engine who request until runWhoSweep flushes it.
type whoCollector struct {
	sessionID uint64
	entries   []interengine.WhoEntry
	deadline  time.Time
}

// handleInterEngine dispatches one message drained off the Inter-Engine
// Bus, per every MessageKind named in spec.md §4.7.
func (e *Engine) handleInterEngine(msg interengine.Message) {
	switch msg.Kind {
	case interengine.KindGlobalBroadcast:
		e.handleGlobalBroadcast(msg)
	case interengine.KindTell:
		e.handleTell(msg)
	case interengine.KindWhoRequest:
		e.handleWhoRequest(msg)
	case interengine.KindWhoResponse:
		e.handleWhoResponse(msg)
	case interengine.KindKickRequest:
		e.handleKickRequest(msg)
	case interengine.KindShutdownRequest:
		e.handleShutdownRequest(msg)
	case interengine.KindPlayerHandoff:
		e.handlePlayerHandoff(msg)
	case interengine.KindHandoffAck:
		e.handleHandoffAck(msg)
	case interengine.KindSessionRedirect:
		e.handleSessionRedirect(msg)
	case interengine.KindTransferRequest:
		e.handleTransferRequest(msg)
	}
}

func (e *Engine) handleGlobalBroadcast(msg interengine.Message) {
	for _, p := range e.players.All() {
		e.outbound <- events.SendInfo(events.SessionID(p.SessionID), msg.SenderName+" shouts: "+msg.Text)
		e.promptAfter(events.SessionID(p.SessionID))
	}
}

func (e *Engine) handleTell(msg interengine.Message) {
	p, ok := e.players.ByNameLower(lowerName(msg.To))
	if !ok {
		return
	}
	sid := events.SessionID(p.SessionID)
	e.outbound <- events.SendInfo(sid, msg.From+" tells you: "+msg.Text)
	e.promptAfter(sid)
}

func (e *Engine) handleWhoRequest(msg interengine.Message) {
	if err := e.bus.SendTo(msg.ReplyToEngineID, interengine.Message{
		Kind: interengine.KindWhoResponse, RequestID: msg.RequestID,
		Players:        localWhoEntries(e.players),
		SourceEngineID: e.engineID,
	}); err != nil {
		log.Printf("engine: who response failed: %v", err)
	}
}

func (e *Engine) handleWhoResponse(msg interengine.Message) {
	c, ok := e.whoRequests[msg.RequestID]
	if !ok {
		return
	}
	c.entries = append(c.entries, msg.Players...)
}

// runWhoSweep flushes any who collector past its deadline, whether or
// not every engine has answered; a slow or dead engine must not hang
// the requester's who command forever.
func (e *Engine) runWhoSweep(now time.Time) {
	for requestID, c := range e.whoRequests {
		if now.Before(c.deadline) {
			continue
		}
		delete(e.whoRequests, requestID)
		sid := events.SessionID(c.sessionID)
		e.outbound <- events.SendText(sid, formatWhoEntries(c.entries))
		e.promptAfter(sid)
	}
}

func (e *Engine) handleKickRequest(msg interengine.Message) {
	p, ok := e.players.ByNameLower(lowerName(msg.TargetName))
	if !ok {
		return
	}
	e.outbound <- events.Close(events.SessionID(p.SessionID), "kicked by staff")
}

func (e *Engine) handleShutdownRequest(msg interengine.Message) {
	for _, p := range e.players.All() {
		sid := events.SessionID(p.SessionID)
		e.outbound <- events.SendInfo(sid, "The realm is shutting down ("+msg.Initiator+").")
		e.outbound <- events.Close(sid, "shutdown: "+msg.Initiator)
	}
}

// handlePlayerHandoff runs the target-side protocol (spec.md §4.9): verify
// local ownership and reject duplicates via AcceptHandoff, reconstruct the
// player from msg.PlayerStateJSON, bind it into this engine's registry, and
// broadcast its arrival before acking the source engine with the outcome.
func (e *Engine) handlePlayerHandoff(msg interengine.Message) {
	if e.handoffTarget == nil {
		return
	}
	zone := ""
	if room, ok := e.rooms.Get(world.RoomID(msg.TargetRoomID)); ok {
		zone = room.Zone
	}
	ack := e.handoffTarget.AcceptHandoff(msg, zone)
	if ack.Success {
		var p world.Player
		if err := json.Unmarshal([]byte(msg.PlayerStateJSON), &p); err != nil {
			log.Printf("engine: handoff decode failed: %v", err)
			ack = interengine.Message{
				Kind: interengine.KindHandoffAck, SessionID: msg.SessionID,
				Success: false, ErrorMessage: "failed to reconstruct player state",
			}
		} else {
			p.SessionID = msg.SessionID
			p.RoomID = world.RoomID(msg.TargetRoomID)
			e.players.Add(&p)
			e.broadcastToRoom(p.RoomID, p.Name+" enters.", p.SessionID)
		}
	}
	if err := e.bus.SendTo(msg.SourceEngineID, ack); err != nil {
		log.Printf("engine: handoff ack send failed: %v", err)
	}
}

func (e *Engine) handleHandoffAck(msg interengine.Message) {
	if e.handoffSource == nil {
		return
	}
	result, ok := e.handoffSource.HandleAck(msg)
	if !ok {
		return
	}
	sid := events.SessionID(result.SessionID)
	if !result.Succeeded {
		e.outbound <- events.SendError(sid, "The transfer failed: "+result.ErrorMessage)
		e.promptAfter(sid)
		return
	}
	e.broadcastToRoom(world.RoomID(result.FromRoomID), result.PlayerName+" leaves.", result.SessionID)
	e.players.Remove(result.SessionID)
	e.outbound <- events.SessionRedirect(sid, result.NewEngineID, "", 0)
}

// broadcastToRoom sends an info line to every player currently in roomID,
// skipping excludeSessionID (typically the player the message is about).
func (e *Engine) broadcastToRoom(roomID world.RoomID, text string, excludeSessionID uint64) {
	for _, p := range e.players.All() {
		if p.RoomID != roomID || p.SessionID == excludeSessionID {
			continue
		}
		sid := events.SessionID(p.SessionID)
		e.outbound <- events.SendInfo(sid, text)
		e.promptAfter(sid)
	}
}

func (e *Engine) handleSessionRedirect(msg interengine.Message) {
	e.outbound <- events.SessionRedirect(events.SessionID(msg.SessionID), msg.NewEngineID, msg.NewHost, msg.NewPort)
}

func (e *Engine) handleTransferRequest(msg interengine.Message) {
	p, ok := e.players.ByNameLower(lowerName(msg.Target))
	if !ok {
		return
	}
	destRoomID := world.RoomID(msg.TargetRoomID)
	destZone, ok := e.rooms.ZoneOf(destRoomID)
	if !ok {
		return
	}
	if e.zones != nil && !e.zones.IsLocal(destZone, e.engineID) {
		if err := e.handoffSource.InitiateHandoff(p.SessionID, msg.TargetRoomID, destZone, time.Now()); err != nil {
			log.Printf("engine: staff transfer failed: %v", err)
		}
		return
	}
	p.RoomID = destRoomID
	e.emitRoomDescription(events.SessionID(p.SessionID), p.RoomID)
}
