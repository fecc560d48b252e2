package engine

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mudengine/internal/command"
	"mudengine/internal/events"
	"mudengine/internal/interengine"
	"mudengine/internal/world"
)

// buildCommandRouter registers every verb/kind handler at construction
// time, mirroring the teacher's NewCommandRegistry registration block
// (internal/game/commands.go) generalized to the tagged-union parser.
func buildCommandRouter(e *Engine) *command.Router {
	r := command.NewRouter()

	r.RegisterKind(command.KindNoop, func(sessionID uint64, cmd command.Command) {})
	r.RegisterKind(command.KindSay, e.cmdSay)
	r.RegisterKind(command.KindMove, e.cmdMove)
	r.RegisterKind(command.KindUnknown, e.cmdUnknown)
	r.RegisterKind(command.KindInvalid, e.cmdInvalid)
	r.RegisterKind(command.KindDialogueChoice, func(sessionID uint64, cmd command.Command) {
		e.promptAfter(events.SessionID(sessionID))
	})

	r.RegisterVerb("look", e.cmdLook)
	r.RegisterVerb("quit", e.cmdQuit)
	r.RegisterVerb("who", e.cmdWho)
	r.RegisterVerb("score", e.cmdScore)
	r.RegisterVerb("attack", e.cmdAttack)
	r.RegisterVerb("flee", e.cmdFlee)
	r.RegisterVerb("teleport", e.cmdTeleport)
	r.RegisterVerb("rooms", e.cmdListRooms)
	r.RegisterVerb("zones", e.cmdListZones)

	return r
}

func (e *Engine) dispatchCommand(sessionID events.SessionID, cmd command.Command) {
	e.cmdRouter.Dispatch(uint64(sessionID), cmd)
}

func (e *Engine) promptAfter(sessionID events.SessionID) {
	e.outbound <- events.SendPrompt(sessionID, "> ")
}

func (e *Engine) cmdSay(sessionID uint64, cmd command.Command) {
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	for _, other := range e.players.All() {
		if other.RoomID != p.RoomID {
			continue
		}
		if other.SessionID == sessionID {
			e.outbound <- events.SendText(events.SessionID(other.SessionID), "You say: "+cmd.Message)
		} else {
			e.outbound <- events.SendText(events.SessionID(other.SessionID), p.Name+" says: "+cmd.Message)
		}
	}
	e.promptAfter(events.SessionID(sessionID))
}

// cmdMove implements spec.md §4.4's movement rules: rejected while in
// combat, delegated to Handoff when the destination zone is remote.
func (e *Engine) cmdMove(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}

	if p.InCombatWith != "" {
		e.outbound <- events.SendError(sid, "You are in combat.")
		e.promptAfter(sid)
		return
	}

	dest, ok := e.rooms.Exit(p.RoomID, cmd.Direction)
	if !ok {
		e.outbound <- events.SendError(sid, "You cannot go that way.")
		e.promptAfter(sid)
		return
	}

	destZone, _ := e.rooms.ZoneOf(dest)
	if e.zones != nil && !e.zones.IsLocal(destZone, e.engineID) {
		if err := e.handoffSource.InitiateHandoff(sessionID, string(dest), destZone, nowFunc()); err != nil {
			e.outbound <- events.SendError(sid, "You cannot travel there right now.")
			e.promptAfter(sid)
			return
		}
		e.outbound <- events.SendInfo(sid, "You shimmer and begin to fade...")
		e.promptAfter(sid)
		return
	}

	p.RoomID = dest
	e.emitRoomDescription(sid, dest)
}

func (e *Engine) cmdLook(sessionID uint64, cmd command.Command) {
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	e.emitRoomDescription(events.SessionID(sessionID), p.RoomID)
}

func (e *Engine) cmdQuit(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	e.outbound <- events.Close(sid, "quit")
}

// cmdWho lists every locally online player, and when sharding is wired
// fans a WhoRequest out over the bus and delays its reply until
// runWhoSweep collects every engine's response or the collection
// deadline passes, per spec.md §4.7's WhoRequest/WhoResponse pair.
func (e *Engine) cmdWho(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	local := localWhoEntries(e.players)

	if e.bus == nil {
		e.outbound <- events.SendText(sid, formatWhoEntries(local))
		e.promptAfter(sid)
		return
	}

	requestID := uuid.NewString()
	e.whoRequests[requestID] = &whoCollector{
		sessionID: sessionID,
		entries:   local,
		deadline:  nowFunc().Add(300 * time.Millisecond),
	}
	if err := e.bus.Broadcast(interengine.Message{
		Kind: interengine.KindWhoRequest, RequestID: requestID, ReplyToEngineID: e.engineID,
		SourceEngineID: e.engineID,
	}); err != nil {
		log.Printf("engine: who broadcast failed: %v", err)
	}
}

func localWhoEntries(players *world.PlayerRegistry) []interengine.WhoEntry {
	all := players.All()
	out := make([]interengine.WhoEntry, 0, len(all))
	for _, p := range all {
		out = append(out, interengine.WhoEntry{Name: p.Name, RoomID: string(p.RoomID), Level: p.Level})
	}
	return out
}

func formatWhoEntries(entries []interengine.WhoEntry) string {
	var b strings.Builder
	b.WriteString("Online players:\r\n")
	for _, w := range entries {
		b.WriteString("  " + w.Name + " (level " + strconv.Itoa(w.Level) + ")\r\n")
	}
	return strings.TrimRight(b.String(), "\r\n")
}

func (e *Engine) cmdScore(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	e.outbound <- events.SendText(sid, p.Name+": level "+strconv.Itoa(p.Level)+" HP "+strconv.Itoa(p.HP)+"/"+strconv.Itoa(p.MaxHP)+" Mana "+strconv.Itoa(p.Mana)+"/"+strconv.Itoa(p.MaxMana))
	e.promptAfter(sid)
}

func (e *Engine) cmdAttack(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	if len(cmd.Args) == 0 {
		e.outbound <- events.SendError(sid, "Attack what?")
		e.promptAfter(sid)
		return
	}
	target := findMobInRoom(e.mobs, p.RoomID, cmd.Args[0])
	if target == nil {
		e.outbound <- events.SendError(sid, "There is nothing here by that name.")
		e.promptAfter(sid)
		return
	}
	p.InCombatWith = target.ID
	target.InCombatWith = p.PlayerID
	e.outbound <- events.SendInfo(sid, "You attack "+target.TemplateID+"!")
	e.promptAfter(sid)
}

func (e *Engine) cmdFlee(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	if p.InCombatWith == "" {
		e.outbound <- events.SendError(sid, "You are not in combat.")
		e.promptAfter(sid)
		return
	}
	if m, ok := e.mobs.Get(p.InCombatWith); ok {
		m.InCombatWith = ""
	}
	p.InCombatWith = ""
	e.outbound <- events.SendInfo(sid, "You flee from combat.")
	e.promptAfter(sid)
}

func (e *Engine) cmdUnknown(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	e.outbound <- events.SendError(sid, "Unknown command: "+cmd.Raw)
	e.promptAfter(sid)
}

func (e *Engine) cmdInvalid(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	e.outbound <- events.SendError(sid, "Usage: "+cmd.InvalidUsage)
	e.promptAfter(sid)
}

func findMobInRoom(mobs *world.MobRegistry, roomID world.RoomID, nameFragment string) *world.Mob {
	fragment := strings.ToLower(nameFragment)
	for _, m := range mobs.All() {
		if m.RoomID == roomID && strings.Contains(strings.ToLower(m.TemplateID), fragment) {
			return m
		}
	}
	return nil
}

func serializePlayer(p *world.Player) string {
	data, _ := json.Marshal(p)
	return string(data)
}

