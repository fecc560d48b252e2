package engine

import (
	"sort"
	"strconv"
	"strings"

	"mudengine/internal/command"
	"mudengine/internal/events"
	"mudengine/internal/world"
)

// keyBuilder gates the builder/admin command surface, adapted from the
// teacher's lock/key model (internal/game/commands.go): a player needs
// the capability regardless of IsStaff, since a staff account and a
// world-editing grant are separate concerns.
const keyBuilder = "builder"

// cmdTeleport moves a builder directly to a room by ID, skipping the
// normal exit graph. Cross-zone teleports are not handed off through
// the Handoff Manager; a builder teleporting off their engine's zones
// is expected to reconnect to the owning engine instead.
func (e *Engine) cmdTeleport(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	if !p.HasKey(keyBuilder) {
		e.outbound <- events.SendError(sid, "You don't have permission to use this command.")
		e.promptAfter(sid)
		return
	}
	if len(cmd.Args) == 0 {
		e.outbound <- events.SendError(sid, "Usage: teleport <roomId>")
		e.promptAfter(sid)
		return
	}

	target := world.RoomID(cmd.Args[0])
	if _, found := e.rooms.Get(target); !found {
		e.outbound <- events.SendError(sid, "Room not found: "+cmd.Args[0])
		e.promptAfter(sid)
		return
	}

	p.RoomID = target
	e.outbound <- events.SendInfo(sid, "You teleport to "+cmd.Args[0]+".")
	e.emitRoomDescription(sid, target)
}

// cmdListRooms lists every loaded room grouped by zone, a builder
// command adapted from the teacher's CmdListRooms.
func (e *Engine) cmdListRooms(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	if !p.HasKey(keyBuilder) {
		e.outbound <- events.SendError(sid, "You don't have permission to use this command.")
		e.promptAfter(sid)
		return
	}

	byZone := make(map[string][]world.Room)
	for _, room := range e.rooms.All() {
		byZone[room.Zone] = append(byZone[room.Zone], room)
	}
	zoneNames := make([]string, 0, len(byZone))
	for zoneName := range byZone {
		zoneNames = append(zoneNames, zoneName)
	}
	sort.Strings(zoneNames)

	var b strings.Builder
	b.WriteString("Rooms:\r\n")
	for _, zoneName := range zoneNames {
		rooms := byZone[zoneName]
		sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
		b.WriteString("Zone: " + zoneName + "\r\n")
		for _, room := range rooms {
			b.WriteString("  " + string(room.ID) + "  " + room.Title + "\r\n")
		}
	}
	b.WriteString("Total: " + strconv.Itoa(e.rooms.Len()) + " rooms")

	e.outbound <- events.SendText(sid, b.String())
	e.promptAfter(sid)
}

// cmdListZones lists every zone this engine's static or lease-backed
// zone registry currently has an assignment for, a builder command
// adapted from the teacher's CmdListZones. With no zone registry wired
// (unsharded deployments) it falls back to the zones discoverable
// directly from the room graph.
func (e *Engine) cmdListZones(sessionID uint64, cmd command.Command) {
	sid := events.SessionID(sessionID)
	p, ok := e.players.BySession(sessionID)
	if !ok {
		return
	}
	if !p.HasKey(keyBuilder) {
		e.outbound <- events.SendError(sid, "You don't have permission to use this command.")
		e.promptAfter(sid)
		return
	}

	roomCounts := make(map[string]int)
	for _, room := range e.rooms.All() {
		roomCounts[room.Zone]++
	}

	var b strings.Builder
	b.WriteString("Zones:\r\n")

	if e.zones != nil {
		assignments := e.zones.AllAssignments()
		names := make([]string, 0, len(assignments))
		for zoneName := range assignments {
			names = append(names, zoneName)
		}
		sort.Strings(names)
		for _, zoneName := range names {
			addr := assignments[zoneName]
			b.WriteString("  " + zoneName + "  owner=" + addr.EngineID + "  rooms=" + strconv.Itoa(roomCounts[zoneName]) + "\r\n")
		}
		b.WriteString("Total: " + strconv.Itoa(len(names)) + " zones")
		e.outbound <- events.SendText(sid, b.String())
		e.promptAfter(sid)
		return
	}

	names := make([]string, 0, len(roomCounts))
	for zoneName := range roomCounts {
		names = append(names, zoneName)
	}
	sort.Strings(names)
	for _, zoneName := range names {
		b.WriteString("  " + zoneName + "  rooms=" + strconv.Itoa(roomCounts[zoneName]) + "\r\n")
	}
	b.WriteString("Total: " + strconv.Itoa(len(names)) + " zones")
	e.outbound <- events.SendText(sid, b.String())
	e.promptAfter(sid)
}
