package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mudengine/internal/command"
	"mudengine/internal/events"
	"mudengine/internal/handoff"
	"mudengine/internal/interengine"
	"mudengine/internal/persistence"
	"mudengine/internal/world"
	"mudengine/internal/zone"
)

type fakeRepo struct {
	byID map[string]persistence.PlayerRecord
}

func newFakeRepo() *fakeRepo { return &fakeRepo{byID: make(map[string]persistence.PlayerRecord)} }

func (f *fakeRepo) FindByID(id string) (persistence.PlayerRecord, bool, error) {
	r, ok := f.byID[id]
	return r, ok, nil
}
func (f *fakeRepo) FindByName(name string) (persistence.PlayerRecord, bool, error) {
	for _, r := range f.byID {
		if r.Name == name {
			return r, true, nil
		}
	}
	return persistence.PlayerRecord{}, false, nil
}
func (f *fakeRepo) FindByNameLower(nameLower string) (persistence.PlayerRecord, bool, error) {
	return f.FindByName(nameLower)
}
func (f *fakeRepo) Create(name, startRoomID string, now time.Time) (persistence.PlayerRecord, error) {
	rec := persistence.PlayerRecord{ID: name + "-id", Name: name, RoomID: startRoomID, CreatedAt: now}
	f.byID[rec.ID] = rec
	return rec, nil
}
func (f *fakeRepo) Save(rec persistence.PlayerRecord) error {
	f.byID[rec.ID] = rec
	return nil
}
func (f *fakeRepo) Delete(id string) error {
	delete(f.byID, id)
	return nil
}

func writeRoomFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func testConfig() Config {
	return Config{
		MaxInboundEventsPerTick: 2,
		CombatTickMillis:        100,
		MaxCombatsPerTick:       10,
		MobWanderTickMillis:     1000,
		MaxMobMovesPerTick:      10,
		RegenMinIntervalMs:      1000,
		RegenBaseIntervalMs:     5000,
		RegenMsPerStat:          100,
		DexDodgePerPoint:        1,
		MaxDodgePercent:         50,
		HandoffAckTimeoutMs:     5000,
	}
}

func newTestEngine(t *testing.T, roomsYAML string) (*Engine, chan events.Inbound, chan events.Outbound) {
	t.Helper()
	path := writeRoomFile(t, roomsYAML)
	rooms, err := world.LoadRooms([]string{path})
	if err != nil {
		t.Fatalf("loading rooms: %v", err)
	}
	inbound := make(chan events.Inbound, 16)
	outbound := make(chan events.Outbound, 64)
	e := New(testConfig(), "engine-a", rooms, newFakeRepo(), inbound, outbound)
	return e, inbound, outbound
}

func drainOutbound(outbound chan events.Outbound) []events.Outbound {
	var out []events.Outbound
	for {
		select {
		case ev := <-outbound:
			out = append(out, ev)
		default:
			return out
		}
	}
}

const twoRoomYAML = `
rooms:
  - id: "town:square"
    zone: "town"
    title: "Town Square"
    description: "A bustling square."
    exits:
      north: "town:gate"
  - id: "town:gate"
    zone: "town"
    title: "Town Gate"
    description: "A sturdy gate."
`

func TestRunTickBoundsInboundDrainByConfiguredBudget(t *testing.T) {
	e, inbound, _ := newTestEngine(t, twoRoomYAML)

	for i := 0; i < 5; i++ {
		inbound <- events.Inbound{Kind: events.KindConnected, SessionID: events.SessionID(i + 1)}
	}

	e.RunTick(time.Now())

	if len(e.sessions) != e.cfg.MaxInboundEventsPerTick {
		t.Fatalf("expected exactly %d sessions created by one tick's budget, got %d", e.cfg.MaxInboundEventsPerTick, len(e.sessions))
	}
	if len(inbound) != 5-e.cfg.MaxInboundEventsPerTick {
		t.Fatalf("expected %d events left queued, got %d", 5-e.cfg.MaxInboundEventsPerTick, len(inbound))
	}
}

func TestCmdMoveRejectedWhileInCombat(t *testing.T) {
	e, _, outbound := newTestEngine(t, twoRoomYAML)

	p := &world.Player{SessionID: 1, PlayerID: "p1", Name: "Alice", RoomID: "town:square", InCombatWith: "mob-1"}
	e.players.Add(p)

	e.cmdMove(1, command.Command{Direction: "north"})

	if p.RoomID != "town:square" {
		t.Fatalf("expected player to stay put while in combat, got room %q", p.RoomID)
	}

	found := false
	for _, ev := range drainOutbound(outbound) {
		if ev.Kind == events.KindSendError && ev.Text == "You are in combat." {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a combat rejection error to be emitted")
	}
}

func TestCmdMoveWithinLocalZoneUpdatesRoom(t *testing.T) {
	e, _, _ := newTestEngine(t, twoRoomYAML)

	p := &world.Player{SessionID: 1, PlayerID: "p1", Name: "Alice", RoomID: "town:square"}
	e.players.Add(p)

	e.cmdMove(1, command.Command{Direction: "north"})

	if p.RoomID != "town:gate" {
		t.Fatalf("expected player to move to town:gate, got %q", p.RoomID)
	}
}

const crossZoneRoomYAML = `
rooms:
  - id: "town:square"
    zone: "town"
    title: "Town Square"
    description: "A bustling square."
    exits:
      north: "frontier:gate"
  - id: "frontier:gate"
    zone: "frontier"
    title: "Frontier Gate"
    description: "A windswept gate."
`

func TestCmdMoveDelegatesToHandoffAcrossZoneBoundary(t *testing.T) {
	e, _, outbound := newTestEngine(t, crossZoneRoomYAML)

	registry, err := zone.NewStaticRegistry(map[string]zone.EngineAddress{
		"town":     {EngineID: "engine-a", Host: "a", Port: 1},
		"frontier": {EngineID: "engine-b", Host: "b", Port: 1},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	bus := interengine.NewLocalBus("engine-a", 16)
	e.WireSharding(registry, bus, 5*time.Second, nil)

	p := &world.Player{SessionID: 1, PlayerID: "p1", Name: "Alice", RoomID: "town:square"}
	e.players.Add(p)

	e.cmdMove(1, command.Command{Direction: "north"})

	if p.RoomID != "town:square" {
		t.Fatalf("player room should not change until handoff ack arrives, got %q", p.RoomID)
	}
	if !e.handoffSource.IsInTransit(1) {
		t.Fatal("expected a pending handoff to be recorded")
	}

	found := false
	for _, ev := range drainOutbound(outbound) {
		if ev.Kind == events.KindSendInfo && ev.Text == "You shimmer and begin to fade..." {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a handoff-in-progress message to be emitted")
	}
}

func TestRunRegenTickRespectsCadenceFloor(t *testing.T) {
	e, _, _ := newTestEngine(t, twoRoomYAML)

	p := &world.Player{SessionID: 1, Name: "Alice", RoomID: "town:square", HP: 1, MaxHP: 10, Constitution: 0}
	e.players.Add(p)

	base := time.Now()
	e.runRegenTick(base)
	if p.HP != 2 {
		t.Fatalf("expected first regen tick to apply, got HP=%d", p.HP)
	}

	e.runRegenTick(base.Add(10 * time.Millisecond))
	if p.HP != 2 {
		t.Fatalf("expected regen to be withheld before the interval elapses, got HP=%d", p.HP)
	}

	e.runRegenTick(base.Add(time.Duration(e.cfg.RegenBaseIntervalMs+1) * time.Millisecond))
	if p.HP != 3 {
		t.Fatalf("expected regen to apply once the interval elapses, got HP=%d", p.HP)
	}
}

func TestRunMobWanderTickStaysWithinZone(t *testing.T) {
	e, _, _ := newTestEngine(t, twoRoomYAML)

	m := &world.Mob{ID: "mob-1", TemplateID: "rat", RoomID: "town:square"}
	e.mobs.Add(m)

	e.runMobWanderTick(time.Now())

	if m.RoomID != "town:gate" {
		t.Fatalf("expected mob to wander to its only exit, got %q", m.RoomID)
	}
}

func TestHandleInterEngineGlobalBroadcastReachesLocalPlayers(t *testing.T) {
	e, _, outbound := newTestEngine(t, twoRoomYAML)

	p := &world.Player{SessionID: 1, Name: "Alice", RoomID: "town:square"}
	e.players.Add(p)

	e.handleInterEngine(interengine.Message{Kind: interengine.KindGlobalBroadcast, SenderName: "Bob", Text: "hello"})

	found := false
	for _, ev := range drainOutbound(outbound) {
		if ev.Kind == events.KindSendInfo && ev.Text == "Bob shouts: hello" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the broadcast to reach the local player")
	}
}

func TestHandleInterEngineHandoffAckSuccessRedirectsSession(t *testing.T) {
	e, _, outbound := newTestEngine(t, crossZoneRoomYAML)

	registry, err := zone.NewStaticRegistry(map[string]zone.EngineAddress{
		"town":     {EngineID: "engine-a", Host: "a", Port: 1},
		"frontier": {EngineID: "engine-b", Host: "b", Port: 2},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	bus := interengine.NewLocalBus("engine-a", 16)
	e.WireSharding(registry, bus, 5*time.Second, nil)

	p := &world.Player{SessionID: 1, PlayerID: "p1", Name: "Alice", RoomID: "town:square"}
	e.players.Add(p)

	if err := e.handoffSource.InitiateHandoff(1, "frontier:gate", "frontier", time.Now()); err != nil {
		t.Fatalf("initiating handoff: %v", err)
	}

	bystander := &world.Player{SessionID: 2, PlayerID: "p2", Name: "Bob", RoomID: "town:square"}
	e.players.Add(bystander)

	e.handleInterEngine(interengine.Message{Kind: interengine.KindHandoffAck, SessionID: 1, Success: true})

	redirected := false
	leftMessage := false
	for _, ev := range drainOutbound(outbound) {
		if ev.Kind == events.KindSessionRedirect && ev.NewEngineID == "engine-b" {
			redirected = true
		}
		if ev.Kind == events.KindSendInfo && ev.Text == "Alice leaves." {
			leftMessage = true
		}
	}
	if !redirected {
		t.Fatal("expected a session redirect to the target engine")
	}
	if !leftMessage {
		t.Fatal("expected a departure message broadcast to the origin room")
	}
	if e.handoffSource.IsInTransit(1) {
		t.Fatal("expected the pending handoff to be cleared after a successful ack")
	}
	if _, ok := e.players.BySession(1); ok {
		t.Fatal("expected the player to be removed from the source engine's registry")
	}
}

func TestHandlePlayerHandoffMaterializesPlayerOnTargetEngine(t *testing.T) {
	e, _, outbound := newTestEngine(t, crossZoneRoomYAML)

	registry, err := zone.NewStaticRegistry(map[string]zone.EngineAddress{
		"frontier": {EngineID: "engine-a", Host: "a", Port: 1},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	bus := interengine.NewLocalBus("engine-a", 16)
	e.WireSharding(registry, bus, 5*time.Second, nil)

	bystander := &world.Player{SessionID: 2, PlayerID: "p2", Name: "Bob", RoomID: "frontier:gate"}
	e.players.Add(bystander)

	incoming := &world.Player{PlayerID: "p1", Name: "Alice", RoomID: "town:square", HP: 7, MaxHP: 10}
	stateJSON, err := json.Marshal(incoming)
	if err != nil {
		t.Fatalf("marshaling player state: %v", err)
	}

	e.handleInterEngine(interengine.Message{
		Kind:            interengine.KindPlayerHandoff,
		SessionID:       1,
		TargetRoomID:    "frontier:gate",
		PlayerStateJSON: string(stateJSON),
		SourceEngineID:  "engine-a",
	})

	bound, ok := e.players.BySession(1)
	if !ok {
		t.Fatal("expected the handed-off player to be added to the target engine's registry")
	}
	if bound.RoomID != "frontier:gate" {
		t.Fatalf("expected the player to land in the destination room, got %q", bound.RoomID)
	}
	if bound.HP != 7 {
		t.Fatalf("expected player HP to survive the handoff, got %d", bound.HP)
	}

	enteredMessage := false
	for _, ev := range drainOutbound(outbound) {
		if ev.Kind == events.KindSendInfo && ev.Text == "Alice enters." {
			enteredMessage = true
		}
	}
	if !enteredMessage {
		t.Fatal("expected an arrival message broadcast to the destination room")
	}
}

func TestHandoffTargetRejectsWhenZoneNotLocal(t *testing.T) {
	registry, err := zone.NewStaticRegistry(map[string]zone.EngineAddress{
		"frontier": {EngineID: "engine-b", Host: "b", Port: 2},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	target := handoff.NewTarget("engine-a", registry, func(uint64) bool { return false })

	ack := target.AcceptHandoff(interengine.Message{SessionID: 1}, "frontier")
	if ack.Success {
		t.Fatal("expected the target to reject a zone it does not own")
	}
}
