// Package engine implements the Engine Loop (C5): the single-threaded
// tick scheduler that drains the Inbound Bus, dispatches auth and
// command processing against the World + Registries, runs periodic
// systems, and emits outbound events — the core the teacher's
// cmd/server/main.go never had (it dispatched directly off each
// connection's read loop with no shared tick).
package engine

import (
	"errors"
	"log"
	"time"

	"mudengine/internal/auth"
	"mudengine/internal/command"
	"mudengine/internal/events"
	"mudengine/internal/handoff"
	"mudengine/internal/interengine"
	"mudengine/internal/location"
	"mudengine/internal/persistence"
	"mudengine/internal/world"
	"mudengine/internal/zone"
)

var errPlayerNotFound = errors.New("engine: player not found")

// Config bundles every per-tick budget the Engine Loop enforces, per
// spec.md §4.4.
type Config struct {
	MaxInboundEventsPerTick int
	CombatTickMillis        int
	MaxCombatsPerTick       int
	MobWanderTickMillis     int
	MaxMobMovesPerTick      int
	RegenMinIntervalMs      int
	RegenBaseIntervalMs     int
	RegenMsPerStat          int
	DexDodgePerPoint        float64
	MaxDodgePercent         float64
	HandoffAckTimeoutMs     int
	LocationTTLRefreshEvery time.Duration
	LeaseRenewEvery         time.Duration
}

// Engine is the single logical writer of all world state. Every exported
// method here except RunTick and the constructor is called only from
// within RunTick's own goroutine.
type Engine struct {
	cfg Config

	engineID string

	rooms   *world.RoomRegistry
	players *world.PlayerRegistry
	mobs    *world.MobRegistry
	items   *world.ItemRegistry

	repo     persistence.PlayerRepository
	authFlow *auth.Flow
	sessions map[uint64]*sessionState

	cmdRouter *command.Router

	zones         zone.Registry
	bus           interengine.Bus
	handoffSource *handoff.Source
	handoffTarget *handoff.Target
	locIndex      location.Index

	inbound  <-chan events.Inbound
	outbound chan<- events.Outbound

	lastCombatTick   time.Time
	lastMobTick      time.Time
	lastLeaseRenew   time.Time
	lastLocRefresh   time.Time

	playerTickCursor int
	mobTickCursor    int

	whoRequests map[string]*whoCollector
}

// sessionState is per-connection bookkeeping the Engine Loop owns, kept
// separate from world.Player so a not-yet-authenticated session has
// somewhere to live.
type sessionState struct {
	authState auth.State
	ansi      bool
}

// New constructs an idle Engine; callers wire in zone/bus/handoff/location
// dependencies only when sharding.enabled, leaving them nil otherwise.
func New(cfg Config, engineID string, rooms *world.RoomRegistry, repo persistence.PlayerRepository,
	inbound <-chan events.Inbound, outbound chan<- events.Outbound) *Engine {

	e := &Engine{
		cfg:      cfg,
		engineID: engineID,
		rooms:    rooms,
		players:  world.NewPlayerRegistry(),
		mobs:     world.NewMobRegistry(),
		items:    world.NewItemRegistry(),
		repo:     repo,
		sessions:    make(map[uint64]*sessionState),
		inbound:     inbound,
		outbound:    outbound,
		whoRequests: make(map[string]*whoCollector),
	}

	e.authFlow = auth.NewFlow(playerStore{repo}, e.players.IsOnline, 3)
	e.cmdRouter = buildCommandRouter(e)

	return e
}

// WireSharding attaches the cross-engine collaborators used only in
// sharded deployments, per spec.md §6 sharding.enabled.
func (e *Engine) WireSharding(zones zone.Registry, bus interengine.Bus, ackTimeout time.Duration, locIndex location.Index) {
	e.zones = zones
	e.bus = bus
	e.locIndex = locIndex
	e.handoffSource = handoff.NewSource(e.engineID, zones, bus, playerLookup{e}, ackTimeout)
	e.handoffTarget = handoff.NewTarget(e.engineID, zones, func(sessionID uint64) bool {
		_, ok := e.players.BySession(sessionID)
		return ok
	})
}

// playerStore adapts persistence.PlayerRepository to auth.Store.
type playerStore struct{ repo persistence.PlayerRepository }

func (p playerStore) FindByNameLower(nameLower string) (auth.Account, bool, error) {
	rec, found, err := p.repo.FindByNameLower(nameLower)
	if err != nil || !found {
		return auth.Account{}, found, err
	}
	return auth.Account{
		PlayerID: rec.ID, Name: rec.Name, PasswordHash: rec.PasswordHash,
		IsStaff: rec.IsStaff, MFASecret: rec.MFASecret,
	}, true, nil
}

func (p playerStore) SaveMFASecret(playerID, secret string) error {
	rec, found, err := p.repo.FindByID(playerID)
	if err != nil {
		return err
	}
	if !found {
		return errPlayerNotFound
	}
	rec.MFASecret = secret
	return p.repo.Save(rec)
}

func (p playerStore) CreateAccount(name, passwordHash string) (auth.Account, error) {
	rec, err := p.repo.Create(name, "town:square", time.Now())
	if err != nil {
		return auth.Account{}, err
	}
	rec.PasswordHash = passwordHash
	if err := p.repo.Save(rec); err != nil {
		if delErr := p.repo.Delete(rec.ID); delErr != nil {
			log.Printf("engine: compensating delete for %s failed: %v", rec.ID, delErr)
		}
		return auth.Account{}, err
	}
	return auth.Account{PlayerID: rec.ID, Name: rec.Name, PasswordHash: rec.PasswordHash}, nil
}

// Shutdown notifies every locally connected player and closes their
// sessions; cmd/server calls this once the tick loop has stopped, so it
// runs without racing RunTick's single-writer invariant. It reuses the
// cluster-wide ShutdownRequest handler so a local and a bus-delivered
// shutdown notify players identically.
func (e *Engine) Shutdown(initiator string) {
	e.handleShutdownRequest(interengine.Message{Initiator: initiator})
}

// RunTick executes exactly one tick: drain inbound (bounded), drain
// inter-engine messages, run periodic systems, and return. The caller
// (cmd/server) drives this on a ticker at cfg.Server.TickMillis.
func (e *Engine) RunTick(now time.Time) {
	e.drainInbound()
	e.drainInterEngine()
	e.runPeriodicSystems(now)
}

func (e *Engine) drainInbound() {
	for i := 0; i < e.cfg.MaxInboundEventsPerTick; i++ {
		select {
		case ev := <-e.inbound:
			e.handleInbound(ev)
		default:
			return
		}
	}
}

func (e *Engine) handleInbound(ev events.Inbound) {
	switch ev.Kind {
	case events.KindConnected:
		e.handleConnected(ev)
	case events.KindLineReceived:
		e.handleLine(ev)
	case events.KindStructuredReceived:
		e.handleStructured(ev)
	case events.KindDisconnected:
		e.handleDisconnected(ev)
	}
}

func (e *Engine) handleConnected(ev events.Inbound) {
	e.sessions[uint64(ev.SessionID)] = &sessionState{authState: auth.Initial(), ansi: ev.AnsiEnabled}
	e.outbound <- events.Outbound{Kind: events.KindShowLoginScreen, SessionID: ev.SessionID}
	e.outbound <- events.SendPrompt(ev.SessionID, "Choice:")
}

func (e *Engine) handleLine(ev events.Inbound) {
	sess, ok := e.sessions[uint64(ev.SessionID)]
	if !ok {
		return
	}

	if sess.authState.Kind != auth.KindAuthed {
		e.stepAuth(ev.SessionID, sess, ev.Line)
		return
	}

	cmd := command.Parse(ev.Line)
	e.dispatchCommand(ev.SessionID, cmd)
}

func (e *Engine) stepAuth(sessionID events.SessionID, sess *sessionState, line string) {
	result := e.authFlow.Step(sess.authState, line)
	sess.authState = result.Next

	if result.Error != "" {
		e.outbound <- events.SendError(sessionID, result.Error)
	}

	if result.Next.Kind == auth.KindAuthed {
		e.bindAuthedPlayer(sessionID, result.Next)
	}

	if result.Prompt != "" {
		e.outbound <- events.SendPrompt(sessionID, result.Prompt)
	}
}

func (e *Engine) bindAuthedPlayer(sessionID events.SessionID, state auth.State) {
	rec, found, err := e.repo.FindByID(state.PlayerID)
	startRoom := world.RoomID("town:square")
	if err == nil && found {
		startRoom = world.RoomID(rec.RoomID)
	}

	p := &world.Player{
		SessionID: uint64(sessionID),
		PlayerID:  state.PlayerID,
		Name:      state.Username,
		RoomID:    startRoom,
		HP:        20, MaxHP: 20,
		Mana: 10, MaxMana: 10,
		Level: 1,
	}
	if found {
		p.HP, p.MaxHP, p.Mana, p.MaxMana = rec.HP, rec.MaxHP, rec.Mana, rec.MaxMana
		p.Level, p.XPTotal = rec.Level, rec.XPTotal
		p.Constitution, p.Dexterity = rec.Constitution, rec.Dexterity
		p.IsStaff = rec.IsStaff
		p.Keys = keysFromSlice(rec.BuilderKeys)
	}
	e.players.Add(p)

	if e.locIndex != nil {
		if err := e.locIndex.Register(lowerName(p.Name), e.engineID); err != nil {
			log.Printf("engine: location register failed for %s: %v", p.Name, err)
		}
	}

	e.outbound <- events.Outbound{Kind: events.KindClearScreen, SessionID: sessionID}
	e.emitRoomDescription(sessionID, p.RoomID)
}

func (e *Engine) handleStructured(ev events.Inbound) {
	sess, ok := e.sessions[uint64(ev.SessionID)]
	if !ok {
		return
	}
	if ev.Package == "Core.Supports.Set" {
		sess.ansi = true
		e.outbound <- events.Outbound{Kind: events.KindSetAnsi, SessionID: ev.SessionID, Ansi: true}
	}
}

func (e *Engine) handleDisconnected(ev events.Inbound) {
	delete(e.sessions, uint64(ev.SessionID))

	p, ok := e.players.BySession(uint64(ev.SessionID))
	if !ok {
		return
	}

	e.persistPlayer(p)
	e.players.Remove(uint64(ev.SessionID))

	if e.locIndex != nil {
		if err := e.locIndex.Unregister(lowerName(p.Name), e.engineID); err != nil {
			log.Printf("engine: location unregister failed for %s: %v", p.Name, err)
		}
	}
	if e.handoffSource != nil {
		e.handoffSource.CancelIfPending(p.SessionID)
	}
}

func (e *Engine) persistPlayer(p *world.Player) {
	rec := persistence.PlayerRecord{
		ID: p.PlayerID, Name: p.Name, RoomID: string(p.RoomID),
		HP: p.HP, MaxHP: p.MaxHP, Mana: p.Mana, MaxMana: p.MaxMana,
		Level: p.Level, XPTotal: p.XPTotal,
		Constitution: p.Constitution, Dexterity: p.Dexterity, IsStaff: p.IsStaff,
		BuilderKeys: keysToSlice(p.Keys),
	}
	if err := e.repo.Save(rec); err != nil {
		log.Printf("engine: save failed for player %s: %v", p.Name, err)
	}
}

// keysFromSlice and keysToSlice convert between world.Player's map-shaped
// capability set and persistence.PlayerRecord's flat slice column.
func keysFromSlice(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func keysToSlice(keys map[string]bool) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for k, v := range keys {
		if v {
			out = append(out, k)
		}
	}
	return out
}

func (e *Engine) drainInterEngine() {
	if e.bus == nil {
		return
	}
	for {
		select {
		case msg := <-e.bus.Incoming():
			e.handleInterEngine(msg)
		default:
			return
		}
	}
}

func (e *Engine) runPeriodicSystems(now time.Time) {
	e.runCombatTick(now)
	e.runMobWanderTick(now)
	e.runRegenTick(now)
	e.runHandoffSweep(now)
	e.runLeaseRenewal(now)
	e.runLocationRefresh(now)
	e.runWhoSweep(now)
}

func (e *Engine) runHandoffSweep(now time.Time) {
	if e.handoffSource == nil {
		return
	}
	for _, expired := range e.handoffSource.ExpireTimedOut(now) {
		if p, ok := e.players.ByNameLower(lowerName(expired.PlayerName)); ok {
			e.outbound <- events.SendInfo(events.SessionID(p.SessionID), "The transfer failed; you remain here.")
			e.outbound <- events.SendPrompt(events.SessionID(p.SessionID), "> ")
		}
	}
}

func (e *Engine) runLeaseRenewal(now time.Time) {
	if e.zones == nil || e.cfg.LeaseRenewEvery == 0 {
		return
	}
	if now.Sub(e.lastLeaseRenew) < e.cfg.LeaseRenewEvery {
		return
	}
	e.lastLeaseRenew = now
	if err := e.zones.RenewLease(e.engineID); err != nil {
		log.Printf("engine: lease renewal failed: %v", err)
	}
}

func (e *Engine) runLocationRefresh(now time.Time) {
	if e.locIndex == nil || e.cfg.LocationTTLRefreshEvery == 0 {
		return
	}
	if now.Sub(e.lastLocRefresh) < e.cfg.LocationTTLRefreshEvery {
		return
	}
	e.lastLocRefresh = now
	if err := e.locIndex.RefreshTTLs(e.engineID); err != nil {
		log.Printf("engine: location TTL refresh failed: %v", err)
	}
}

func (e *Engine) emitRoomDescription(sessionID events.SessionID, roomID world.RoomID) {
	room, ok := e.rooms.Get(roomID)
	if !ok {
		e.outbound <- events.SendError(sessionID, "You are nowhere. This is a bug.")
		e.outbound <- events.SendPrompt(sessionID, "> ")
		return
	}
	e.outbound <- events.SendText(sessionID, room.Title+"\r\n"+room.Description)
	e.outbound <- events.SendPrompt(sessionID, "> ")
}

type playerLookup struct{ e *Engine }

func (pl playerLookup) Serialize(sessionID uint64) (string, string, string, bool) {
	p, ok := pl.e.players.BySession(sessionID)
	if !ok {
		return "", "", "", false
	}
	return p.Name, string(p.RoomID), serializePlayer(p), true
}

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
