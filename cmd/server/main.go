// Command server is the AmbonMUD process entry point: it loads layered
// configuration, wires the World, Persistence, Engine, Outbound Router,
// and both Transport Session variants together, optionally joins a
// zone-sharded cluster, and drives the tick loop until a shutdown signal
// arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"mudengine/internal/config"
	"mudengine/internal/engine"
	"mudengine/internal/events"
	"mudengine/internal/interengine"
	"mudengine/internal/location"
	"mudengine/internal/outbound"
	"mudengine/internal/persistence"
	"mudengine/internal/session"
	"mudengine/internal/transport"
	"mudengine/internal/world"
	"mudengine/internal/zone"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	log.Printf("%s v%s starting up...", cfg.Server.Name, cfg.Server.Version)

	rooms, err := world.LoadRooms(cfg.World.Resources)
	if err != nil {
		log.Fatalf("failed to load world: %v", err)
	}
	log.Printf("loaded %d rooms", rooms.Len())

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	repo, writeBehind, err := buildPersistence(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to build persistence layer: %v", err)
	}
	writeBehind.Start()

	inbound := make(chan events.Inbound, cfg.Server.InboundChannelCapacity)
	outboundCh := make(chan events.Outbound, cfg.Server.OutboundChannelCapacity)

	eng := engine.New(engineConfig(cfg), cfg.Sharding.EngineID, rooms, repo, inbound, outboundCh)

	var bus interengine.Bus
	var zones zone.Registry
	var locIndex location.Index
	if cfg.Sharding.Enabled {
		bus, zones, locIndex, err = wireSharding(cfg, redisClient)
		if err != nil {
			log.Fatalf("failed to wire sharding: %v", err)
		}
		if err := bus.Start(); err != nil {
			log.Fatalf("failed to start inter-engine bus: %v", err)
		}
		if err := zones.ClaimZones(cfg.Sharding.EngineID, zone.EngineAddress{
			EngineID: cfg.Sharding.EngineID,
			Host:     cfg.Sharding.AdvertiseHost,
			Port:     cfg.Sharding.AdvertisePort,
		}, cfg.Sharding.Zones); err != nil {
			log.Fatalf("failed to claim zones: %v", err)
		}
		eng.WireSharding(zones, bus, time.Duration(cfg.Sharding.Handoff.AckTimeoutMs)*time.Millisecond, locIndex)
		log.Printf("sharding enabled: engine %q owns zones %v", cfg.Sharding.EngineID, cfg.Sharding.Zones)
	}

	router := outbound.New()
	register := func(s *session.Session) { router.RegisterSession(s) }

	telnetAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TelnetPort)
	telnetServer := transport.NewTelnetServer(
		cfg.Transport.Telnet.MaxLineLen, cfg.Transport.Telnet.MaxNonPrintablePerLine,
		cfg.Transport.MaxInboundBackpressureFailures, cfg.Server.SessionOutboundQueueCapacity, inbound)
	if err := telnetServer.Start(telnetAddr, register); err != nil {
		log.Fatalf("failed to start telnet listener on %s: %v", telnetAddr, err)
	}
	log.Printf("telnet listening on %s", telnetAddr)

	webServer := transport.NewWebServer(
		cfg.Transport.Telnet.MaxLineLen, cfg.Transport.Telnet.MaxNonPrintablePerLine,
		cfg.Transport.MaxInboundBackpressureFailures, cfg.Server.SessionOutboundQueueCapacity, inbound)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", webServer.Handler(register))
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Transport.Websocket.Host, cfg.Server.WebPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg errgroup.Group
	wg.Go(func() error {
		router.Run(outboundCh)
		return nil
	})
	wg.Go(func() error {
		log.Printf("web client listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	tickStop := make(chan struct{})
	tickDone := make(chan struct{})
	go runTickLoop(eng, time.Duration(cfg.Server.TickMillis)*time.Millisecond, tickStop, tickDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("received signal: %v", sig)

	performGracefulShutdown(cfg, telnetServer, httpServer, eng, writeBehind, bus, zones, locIndex, tickStop, tickDone, outboundCh)

	if err := wg.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("%s v%s offline.", cfg.Server.Name, cfg.Server.Version)
}

// runTickLoop drives Engine.RunTick on a fixed cadence until stop is
// closed, then closes done so the shutdown sequence can safely call
// Engine methods from another goroutine without violating the single
// writer invariant.
func runTickLoop(eng *engine.Engine, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			eng.RunTick(now)
		case <-stop:
			return
		}
	}
}

// performGracefulShutdown generalizes the teacher's five-step
// performGracefulShutdown to the tick loop, the write-behind persistence
// worker, and (when sharding is enabled) the inter-engine bus. The zone
// registry and location index are passed in but not released here.
func performGracefulShutdown(
	cfg *config.Config,
	telnetServer *transport.TelnetServer,
	httpServer *http.Server,
	eng *engine.Engine,
	writeBehind *persistence.WriteBehind,
	bus interengine.Bus,
	zones zone.Registry,
	locIndex location.Index,
	tickStop chan struct{},
	tickDone <-chan struct{},
	outboundCh chan events.Outbound,
) {
	log.Printf("%s v%s shutting down...", cfg.Server.Name, cfg.Server.Version)

	log.Println("[1/5] Stopping new connections...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer cancel()
	if err := telnetServer.Stop(); err != nil {
		log.Printf("  telnet listener stop error: %v", err)
	}

	log.Println("[2/5] Notifying connected players...")
	close(tickStop)
	<-tickDone
	eng.Shutdown(cfg.Server.Name)
	close(outboundCh)

	log.Println("[3/5] Flushing persistence writes...")
	writeBehind.FlushNow()
	writeBehind.Stop()

	log.Println("[4/5] Closing cluster membership...")
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Printf("  bus close error: %v", err)
		}
	}

	log.Println("[5/5] Shutting down listeners...")
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("  web server shutdown error: %v", err)
	}
}

// buildPersistence assembles the PlayerRepository chain named in
// SPEC_FULL.md: a file or relational backend, optionally wrapped in a
// Redis read-through cache, always wrapped in a write-behind dirty-set
// buffer so the Engine Loop never blocks a tick on disk or network I/O.
func buildPersistence(cfg *config.Config, redisClient *redis.Client) (persistence.PlayerRepository, *persistence.WriteBehind, error) {
	var backend persistence.PlayerRepository
	var err error

	switch cfg.Persistence.Backend {
	case "relational":
		backend, err = persistence.NewRelationalRepository(cfg.Persistence.Driver, cfg.Persistence.DSN)
	default:
		backend, err = persistence.NewFileRepository(cfg.Persistence.RootDir)
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.Redis.Enabled && redisClient != nil && cfg.Persistence.CacheTTL > 0 {
		backend = persistence.NewCachedRepository(backend, redisClient, time.Duration(cfg.Persistence.CacheTTL)*time.Second)
	}

	wb := persistence.NewWriteBehind(backend, time.Duration(cfg.Persistence.Worker.FlushIntervalMs)*time.Millisecond)
	return wb, wb, nil
}

// engineConfig translates the structured configuration document into
// engine.Config, the flat per-tick budget set the Engine Loop enforces.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MaxInboundEventsPerTick: cfg.Server.MaxInboundEventsPerTick,
		CombatTickMillis:        cfg.Engine.Combat.TickMillis,
		MaxCombatsPerTick:       cfg.Engine.Combat.MaxCombatsPerTick,
		MobWanderTickMillis:     cfg.Engine.Mob.WanderTickMillis,
		MaxMobMovesPerTick:      cfg.Engine.Mob.MaxMovesPerTick,
		RegenMinIntervalMs:      cfg.Engine.Regen.MinIntervalMs,
		RegenBaseIntervalMs:     cfg.Engine.Regen.BaseIntervalMs,
		RegenMsPerStat:          cfg.Engine.Regen.MsPerStat,
		DexDodgePerPoint:        cfg.Engine.Combat.DexDodgePerPoint,
		MaxDodgePercent:         cfg.Engine.Combat.MaxDodgePercent,
		HandoffAckTimeoutMs:     cfg.Sharding.Handoff.AckTimeoutMs,
		LocationTTLRefreshEvery: time.Duration(cfg.Sharding.PlayerIndex.HeartbeatMs) * time.Millisecond,
		LeaseRenewEvery:         time.Duration(cfg.Sharding.Registry.LeaseTTLSeconds) * time.Second / 3,
	}
}

// wireSharding builds the zone registry, inter-engine bus, and optional
// location index for a sharded cluster member, per spec.md §6's
// sharding.* configuration surface.
func wireSharding(cfg *config.Config, redisClient *redis.Client) (interengine.Bus, zone.Registry, location.Index, error) {
	var zones zone.Registry
	var err error

	switch cfg.Sharding.Registry.Type {
	case "lease":
		if redisClient == nil {
			return nil, nil, nil, fmt.Errorf("sharding.registry.type=lease requires redis.enabled=true")
		}
		zones = zone.NewLeaseRegistry(redisClient, time.Duration(cfg.Sharding.Registry.LeaseTTLSeconds)*time.Second,
			cfg.Sharding.PlayerIndex.Enabled, cfg.Sharding.Zones)
	default:
		assignments := make(map[string]zone.EngineAddress, len(cfg.Sharding.Registry.Assignments))
		for zoneName, raw := range cfg.Sharding.Registry.Assignments {
			addr, parseErr := parseEngineAddress(raw)
			if parseErr != nil {
				return nil, nil, nil, fmt.Errorf("sharding.registry.assignments[%s]: %w", zoneName, parseErr)
			}
			assignments[zoneName] = addr
		}
		zones, err = zone.NewStaticRegistry(assignments)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var bus interengine.Bus
	if redisClient != nil {
		bus = interengine.NewRedisBus(redisClient, cfg.Sharding.EngineID, "ambonmud", cfg.Server.OutboundChannelCapacity)
	} else {
		bus = interengine.NewLocalBus(cfg.Sharding.EngineID, cfg.Server.OutboundChannelCapacity)
	}

	var locIndex location.Index
	if cfg.Sharding.PlayerIndex.Enabled {
		if redisClient == nil {
			return nil, nil, nil, fmt.Errorf("sharding.player_index.enabled requires redis.enabled=true")
		}
		locIndex = location.NewRedisIndex(redisClient, time.Duration(cfg.Sharding.PlayerIndex.TTLSeconds)*time.Second)
	}

	return bus, zones, locIndex, nil
}

// parseEngineAddress decodes a "engineId@host:port" assignment string
// from config.ShardingConfig.Registry.Assignments.
func parseEngineAddress(raw string) (zone.EngineAddress, error) {
	atIdx := strings.IndexByte(raw, '@')
	if atIdx < 0 {
		return zone.EngineAddress{}, fmt.Errorf("expected engineId@host:port, got %q", raw)
	}
	engineID := raw[:atIdx]
	hostPort := raw[atIdx+1:]

	colonIdx := strings.LastIndexByte(hostPort, ':')
	if colonIdx < 0 {
		return zone.EngineAddress{}, fmt.Errorf("expected host:port, got %q", hostPort)
	}
	port, err := strconv.Atoi(hostPort[colonIdx+1:])
	if err != nil {
		return zone.EngineAddress{}, fmt.Errorf("invalid port in %q: %w", hostPort, err)
	}
	return zone.EngineAddress{EngineID: engineID, Host: hostPort[:colonIdx], Port: port}, nil
}
