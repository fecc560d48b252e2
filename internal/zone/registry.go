// Package zone implements the Zone Registry (C8): the shared map of
// zone to owning engine, either static (built once from config) or
// lease-backed (Redis TTL keys), with a rendezvous-hash fallback for
// when no lease is held, per spec.md §4.8.
package zone

// EngineAddress identifies one engine process reachable for handoffs.
type EngineAddress struct {
	EngineID string
	Host     string
	Port     int
}

// Instance is one engine's claim on a zone, used only when instancing is
// enabled.
type Instance struct {
	EngineAddress
	Zone        string
	PlayerCount int
	Capacity    int
}

// Registry is the contract the Engine Loop and Handoff Manager depend on,
// per spec.md §4.8.
type Registry interface {
	OwnerOf(zoneName string) (EngineAddress, bool)
	ClaimZones(engineID string, addr EngineAddress, zones []string) error
	RenewLease(engineID string) error
	AllAssignments() map[string]EngineAddress
	IsLocal(zoneName, engineID string) bool

	InstancesOf(zoneName string) []Instance
	ReportLoad(engineID string, zoneCounts map[string]int) error
	InstancingEnabled() bool
}

// StaticRegistry is built once from config.ShardingConfig.Registry and
// never changes at runtime; ClaimZones/RenewLease are no-ops. It does no
// duplicate check of its own: its input is already keyed by zone name.
type StaticRegistry struct {
	assignments map[string]EngineAddress
}

// NewStaticRegistry builds a registry from a zone->EngineAddress map
// already parsed out of config (config.ShardingConfig.Registry.Assignments
// is a zone -> "engineId@host:port" string map; parsing that string lives
// in cmd/server, not here, to keep this package free of config details).
func NewStaticRegistry(assignments map[string]EngineAddress) (*StaticRegistry, error) {
	// Duplicate detection is meaningless for a map keyed by zone name —
	// the caller building the map is what must reject duplicate zone
	// entries across config sources before calling this constructor.
	return &StaticRegistry{assignments: assignments}, nil
}

func (s *StaticRegistry) OwnerOf(zoneName string) (EngineAddress, bool) {
	addr, ok := s.assignments[zoneName]
	return addr, ok
}

func (s *StaticRegistry) ClaimZones(engineID string, addr EngineAddress, zones []string) error { return nil }
func (s *StaticRegistry) RenewLease(engineID string) error                                     { return nil }

func (s *StaticRegistry) AllAssignments() map[string]EngineAddress {
	out := make(map[string]EngineAddress, len(s.assignments))
	for k, v := range s.assignments {
		out[k] = v
	}
	return out
}

func (s *StaticRegistry) IsLocal(zoneName, engineID string) bool {
	addr, ok := s.assignments[zoneName]
	return ok && addr.EngineID == engineID
}

func (s *StaticRegistry) InstancesOf(zoneName string) []Instance { return nil }
func (s *StaticRegistry) ReportLoad(engineID string, zoneCounts map[string]int) error { return nil }
func (s *StaticRegistry) InstancingEnabled() bool                                     { return false }
