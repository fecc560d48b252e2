package zone

// SelectInstance picks one instance from candidates by the priority
// order of spec.md §4.8: a companion's instance (groupHint), then the
// player's last-used instance (stickyHint), then least-loaded under
// capacity, then least-loaded overall.
func SelectInstance(candidates []Instance, groupHint, stickyHint string) (Instance, bool) {
	if len(candidates) == 0 {
		return Instance{}, false
	}

	if groupHint != "" {
		if inst, ok := findEngine(candidates, groupHint); ok {
			return inst, true
		}
	}

	if stickyHint != "" {
		if inst, ok := findEngine(candidates, stickyHint); ok {
			return inst, true
		}
	}

	var bestUnderCapacity *Instance
	var leastLoaded *Instance
	for i := range candidates {
		c := &candidates[i]
		if leastLoaded == nil || c.PlayerCount < leastLoaded.PlayerCount {
			leastLoaded = c
		}
		if c.Capacity > 0 && c.PlayerCount < c.Capacity {
			if bestUnderCapacity == nil || c.PlayerCount < bestUnderCapacity.PlayerCount {
				bestUnderCapacity = c
			}
		}
	}

	if bestUnderCapacity != nil {
		return *bestUnderCapacity, true
	}
	return *leastLoaded, true
}

func findEngine(candidates []Instance, engineID string) (Instance, bool) {
	for _, c := range candidates {
		if c.EngineID == engineID {
			return c, true
		}
	}
	return Instance{}, false
}
