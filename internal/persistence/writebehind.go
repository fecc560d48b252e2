package persistence

import (
	"log"
	"sync"
	"time"
)

// WriteBehind wraps a PlayerRepository so that Save marks a record dirty
// and returns immediately; a background worker flushes the dirty set on
// a fixed interval, per spec.md §4.6. FindBy* pass straight through to
// the underlying repository (optionally fronted by a Cache, see cache.go).
type WriteBehind struct {
	underlying PlayerRepository

	mu    sync.Mutex
	dirty map[string]PlayerRecord

	flushInterval time.Duration
	stop          chan struct{}
	stopped       chan struct{}
}

// NewWriteBehind wraps underlying with a dirty-set coalescing layer that
// flushes every flushInterval.
func NewWriteBehind(underlying PlayerRepository, flushInterval time.Duration) *WriteBehind {
	return &WriteBehind{
		underlying:    underlying,
		dirty:         make(map[string]PlayerRecord),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start launches the background flush worker; call Stop to drain and
// terminate it at shutdown.
func (w *WriteBehind) Start() {
	go w.run()
}

func (w *WriteBehind) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.FlushNow()
		case <-w.stop:
			w.FlushNow()
			return
		}
	}
}

// Stop signals the worker to perform one final flush and exit, blocking
// until it has done so.
func (w *WriteBehind) Stop() {
	close(w.stop)
	<-w.stopped
}

func (w *WriteBehind) FindByID(id string) (PlayerRecord, bool, error) {
	return w.underlying.FindByID(id)
}

func (w *WriteBehind) FindByName(name string) (PlayerRecord, bool, error) {
	return w.underlying.FindByName(name)
}

func (w *WriteBehind) FindByNameLower(nameLower string) (PlayerRecord, bool, error) {
	return w.underlying.FindByNameLower(nameLower)
}

func (w *WriteBehind) Create(name, startRoomID string, now time.Time) (PlayerRecord, error) {
	return w.underlying.Create(name, startRoomID, now)
}

// Save marks record's id dirty and records the latest value; it never
// touches the underlying repository directly.
func (w *WriteBehind) Save(record PlayerRecord) error {
	w.mu.Lock()
	w.dirty[record.ID] = record
	w.mu.Unlock()
	return nil
}

func (w *WriteBehind) Delete(id string) error {
	w.mu.Lock()
	delete(w.dirty, id)
	w.mu.Unlock()
	return w.underlying.Delete(id)
}

// FlushNow drains the dirty set synchronously by swapping it for a fresh
// map before writing, so concurrent Save calls during the flush land in
// the new set rather than blocking on it (spec.md §5's "atomic
// swap-and-process pattern").
func (w *WriteBehind) FlushNow() {
	w.mu.Lock()
	pending := w.dirty
	w.dirty = make(map[string]PlayerRecord)
	w.mu.Unlock()

	for id, record := range pending {
		if err := w.underlying.Save(record); err != nil {
			log.Printf("persistence: save failed for player %s, will retry: %v", id, err)
			w.mu.Lock()
			if _, exists := w.dirty[id]; !exists {
				w.dirty[id] = record
			}
			w.mu.Unlock()
		}
	}
}
