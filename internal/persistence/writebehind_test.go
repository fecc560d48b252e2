package persistence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu    sync.Mutex
	saved map[string]PlayerRecord
	saveN int
	failNextSave bool
}

func newFakeRepo() *fakeRepo { return &fakeRepo{saved: make(map[string]PlayerRecord)} }

func (f *fakeRepo) FindByID(id string) (PlayerRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.saved[id]
	return r, ok, nil
}
func (f *fakeRepo) FindByName(name string) (PlayerRecord, bool, error) { return PlayerRecord{}, false, nil }
func (f *fakeRepo) FindByNameLower(nameLower string) (PlayerRecord, bool, error) { return PlayerRecord{}, false, nil }
func (f *fakeRepo) Create(name, startRoomID string, now time.Time) (PlayerRecord, error) {
	return PlayerRecord{}, nil
}
func (f *fakeRepo) Save(record PlayerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveN++
	if f.failNextSave {
		f.failNextSave = false
		return errors.New("simulated save failure")
	}
	f.saved[record.ID] = record
	return nil
}
func (f *fakeRepo) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

func (f *fakeRepo) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveN
}

func TestWriteBehindCoalescesMultipleSavesIntoOneFlush(t *testing.T) {
	repo := newFakeRepo()
	wb := NewWriteBehind(repo, time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, wb.Save(PlayerRecord{ID: "p1", Level: i}))
	}

	wb.FlushNow()

	require.Equal(t, 1, repo.saveCount(), "expected exactly 1 underlying save for 5 coalesced writes")
	rec, found, _ := repo.FindByID("p1")
	require.True(t, found)
	require.Equal(t, 4, rec.Level, "expected the latest value to win")
}

func TestWriteBehindRetriesOnSaveFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.failNextSave = true
	wb := NewWriteBehind(repo, time.Hour)

	wb.Save(PlayerRecord{ID: "p2", Level: 1})
	wb.FlushNow()

	_, found, _ := repo.FindByID("p2")
	require.False(t, found, "expected the failed save to not have landed")

	wb.FlushNow()

	_, found, _ = repo.FindByID("p2")
	require.True(t, found, "expected the retried flush to succeed and land the record")
}

func TestWriteBehindStopFlushesBeforeExit(t *testing.T) {
	repo := newFakeRepo()
	wb := NewWriteBehind(repo, time.Hour)
	wb.Start()

	wb.Save(PlayerRecord{ID: "p3", Level: 9})
	wb.Stop()

	_, found, _ := repo.FindByID("p3")
	require.True(t, found, "expected Stop to flush pending saves before returning")
}
