package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileRepository is the YAML file PlayerRepository backend (spec.md §6:
// "one record per file under rootDir, named by a slug of the player
// name; atomic write via temp-file + rename"). It also maintains an
// in-memory name index since a directory of slug-named files gives no
// O(1) name lookup otherwise.
type FileRepository struct {
	rootDir string

	mu       sync.RWMutex
	byID     map[string]PlayerRecord
	idByName map[string]string // nameLower -> id
}

// NewFileRepository loads every *.yaml record already present under
// rootDir, creating the directory if it does not exist.
func NewFileRepository(rootDir string) (*FileRepository, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("persistence: creating %s: %w", rootDir, err)
	}

	repo := &FileRepository{
		rootDir:  rootDir,
		byID:     make(map[string]PlayerRecord),
		idByName: make(map[string]string),
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, fmt.Errorf("persistence: reading %s: %w", rootDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(rootDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("persistence: reading %s: %w", e.Name(), err)
		}
		var record PlayerRecord
		if err := yaml.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("persistence: parsing %s: %w", e.Name(), err)
		}
		repo.byID[record.ID] = record
		repo.idByName[strings.ToLower(record.Name)] = record.ID
	}

	return repo, nil
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (f *FileRepository) pathFor(record PlayerRecord) string {
	return filepath.Join(f.rootDir, slug(record.Name)+".yaml")
}

func (f *FileRepository) FindByID(id string) (PlayerRecord, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.byID[id]
	return r, ok, nil
}

func (f *FileRepository) FindByName(name string) (PlayerRecord, bool, error) {
	return f.FindByNameLower(strings.ToLower(name))
}

func (f *FileRepository) FindByNameLower(nameLower string) (PlayerRecord, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.idByName[nameLower]
	if !ok {
		return PlayerRecord{}, false, nil
	}
	r, ok := f.byID[id]
	return r, ok, nil
}

func (f *FileRepository) Create(name, startRoomID string, now time.Time) (PlayerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, taken := f.idByName[strings.ToLower(name)]; taken {
		return PlayerRecord{}, errors.New("persistence: name already exists")
	}

	record := PlayerRecord{
		ID:        uuid.NewString(),
		Name:      name,
		RoomID:    startRoomID,
		HP:        20, MaxHP: 20,
		Mana: 10, MaxMana: 10,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := f.writeLocked(record); err != nil {
		return PlayerRecord{}, err
	}

	f.byID[record.ID] = record
	f.idByName[strings.ToLower(name)] = record.ID
	return record, nil
}

func (f *FileRepository) Save(record PlayerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writeLocked(record); err != nil {
		return err
	}
	f.byID[record.ID] = record
	f.idByName[strings.ToLower(record.Name)] = record.ID
	return nil
}

// writeLocked performs the atomic temp-file + rename write required by
// spec.md §6. Caller must hold f.mu.
func (f *FileRepository) writeLocked(record PlayerRecord) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("persistence: marshaling record: %w", err)
	}

	dest := f.pathFor(record)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("persistence: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("persistence: renaming into place: %w", err)
	}
	return nil
}

func (f *FileRepository) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.byID[id]
	if !ok {
		return nil
	}
	delete(f.byID, id)
	delete(f.idByName, strings.ToLower(record.Name))
	return os.Remove(f.pathFor(record))
}
