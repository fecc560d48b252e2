package world

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRoomFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadRoomsAndResolveExit(t *testing.T) {
	dir := t.TempDir()
	path := writeRoomFile(t, dir, "rooms.yaml", `
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
`)

	reg, err := LoadRooms([]string{path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 rooms, got %d", reg.Len())
	}

	to, ok := reg.Exit("town:square", "north")
	if !ok || to != "town:gate" {
		t.Fatalf("expected exit to town:gate, got %v ok=%v", to, ok)
	}

	if _, ok := reg.Exit("town:square", "south"); ok {
		t.Fatal("expected no south exit")
	}
}

func TestLoadRoomsRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeRoomFile(t, dir, "rooms.yaml", `
rooms:
  - id: "town:square"
    zone: "town"
    title: "A"
    description: "A"
  - id: "town:square"
    zone: "town"
    title: "B"
    description: "B"
`)

	if _, err := LoadRooms([]string{path}); err == nil {
		t.Fatal("expected an error for duplicate room ids")
	}
}

func TestPlayerRegistryUniquenessCaseInsensitive(t *testing.T) {
	pr := NewPlayerRegistry()
	pr.Add(&Player{SessionID: 1, Name: "Alice"})

	if !pr.IsOnline("alice") {
		t.Fatal("expected case-insensitive lookup to find Alice")
	}

	pr.Remove(1)
	if pr.IsOnline("alice") {
		t.Fatal("expected Alice to be gone after Remove")
	}
	if pr.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", pr.Count())
	}
}
