package zone

import "testing"

func TestStaticRegistryOwnerOf(t *testing.T) {
	reg, err := NewStaticRegistry(map[string]EngineAddress{
		"town":    {EngineID: "engine-1", Host: "localhost", Port: 9001},
		"dungeon": {EngineID: "engine-2", Host: "localhost", Port: 9002},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	addr, ok := reg.OwnerOf("town")
	if !ok || addr.EngineID != "engine-1" {
		t.Fatalf("got %+v ok=%v", addr, ok)
	}

	if _, ok := reg.OwnerOf("nowhere"); ok {
		t.Fatal("expected no owner for an unassigned zone")
	}
}

func TestStaticRegistryIsLocal(t *testing.T) {
	reg, _ := NewStaticRegistry(map[string]EngineAddress{
		"town": {EngineID: "engine-1"},
	})

	if !reg.IsLocal("town", "engine-1") {
		t.Fatal("expected town to be local to engine-1")
	}
	if reg.IsLocal("town", "engine-2") {
		t.Fatal("expected town to not be local to engine-2")
	}
}

func TestHashStringIsDeterministic(t *testing.T) {
	a := hashString("dungeon")
	b := hashString("dungeon")
	if a != b {
		t.Fatal("expected the same input to hash identically")
	}
}
