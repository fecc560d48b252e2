package command

import "testing"

func TestParseNoop(t *testing.T) {
	if c := Parse("   "); c.Kind != KindNoop {
		t.Fatalf("got %v", c.Kind)
	}
}

func TestParseSay(t *testing.T) {
	c := Parse("'hello there")
	if c.Kind != KindSay || c.Message != "hello there" {
		t.Fatalf("got %+v", c)
	}
}

func TestParseMoveAliases(t *testing.T) {
	for _, in := range []string{"n", "north"} {
		c := Parse(in)
		if c.Kind != KindMove || c.Direction != "north" {
			t.Fatalf("input %q: got %+v", in, c)
		}
	}
}

func TestParseDialogueChoice(t *testing.T) {
	c := Parse("3")
	if c.Kind != KindDialogueChoice || c.Choice != 3 {
		t.Fatalf("got %+v", c)
	}
}

func TestParseVerbWithArgs(t *testing.T) {
	c := Parse("attack goblin")
	if c.Kind != KindVerb || c.Verb != "attack" || len(c.Args) != 1 || c.Args[0] != "goblin" {
		t.Fatalf("got %+v", c)
	}
}

func TestParseVerbAliasResolvesToCanonical(t *testing.T) {
	c := Parse("kill goblin")
	if c.Kind != KindVerb || c.Verb != "attack" {
		t.Fatalf("got %+v", c)
	}
}

func TestParseInvalidOnMissingRequiredArgs(t *testing.T) {
	c := Parse("teleport")
	if c.Kind != KindInvalid || c.InvalidVerb != "teleport" {
		t.Fatalf("got %+v", c)
	}
}

func TestParseUnknown(t *testing.T) {
	c := Parse("frobnicate")
	if c.Kind != KindUnknown || c.Raw != "frobnicate" {
		t.Fatalf("got %+v", c)
	}
}

func TestRouterDispatchesByVerbAndKind(t *testing.T) {
	r := NewRouter()
	var gotVerb, gotMove bool
	r.RegisterVerb("look", func(sessionID uint64, cmd Command) { gotVerb = true })
	r.RegisterKind(KindMove, func(sessionID uint64, cmd Command) { gotMove = true })

	r.Dispatch(1, Parse("look"))
	r.Dispatch(1, Parse("north"))

	if !gotVerb || !gotMove {
		t.Fatalf("expected both handlers invoked, got verb=%v move=%v", gotVerb, gotMove)
	}
}

func TestRouterIgnoresUnregisteredKind(t *testing.T) {
	r := NewRouter()
	// Must not panic even though nothing is registered.
	r.Dispatch(1, Parse("quit"))
}
