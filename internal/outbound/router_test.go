package outbound

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mudengine/internal/events"
	"mudengine/internal/session"
)

func newTestSession(t *testing.T, queueCap int) (*session.Session, *bool) {
	t.Helper()
	closed := false
	s := session.New(1, queueCap, func(reason string) {
		closed = true
	})
	return s, &closed
}

func TestRouterDeliversSendText(t *testing.T) {
	r := New()
	s, _ := newTestSession(t, 4)
	r.RegisterSession(s)

	r.Drain([]events.Outbound{events.SendText(s.ID, "hello")})

	select {
	case f := <-s.Queue():
		if f.Text != "hello\r\n" {
			t.Fatalf("got %q", f.Text)
		}
	default:
		t.Fatal("expected a frame on the queue")
	}
}

func TestRouterCoalescesRepeatedPrompts(t *testing.T) {
	r := New()
	s, _ := newTestSession(t, 4)
	r.RegisterSession(s)

	r.Drain([]events.Outbound{
		events.SendPrompt(s.ID, "> "),
		events.SendPrompt(s.ID, "> "),
		events.SendPrompt(s.ID, "> "),
	})

	count := 0
	for {
		select {
		case _, ok := <-s.Queue():
			if !ok {
				break
			}
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 coalesced prompt frame, got %d", count)
	}
}

func TestRouterEvictsSessionOnBackpressure(t *testing.T) {
	r := New()
	s, closed := newTestSession(t, 1)
	r.RegisterSession(s)

	// Fill the one-slot queue, then force a refusal with a non-prompt frame.
	r.Drain([]events.Outbound{
		events.SendText(s.ID, "first"),
		events.SendText(s.ID, "second"),
	})

	require.True(t, *closed, "expected session to be closed after a refused non-prompt frame")
	require.Nil(t, r.lookup(s.ID), "expected session removed from routing map after eviction")
}

func TestRouterDropsPromptSilentlyOnBackpressure(t *testing.T) {
	r := New()
	s, closed := newTestSession(t, 1)
	r.RegisterSession(s)

	r.Drain([]events.Outbound{
		events.SendText(s.ID, "fills the queue"),
		events.SendPrompt(s.ID, "> "),
	})

	require.False(t, *closed, "a refused prompt must be dropped, not cause a disconnect")
	require.NotNil(t, r.lookup(s.ID), "session should remain registered after a dropped prompt")
}

func TestRouterIgnoresUnknownSession(t *testing.T) {
	r := New()
	// No RegisterSession call; process must be a no-op, not a panic.
	r.Drain([]events.Outbound{events.SendText(42, "nobody home")})
}
