// Package outbound implements the Outbound Router (C3): the single
// consumer of engine-produced outbound events, which fans them out to
// per-session sinks, applies rendering, and enforces the backpressure
// invariant of spec.md §4.5.
package outbound

import (
	"log"
	"strconv"
	"sync"

	"mudengine/internal/events"
	"mudengine/internal/session"
)

// Router owns the live session map and is the sole writer of it; reads
// and writes are still mutex-protected because session registration can
// race with the engine emitting a burst of events for a session that is
// mid-teardown.
type Router struct {
	sessions map[events.SessionID]*session.Session
	mu       sync.RWMutex
}

// New constructs an idle Router; call RegisterSession before events for a
// given session will be delivered.
func New() *Router {
	return &Router{sessions: make(map[events.SessionID]*session.Session)}
}

// RegisterSession adds a session to the routing map.
func (r *Router) RegisterSession(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// RemoveSession removes a session from the routing map without closing
// it; used when the transport layer observes the socket closing first.
func (r *Router) RemoveSession(id events.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Router) lookup(id events.SessionID) *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Drain processes a batch of outbound events synchronously. The Engine
// Loop hands it the events produced during one tick; in a standalone
// process it is more commonly called from a dedicated goroutine reading
// off a buffered channel — see Run.
func (r *Router) Drain(evs []events.Outbound) {
	for _, ev := range evs {
		r.process(ev)
	}
}

// Run drains outbound events from ch until it is closed.
func (r *Router) Run(ch <-chan events.Outbound) {
	for ev := range ch {
		r.process(ev)
	}
}

func (r *Router) process(ev events.Outbound) {
	sess := r.lookup(ev.SessionID)
	if sess == nil {
		return
	}

	switch ev.Kind {
	case events.KindSendText:
		r.enqueueLine(sess, ev.Text, session.LineNormal, false)
	case events.KindSendInfo:
		r.enqueueLine(sess, ev.Text, session.LineInfo, false)
	case events.KindSendError:
		r.enqueueLine(sess, ev.Text, session.LineError, false)
	case events.KindSendPrompt:
		rendered := sess.Renderer().RenderPrompt(ev.PromptText)
		r.enqueueFrame(sess, session.Frame{Text: rendered}, true)
	case events.KindSetAnsi:
		sess.SetAnsi(ev.Ansi)
	case events.KindClearScreen:
		r.enqueueFrame(sess, session.Frame{Text: sess.Renderer().ClearScreen()}, false)
	case events.KindShowAnsiDemo:
		r.enqueueLine(sess, ansiDemoText, session.LineNormal, false)
	case events.KindShowLoginScreen:
		r.enqueueLine(sess, loginScreenText, session.LineNormal, false)
	case events.KindStructured:
		r.enqueueFrame(sess, session.Frame{IsStruct: true, Package: ev.Package, JSONData: ev.JSONData}, false)
	case events.KindSessionRedirect:
		// Delivered to the gateway layer (outside this core's contract,
		// per spec.md §9); here it is simply forwarded as a structured
		// frame so any attached gateway can observe it.
		r.enqueueFrame(sess, session.Frame{IsStruct: true, Package: "Core.SessionRedirect", JSONData: sessionRedirectJSON(ev)}, false)
	case events.KindClose:
		r.closeSession(sess, ev.CloseReason)
	}
}

func (r *Router) enqueueLine(sess *session.Session, text string, kind session.LineKind, isPrompt bool) {
	rendered := sess.Renderer().RenderLine(text, kind)
	r.enqueueFrame(sess, session.Frame{Text: rendered}, isPrompt)
}

// enqueueFrame implements the key invariant of spec.md §4.5: attempt a
// non-blocking send; on refusal, prompts are dropped silently, anything
// else causes the session to be removed from the routing map and closed
// with a fixed reason string.
func (r *Router) enqueueFrame(sess *session.Session, frame session.Frame, isPrompt bool) {
	if sess.TryEnqueue(frame, isPrompt) {
		return
	}
	if isPrompt {
		return
	}
	r.closeSession(sess, "client too slow (outbound backpressure)")
}

func (r *Router) closeSession(sess *session.Session, reason string) {
	r.mu.Lock()
	delete(r.sessions, sess.ID)
	r.mu.Unlock()
	sess.Close(reason)
	log.Printf("session %d closed: %s", sess.ID, reason)
}

func sessionRedirectJSON(ev events.Outbound) string {
	return `{"engineId":"` + ev.NewEngineID + `","host":"` + ev.NewHost + `","port":` + strconv.Itoa(ev.NewPort) + `}`
}

const ansiDemoText = "ANSI color demo: \x1b[31mred\x1b[0m \x1b[32mgreen\x1b[0m \x1b[34mblue\x1b[0m"
const loginScreenText = "Welcome to AmbonMUD.\r\n1) Login\r\n2) Create a character\r\n3) Guest"
