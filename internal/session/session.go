// Package session implements the per-connection Session (C1) described in
// spec.md §3: one outbound queue, one renderer, a close function, and the
// prompt-coalescing flag the Outbound Router consults before enqueuing.
package session

import (
	"sync"

	"mudengine/internal/events"
)

// LineKind selects the rendering style for a text line.
type LineKind int

const (
	LineNormal LineKind = iota
	LineInfo
	LineError
)

// Frame is what actually gets written to the wire: either a rendered
// text line or a structured (GMCP-style) out-of-band payload.
type Frame struct {
	Text       string
	IsStruct   bool
	Package    string
	JSONData   string
}

// Renderer converts engine-level text/prompt intents into wire frames.
// PlainRenderer and AnsiRenderer are the two implementations named in
// spec.md §4.5; new renderers can be added without touching the router.
type Renderer interface {
	RenderLine(text string, kind LineKind) string
	RenderPrompt(promptText string) string
	ClearScreen() string
}

// PlainRenderer emits bare text with \r\n termination.
type PlainRenderer struct{}

func (PlainRenderer) RenderLine(text string, _ LineKind) string { return text + "\r\n" }
func (PlainRenderer) RenderPrompt(promptText string) string     { return promptText }
func (PlainRenderer) ClearScreen() string                       { return "----------------------------------------\r\n" }

// AnsiRenderer wraps lines in SGR escapes keyed by LineKind.
type AnsiRenderer struct{}

const (
	ansiReset = "\x1b[0m"
	ansiInfo  = "\x1b[36m"  // cyan
	ansiError = "\x1b[31m"  // red
	ansiPrompt = "\x1b[32m" // green
	ansiClear  = "\x1b[2J\x1b[H"
)

func (AnsiRenderer) RenderLine(text string, kind LineKind) string {
	switch kind {
	case LineInfo:
		return ansiInfo + text + ansiReset + "\r\n"
	case LineError:
		return ansiError + text + ansiReset + "\r\n"
	default:
		return text + "\r\n"
	}
}

func (AnsiRenderer) RenderPrompt(promptText string) string {
	return ansiPrompt + promptText + ansiReset
}

func (AnsiRenderer) ClearScreen() string { return ansiClear }

// Session is one connected client. The Engine Loop is the sole writer of
// game state tied to a session's identity; the Outbound Router is the
// sole writer of outboundQueue/lastEnqueuedWasPrompt/renderer. closeFn
// tears down the transport-level socket and is safe to call more than
// once (implementations must be idempotent).
type Session struct {
	ID          events.SessionID
	closeFn     func(reason string)

	mu                    sync.Mutex
	ansiEnabled           bool
	renderer              Renderer
	lastEnqueuedWasPrompt bool
	closed                bool

	outboundQueue chan Frame
}

// New constructs a Session with the given outbound queue capacity and a
// plain-text renderer (the default until the client negotiates ANSI).
func New(id events.SessionID, queueCapacity int, closeFn func(reason string)) *Session {
	return &Session{
		ID:            id,
		closeFn:       closeFn,
		renderer:      PlainRenderer{},
		outboundQueue: make(chan Frame, queueCapacity),
	}
}

// Queue returns the outbound channel for the transport's write loop to drain.
func (s *Session) Queue() <-chan Frame { return s.outboundQueue }

// SetAnsi switches the renderer in use.
func (s *Session) SetAnsi(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ansiEnabled = enabled
	if enabled {
		s.renderer = AnsiRenderer{}
	} else {
		s.renderer = PlainRenderer{}
	}
}

// AnsiEnabled reports the current renderer selection.
func (s *Session) AnsiEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ansiEnabled
}

// Renderer returns the session's current renderer.
func (s *Session) Renderer() Renderer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderer
}

// TryEnqueue attempts a non-blocking send of frame onto the outbound
// queue. It reports whether the send succeeded; on success it also
// updates lastEnqueuedWasPrompt. The caller (the Outbound Router) is
// responsible for the backpressure policy of spec.md §4.5 — this method
// only implements the queue mechanics and prompt-coalescing bookkeeping.
func (s *Session) TryEnqueue(frame Frame, isPrompt bool) (enqueued bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	wasPrompt := s.lastEnqueuedWasPrompt
	s.mu.Unlock()

	if isPrompt && wasPrompt {
		// Prompt coalescing: drop silently, no channel interaction at all.
		return false
	}

	select {
	case s.outboundQueue <- frame:
		s.mu.Lock()
		s.lastEnqueuedWasPrompt = isPrompt
		s.mu.Unlock()
		return true
	default:
		return false
	}
}

// Close marks the session closed, invokes the transport close function
// exactly once, and closes the outbound queue so the writer loop exits.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.outboundQueue)
	if s.closeFn != nil {
		s.closeFn(reason)
	}
}
