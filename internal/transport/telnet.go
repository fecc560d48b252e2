// Package transport implements the two Transport Session (C1) variants
// named in spec.md §4.1: a raw TCP telnet listener and a framed
// WebSocket listener. Both produce the same events.Inbound stream and
// drain the same session.Frame queue; only the wire encoding differs.
package transport

import (
	"bufio"
	"log"
	"net"
	"sync/atomic"

	"mudengine/internal/events"
	"mudengine/internal/protocol"
	"mudengine/internal/session"
)

// TelnetServer accepts raw TCP connections and bridges each to the
// inbound/outbound event streams.
type TelnetServer struct {
	maxLineLen                  int
	maxNonPrintablePerLine      int
	maxInboundBackpressureFails int
	sessionQueueCapacity        int

	inbound chan<- events.Inbound

	nextSessionID uint64
	listener      net.Listener
}

// NewTelnetServer constructs a telnet listener bound to addr once Start
// is called; inbound is the single Inbound Bus producer channel shared
// with the WebSocket variant.
func NewTelnetServer(maxLineLen, maxNonPrintablePerLine, maxInboundBackpressureFails, sessionQueueCapacity int, inbound chan<- events.Inbound) *TelnetServer {
	return &TelnetServer{
		maxLineLen:                  maxLineLen,
		maxNonPrintablePerLine:      maxNonPrintablePerLine,
		maxInboundBackpressureFails: maxInboundBackpressureFails,
		sessionQueueCapacity:        sessionQueueCapacity,
		inbound:                     inbound,
	}
}

// Start begins listening on addr and accepting connections until the
// listener is closed by Stop. Each connection runs its read/write loops
// on its own pair of goroutines.
func (t *TelnetServer) Start(addr string, register func(*session.Session)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go t.handleConn(conn, register)
		}
	}()
	return nil
}

// Stop closes the listener; in-flight connections are closed individually
// as their sessions are torn down by the Outbound Router.
func (t *TelnetServer) Stop() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *TelnetServer) handleConn(conn net.Conn, register func(*session.Session)) {
	id := events.SessionID(atomic.AddUint64(&t.nextSessionID, 1))

	sess := session.New(id, t.sessionQueueCapacity, func(reason string) {
		_ = conn.Close()
	})
	register(sess)

	go t.writeLoop(conn, sess)
	t.readLoop(conn, sess, id)
}

func (t *TelnetServer) writeLoop(conn net.Conn, sess *session.Session) {
	w := bufio.NewWriter(conn)
	for frame := range sess.Queue() {
		if frame.IsStruct {
			// Raw telnet clients do not negotiate GMCP; structured
			// frames are dropped rather than leaking a JSON envelope
			// into a plain terminal.
			continue
		}
		if _, err := w.WriteString(frame.Text); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
	_ = conn.Close()
}

func (t *TelnetServer) readLoop(conn net.Conn, sess *session.Session, id events.SessionID) {
	defer func() {
		t.sendInbound(events.Inbound{Kind: events.KindDisconnected, SessionID: id, Reason: "connection closed"})
		_ = conn.Close()
	}()

	t.sendInbound(events.Inbound{Kind: events.KindConnected, SessionID: id})

	dec := protocol.NewDecoder(t.maxLineLen, t.maxNonPrintablePerLine)
	buf := make([]byte, 4096)
	failures := 0

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		lines, decErr := dec.Feed(buf[:n])
		for _, line := range lines {
			if !t.sendInboundNonBlocking(events.Inbound{Kind: events.KindLineReceived, SessionID: id, Line: line}) {
				failures++
				if failures >= t.maxInboundBackpressureFails {
					sess.Close("inbound backpressure")
					return
				}
			} else {
				failures = 0
			}
		}

		if decErr != nil {
			sess.Close(decErr.Error())
			return
		}
	}
}

// sendInbound is used for the one-shot Connected/Disconnected events,
// where a dropped event would desync the Engine Loop's session
// bookkeeping; it blocks briefly rather than silently losing them.
func (t *TelnetServer) sendInbound(ev events.Inbound) {
	t.inbound <- ev
}

func (t *TelnetServer) sendInboundNonBlocking(ev events.Inbound) bool {
	select {
	case t.inbound <- ev:
		return true
	default:
		log.Printf("inbound bus full, dropping event for session %d", ev.SessionID)
		return false
	}
}
