package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"mudengine/internal/events"
	"mudengine/internal/protocol"
	"mudengine/internal/session"
)

// gmcpEnvelope matches the out-of-band frame shape named in spec.md §4.1:
// {"gmcp":"<Package>","data":<json>}. A frame that unmarshals into this
// shape is routed as StructuredReceived instead of line-sanitized.
type gmcpEnvelope struct {
	GMCP string          `json:"gmcp"`
	Data json.RawMessage `json:"data"`
}

// WebServer accepts WebSocket upgrades and bridges each connection to the
// shared inbound/outbound event streams, using the framed line-splitting
// rule instead of the raw telnet FSM.
type WebServer struct {
	maxLineLen                  int
	maxNonPrintablePerLine      int
	maxInboundBackpressureFails int
	sessionQueueCapacity        int

	inbound  chan<- events.Inbound
	upgrader websocket.Upgrader

	nextSessionID uint64
}

// NewWebServer constructs a WebSocket bridge sharing the inbound bus
// producer channel with the telnet variant.
func NewWebServer(maxLineLen, maxNonPrintablePerLine, maxInboundBackpressureFails, sessionQueueCapacity int, inbound chan<- events.Inbound) *WebServer {
	return &WebServer{
		maxLineLen:                  maxLineLen,
		maxNonPrintablePerLine:      maxNonPrintablePerLine,
		maxInboundBackpressureFails: maxInboundBackpressureFails,
		sessionQueueCapacity:        sessionQueueCapacity,
		inbound:                     inbound,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns an http.HandlerFunc suitable for mux.Handle("/ws", ...).
func (w *WebServer) Handler(register func(*session.Session)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := w.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed: %v", err)
			return
		}
		w.handleConn(conn, register)
	}
}

func (w *WebServer) handleConn(conn *websocket.Conn, register func(*session.Session)) {
	id := events.SessionID(atomic.AddUint64(&w.nextSessionID, 1))

	sess := session.New(id, w.sessionQueueCapacity, func(reason string) {
		_ = conn.Close()
	})
	register(sess)

	go w.writeLoop(conn, sess)
	w.readLoop(conn, sess, id)
}

func (w *WebServer) writeLoop(conn *websocket.Conn, sess *session.Session) {
	for frame := range sess.Queue() {
		var err error
		if frame.IsStruct {
			payload, _ := json.Marshal(gmcpEnvelope{GMCP: frame.Package, Data: json.RawMessage(frame.JSONData)})
			err = conn.WriteMessage(websocket.TextMessage, payload)
		} else {
			err = conn.WriteMessage(websocket.TextMessage, []byte(frame.Text))
		}
		if err != nil {
			break
		}
	}
	_ = conn.Close()
}

func (w *WebServer) readLoop(conn *websocket.Conn, sess *session.Session, id events.SessionID) {
	defer func() {
		w.sendInbound(events.Inbound{Kind: events.KindDisconnected, SessionID: id, Reason: "connection closed"})
		_ = conn.Close()
	}()

	w.sendInbound(events.Inbound{Kind: events.KindConnected, SessionID: id})

	failures := 0

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		text := string(data)
		if env, ok := parseGMCP(text); ok {
			if !w.sendInboundNonBlocking(events.Inbound{Kind: events.KindStructuredReceived, SessionID: id, Package: env.GMCP, JSONData: string(env.Data)}) {
				failures++
				if failures >= w.maxInboundBackpressureFails {
					sess.Close("inbound backpressure")
					return
				}
			} else {
				failures = 0
			}
			continue
		}

		lines, decErr := protocol.SplitFramed(text, w.maxLineLen, w.maxNonPrintablePerLine)
		if decErr != nil {
			sess.Close(decErr.Error())
			return
		}
		for _, line := range lines {
			if !w.sendInboundNonBlocking(events.Inbound{Kind: events.KindLineReceived, SessionID: id, Line: line}) {
				failures++
				if failures >= w.maxInboundBackpressureFails {
					sess.Close("inbound backpressure")
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

func parseGMCP(text string) (gmcpEnvelope, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"gmcp"`) {
		return gmcpEnvelope{}, false
	}
	var env gmcpEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.GMCP == "" {
		return gmcpEnvelope{}, false
	}
	return env, true
}

func (w *WebServer) sendInbound(ev events.Inbound) {
	w.inbound <- ev
}

func (w *WebServer) sendInboundNonBlocking(ev events.Inbound) bool {
	select {
	case w.inbound <- ev:
		return true
	default:
		log.Printf("inbound bus full, dropping event for session %d", ev.SessionID)
		return false
	}
}
