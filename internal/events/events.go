// Package events defines the tagged-union event types that cross the
// boundaries between the transport layer (C1), the inbound bus (C2), the
// engine loop (C5), and the outbound router (C3). Per the source
// redesign note on sum types (spec.md §9), each union is a struct with a
// discriminator Kind field rather than an interface hierarchy, so a
// handler can switch on Kind without a type assertion per case.
package events

// SessionID identifies one connected client session for the lifetime of
// its socket.
type SessionID uint64

// InboundKind discriminates the Inbound tagged union.
type InboundKind string

const (
	KindConnected         InboundKind = "connected"
	KindLineReceived      InboundKind = "line_received"
	KindStructuredReceived InboundKind = "structured_received"
	KindDisconnected      InboundKind = "disconnected"
)

// Inbound is a single event produced by a Transport Session and consumed
// by the Engine Loop via the Inbound Bus.
type Inbound struct {
	Kind      InboundKind
	SessionID SessionID

	// LineReceived
	Line string

	// StructuredReceived (out-of-band GMCP-style envelope)
	Package  string
	JSONData string

	// Disconnected
	Reason string

	// Connected: whether the session negotiated ANSI rendering up front
	// (both the telnet and web variants leave it false).
	AnsiEnabled bool
}

// OutboundKind discriminates the Outbound tagged union consumed by the
// Outbound Router (C3).
type OutboundKind string

const (
	KindSendText        OutboundKind = "send_text"
	KindSendInfo         OutboundKind = "send_info"
	KindSendError        OutboundKind = "send_error"
	KindSendPrompt       OutboundKind = "send_prompt"
	KindSetAnsi          OutboundKind = "set_ansi"
	KindClearScreen      OutboundKind = "clear_screen"
	KindShowAnsiDemo     OutboundKind = "show_ansi_demo"
	KindShowLoginScreen  OutboundKind = "show_login_screen"
	KindStructured       OutboundKind = "structured"
	KindSessionRedirect  OutboundKind = "session_redirect"
	KindClose            OutboundKind = "close"
)

// Outbound is a single event produced by the Engine Loop and consumed by
// the Outbound Router, always tagged with the destination session.
type Outbound struct {
	Kind      OutboundKind
	SessionID SessionID

	Text string // SendText / SendInfo / SendError

	PromptText string // SendPrompt

	Ansi bool // SetAnsi

	Package  string // Structured
	JSONData string // Structured

	NewEngineID string // SessionRedirect
	NewHost     string // SessionRedirect
	NewPort     int    // SessionRedirect

	CloseReason string // Close
}

func SendText(id SessionID, text string) Outbound {
	return Outbound{Kind: KindSendText, SessionID: id, Text: text}
}

func SendInfo(id SessionID, text string) Outbound {
	return Outbound{Kind: KindSendInfo, SessionID: id, Text: text}
}

func SendError(id SessionID, text string) Outbound {
	return Outbound{Kind: KindSendError, SessionID: id, Text: text}
}

func SendPrompt(id SessionID, prompt string) Outbound {
	return Outbound{Kind: KindSendPrompt, SessionID: id, PromptText: prompt}
}

func Close(id SessionID, reason string) Outbound {
	return Outbound{Kind: KindClose, SessionID: id, CloseReason: reason}
}

func SessionRedirect(id SessionID, engineID, host string, port int) Outbound {
	return Outbound{Kind: KindSessionRedirect, SessionID: id, NewEngineID: engineID, NewHost: host, NewPort: port}
}
