// Package interengine implements the Inter-Engine Bus (C7): a pub/sub
// fabric for cross-engine tells, broadcasts, and handoffs, grounded on
// the Redis Subscribe/Channel pattern shown in
// other_examples/eeb570cf_uncord-chat-uncord-server__internal-gateway-hub.go
// (the teacher repo itself has no multi-process concept at all).
package interengine

import "encoding/json"

// MessageKind discriminates the wire-level message taxonomy of spec.md
// §4.7.
type MessageKind string

const (
	KindGlobalBroadcast MessageKind = "global_broadcast"
	KindTell            MessageKind = "tell"
	KindWhoRequest      MessageKind = "who_request"
	KindWhoResponse     MessageKind = "who_response"
	KindKickRequest     MessageKind = "kick_request"
	KindShutdownRequest MessageKind = "shutdown_request"
	KindPlayerHandoff   MessageKind = "player_handoff"
	KindHandoffAck      MessageKind = "handoff_ack"
	KindSessionRedirect MessageKind = "session_redirect"
	KindTransferRequest MessageKind = "transfer_request"
)

// WhoEntry is one row of a WhoResponse payload.
type WhoEntry struct {
	Name  string `json:"name"`
	RoomID string `json:"roomId"`
	Level int    `json:"level"`
}

// Message is the tagged union carried over the bus, wire-discriminated
// by Kind (spec.md §4.7's "type" field).
type Message struct {
	Kind MessageKind `json:"kind"`

	SourceEngineID string `json:"sourceEngineId,omitempty"`

	// GlobalBroadcast
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text,omitempty"`

	// TellMessage
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// WhoRequest / WhoResponse
	RequestID   string     `json:"requestId,omitempty"`
	ReplyToEngineID string `json:"replyToEngineId,omitempty"`
	Players     []WhoEntry `json:"players,omitempty"`

	// KickRequest
	TargetName string `json:"targetName,omitempty"`

	// ShutdownRequest
	Initiator string `json:"initiator,omitempty"`

	// PlayerHandoff
	SessionID       uint64 `json:"sessionId,omitempty"`
	TargetRoomID    string `json:"targetRoomId,omitempty"`
	PlayerStateJSON string `json:"playerStateJson,omitempty"`
	GatewayID       string `json:"gatewayId,omitempty"`

	// HandoffAck
	Success      bool   `json:"success,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// SessionRedirect
	NewEngineID string `json:"newEngineId,omitempty"`
	NewHost     string `json:"newHost,omitempty"`
	NewPort     int    `json:"newPort,omitempty"`

	// TransferRequest
	StaffName string `json:"staffName,omitempty"`
	Target    string `json:"target,omitempty"`
}

func (m Message) marshal() ([]byte, error) { return json.Marshal(m) }

// Bus is the contract every Engine Loop depends on for cross-engine
// communication, per spec.md §4.7.
type Bus interface {
	SendTo(targetEngineID string, msg Message) error
	Broadcast(msg Message) error
	Incoming() <-chan Message
	Start() error
	Close() error
}
