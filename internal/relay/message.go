// internal/relay/message.go
package relay

import "encoding/json"

// Message types spoken over the relay websocket. The relay only routes; the
// opaque Payload field carries signaling and game traffic it never inspects.
const (
	TypeConnect        = "connect"
	TypeConnected      = "connected"
	TypeCreateSession  = "create_session"
	TypeSessionCreated = "session_created"
	TypeJoinRequest    = "join_request"
	TypeJoinResponse   = "join_response"
	TypeSignal         = "signal"
	TypeBroadcast      = "broadcast"
	TypeReady          = "ready"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeError          = "error"
	TypeSessionEnded   = "session_ended"
	TypeGuestLeft      = "guest_left"
)

// Envelope is the single wire shape for relay traffic. Fields are populated
// per type; unused ones stay empty.
type Envelope struct {
	Type        string          `json:"type"`
	SessionCode string          `json:"sessionCode,omitempty"`
	PlayerName  string          `json:"playerName,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Accepted    *bool           `json:"accepted,omitempty"`
	Players     []string        `json:"players,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}
