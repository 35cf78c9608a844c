// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jyseo/rummath/internal/models"
)

// Type discriminates sync messages exchanged between peers. Relay rendezvous
// messages live in internal/relay; these are the game-level catalog.
type Type string

const (
	TypeTurnChange       Type = "turn_change"
	TypeCardMove         Type = "card_move"
	TypeCardDraw         Type = "card_draw"
	TypeCardDrawRequest  Type = "card_draw_request"
	TypeCardDrawResponse Type = "card_draw_response"
	TypeExpressionState  Type = "expression_state"
	TypeFieldEquations   Type = "field_equations_update"
	TypeGameState        Type = "game_state"
	TypeGameStateCommon  Type = "game_state_common"
	TypeNewTarget        Type = "new_target_update"
	TypeCycleStart       Type = "cycle_start"
	TypeEquationPosition Type = "equation_position_update"
	TypePlayerReady      Type = "player_ready"
	TypeGameStart        Type = "game_start"
)

// Message is the envelope every sync payload travels in. Seq is the
// per-stream sequence number assigned by the sender; receivers drop any
// message whose seq is not newer than the last one applied for its stream.
// To is empty for broadcasts and names a single recipient otherwise.
type Message struct {
	Type      Type            `json:"type"`
	Seq       uint64          `json:"seq,omitempty"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage wraps a payload in an envelope stamped with the current time.
func NewMessage(t Type, from string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{
		Type:      t,
		From:      from,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}, nil
}

// Decode unmarshals the envelope's payload into v.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Stream names for sequence tracking.
const (
	StreamTurn   = "turn"
	StreamField  = "field"
	StreamTarget = "target"
	StreamCycle  = "cycle"
	StreamDeck   = "deck"
)

// ExpressionStream returns the per-player stream name for expression mirrors.
func ExpressionStream(playerName string) string {
	return "expression/" + playerName
}

// Stream returns the sequence stream the message belongs to, or false for
// message types that are not sequence-gated (requests, responses, snapshots
// and lobby traffic are applied unconditionally).
func (m Message) Stream() (string, bool) {
	switch m.Type {
	case TypeTurnChange:
		return StreamTurn, true
	case TypeFieldEquations:
		return StreamField, true
	case TypeNewTarget:
		return StreamTarget, true
	case TypeCycleStart:
		return StreamCycle, true
	case TypeCardDraw:
		return StreamDeck, true
	case TypeExpressionState:
		return ExpressionStream(m.From), true
	}
	return "", false
}

// SeqTracker records the highest sequence number applied per stream. The
// zero value is ready to use. Not safe for concurrent use; callers hold the
// session lock.
type SeqTracker struct {
	applied map[string]uint64
}

// ShouldApply reports whether a message with the given stream and seq is
// newer than anything applied so far, recording it when it is. Messages on
// ungated streams (empty name) always apply.
func (t *SeqTracker) ShouldApply(stream string, seq uint64) bool {
	if stream == "" {
		return true
	}
	if t.applied == nil {
		t.applied = make(map[string]uint64)
	}
	if seq <= t.applied[stream] {
		return false
	}
	t.applied[stream] = seq
	return true
}

// Next increments and returns the sender-side sequence number for a stream.
func (t *SeqTracker) Next(stream string) uint64 {
	if t.applied == nil {
		t.applied = make(map[string]uint64)
	}
	t.applied[stream]++
	return t.applied[stream]
}

// Container names used by card_move to identify where a card is and where it
// is going.
const (
	ContainerHand       = "hand"
	ContainerExpression = "expression"
	ContainerEquation   = "equation"
)

// TurnChange announces whose turn it is and the cycle flags that go with it.
type TurnChange struct {
	CurrentPlayer    int  `json:"currentPlayer"`
	CycleCompleted   bool `json:"cycleCompleted"`
	CycleAnswerFound bool `json:"cycleAnswerFound"`
}

// CardMove mirrors a single card relocation. Receivers whose name equals
// PlayerName skip it; they already applied the move locally.
type CardMove struct {
	PlayerName string       `json:"playerName"`
	TargetType string       `json:"targetType"`
	Source     string       `json:"source"`
	CardID     uuid.UUID    `json:"cardId"`
	Card       *models.Card `json:"card,omitempty"`
	Position   int          `json:"position"`
	EquationID *uuid.UUID   `json:"equationId,omitempty"`
	HandType   string       `json:"handType,omitempty"`
}

// CardDraw announces a completed draw along with the post-draw deck snapshot.
// The drawer skips re-applying its own broadcast.
type CardDraw struct {
	PlayerName    string         `json:"playerName"`
	DrawnCard     *models.Card   `json:"drawnCard"`
	HandType      string         `json:"handType"`
	RemainingDeck []*models.Card `json:"remainingDeck"`
}

// CardDrawRequest asks the host to draw against the canonical deck on a
// guest's behalf.
type CardDrawRequest struct {
	PlayerName string          `json:"playerName"`
	CardType   models.CardType `json:"cardType"`
}

// CardDrawResponse answers a draw request. Error carries the failure reason
// when the requested card type is exhausted.
type CardDrawResponse struct {
	PlayerName    string         `json:"playerName"`
	Card          *models.Card   `json:"card,omitempty"`
	RemainingDeck []*models.Card `json:"remainingDeck,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// ExpressionState is a full replacement of one player's staged expression as
// mirrored on other peers.
type ExpressionState struct {
	PlayerName string         `json:"playerName"`
	Cards      []*models.Card `json:"cards"`
}

// FieldEquationsUpdate is a full snapshot replace of the committed field.
type FieldEquationsUpdate struct {
	FieldEquations []*models.Equation `json:"fieldEquations"`
}

// GameState is the host's authoritative snapshot, sent per-guest at game
// start and whenever a guest's hand must be re-established. You identifies
// the receiving guest's player entry.
type GameState struct {
	You              int                `json:"you"`
	Players          []*models.Player   `json:"players"`
	CurrentPlayer    int                `json:"currentPlayer"`
	TargetAnswer     int                `json:"targetAnswer"`
	TargetCards      []*models.Card     `json:"targetCards"`
	PossibleAnswers  []int              `json:"possibleAnswers"`
	FieldEquations   []*models.Equation `json:"fieldEquations"`
	RemainingDeck    []*models.Card     `json:"remainingDeck"`
	CycleStartPlayer int                `json:"cycleStartPlayer"`
	CycleCompleted   bool               `json:"cycleCompleted"`
	CycleAnswerFound bool               `json:"cycleAnswerFound"`
	Active           bool               `json:"isGameActive"`
}

// NewTargetUpdate replaces the target pool and its derived answers. The deck
// snapshot rides along because target generation consumes deck cards.
type NewTargetUpdate struct {
	TargetCards     []*models.Card `json:"targetCards"`
	PossibleAnswers []int          `json:"possibleAnswers"`
	TargetAnswer    int            `json:"targetAnswer"`
	RemainingDeck   []*models.Card `json:"remainingDeck"`
}

// CycleStart opens a new cycle at the given player.
type CycleStart struct {
	CycleStartPlayer int  `json:"cycleStartPlayer"`
	Escalated        bool `json:"escalated"`
}

// EquationPosition mirrors where a committed equation's box sits on the
// field layout.
type EquationPosition struct {
	EquationID uuid.UUID `json:"equationId"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
}

// PlayerReady toggles a lobby ready flag.
type PlayerReady struct {
	PlayerName string `json:"playerName"`
	Ready      bool   `json:"ready"`
}

// GameStart announces the host has dealt and play begins. Guests receive
// their hands via the game_state snapshot that follows.
type GameStart struct {
	PlayerNames []string `json:"playerNames"`
}
