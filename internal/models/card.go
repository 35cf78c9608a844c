// internal/models/card.go
package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CardType discriminates the card variants. Equals cards are synthesized by
// the equation engine; they are never part of the deck and never dealt.
type CardType string

const (
	CardNumber   CardType = "number"
	CardOperator CardType = "operator"
	CardJoker    CardType = "joker"
	CardEquals   CardType = "equals"
)

// Operator is one of the four arithmetic operator symbols used on cards.
type Operator string

const (
	OpAdd      Operator = "+"
	OpSubtract Operator = "-"
	OpMultiply Operator = "×"
	OpDivide   Operator = "÷"
)

// Operators lists the operator symbols in deck-composition order.
var Operators = []Operator{OpAdd, OpSubtract, OpMultiply, OpDivide}

// Card is a tagged variant: Number is meaningful only for CardNumber, Op only
// for CardOperator. A joker carries TempOp while it participates in an
// expression or equation; the binding is cleared when the card returns to a
// hand.
type Card struct {
	ID     uuid.UUID
	Type   CardType
	Number int
	Op     Operator
	TempOp Operator
}

// NewNumberCard returns a number card for a single digit 0-9.
func NewNumberCard(digit int) *Card {
	id, _ := uuid.NewRandom()
	return &Card{ID: id, Type: CardNumber, Number: digit}
}

// NewOperatorCard returns an operator card for the given symbol.
func NewOperatorCard(op Operator) *Card {
	id, _ := uuid.NewRandom()
	return &Card{ID: id, Type: CardOperator, Op: op}
}

// NewJokerCard returns an unbound joker.
func NewJokerCard() *Card {
	id, _ := uuid.NewRandom()
	return &Card{ID: id, Type: CardJoker}
}

// NewEqualsCard returns the synthesized equals marker for an equation.
func NewEqualsCard() *Card {
	id, _ := uuid.NewRandom()
	return &Card{ID: id, Type: CardEquals}
}

// BindOperator sets a joker's temporary operator. No-op for other types.
func (c *Card) BindOperator(op Operator) {
	if c.Type == CardJoker {
		c.TempOp = op
	}
}

// ClearOperator removes a joker's temporary binding.
func (c *Card) ClearOperator() {
	if c.Type == CardJoker {
		c.TempOp = ""
	}
}

// EffectiveOp returns the operator a card contributes to an expression.
// Jokers default to addition when unbound.
func (c *Card) EffectiveOp() Operator {
	switch c.Type {
	case CardOperator:
		return c.Op
	case CardJoker:
		if c.TempOp != "" {
			return c.TempOp
		}
		return OpAdd
	}
	return ""
}

// IsOperatorLike reports whether the card acts as an operator token: a plain
// operator card, or a joker that has been bound to one.
func (c *Card) IsOperatorLike() bool {
	return c.Type == CardOperator || (c.Type == CardJoker && c.TempOp != "")
}

// HandKind reports which hand partition a card belongs to when held by a
// player. Jokers live with the operators.
func (c *Card) HandKind() CardType {
	if c.Type == CardNumber {
		return CardNumber
	}
	return CardOperator
}

func (c *Card) String() string {
	switch c.Type {
	case CardNumber:
		return fmt.Sprintf("%d", c.Number)
	case CardOperator:
		return string(c.Op)
	case CardJoker:
		if c.TempOp != "" {
			return fmt.Sprintf("?(%s)", c.TempOp)
		}
		return "?"
	case CardEquals:
		return "="
	}
	return "invalid"
}

// wireCard is the JSON shape shared with every peer: the value field is
// polymorphic (digit for numbers, symbol for operators, the literal "joker"
// for jokers, "=" for equals markers).
type wireCard struct {
	ID     string          `json:"id"`
	Type   CardType        `json:"type"`
	Value  json.RawMessage `json:"value"`
	TempOp Operator        `json:"temporaryOperator,omitempty"`
}

// MarshalJSON implements the polymorphic wire encoding.
func (c *Card) MarshalJSON() ([]byte, error) {
	w := wireCard{ID: c.ID.String(), Type: c.Type, TempOp: c.TempOp}
	switch c.Type {
	case CardNumber:
		w.Value = json.RawMessage(fmt.Sprintf("%d", c.Number))
	case CardOperator:
		b, _ := json.Marshal(string(c.Op))
		w.Value = b
	case CardJoker:
		w.Value = json.RawMessage(`"joker"`)
	case CardEquals:
		w.Value = json.RawMessage(`"="`)
	default:
		return nil, fmt.Errorf("marshal card %s: unknown type %q", c.ID, c.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the polymorphic wire decoding.
func (c *Card) UnmarshalJSON(data []byte) error {
	var w wireCard
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("unmarshal card: bad id %q: %w", w.ID, err)
	}
	*c = Card{ID: id, Type: w.Type, TempOp: w.TempOp}
	switch w.Type {
	case CardNumber:
		if err := json.Unmarshal(w.Value, &c.Number); err != nil {
			return fmt.Errorf("unmarshal number card %s: %w", w.ID, err)
		}
	case CardOperator:
		var sym string
		if err := json.Unmarshal(w.Value, &sym); err != nil {
			return fmt.Errorf("unmarshal operator card %s: %w", w.ID, err)
		}
		c.Op = Operator(sym)
	case CardJoker, CardEquals:
		// value is the fixed literal; nothing to decode
	default:
		return fmt.Errorf("unmarshal card %s: unknown type %q", w.ID, w.Type)
	}
	return nil
}

// CloneCards deep-copies a card slice. Snapshots handed to another goroutine
// or serialized for a peer must not alias live state.
func CloneCards(cards []*Card) []*Card {
	out := make([]*Card, len(cards))
	for i, c := range cards {
		cc := *c
		out[i] = &cc
	}
	return out
}

// FindCard returns the card with the given id, or nil.
func FindCard(cards []*Card, id uuid.UUID) *Card {
	for _, c := range cards {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// RemoveCard deletes the card with the given id from the slice, returning the
// shortened slice and the removed card (nil if absent).
func RemoveCard(cards []*Card, id uuid.UUID) ([]*Card, *Card) {
	for i, c := range cards {
		if c.ID == id {
			return append(cards[:i], cards[i+1:]...), c
		}
	}
	return cards, nil
}
