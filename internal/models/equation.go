// internal/models/equation.go
package models

import (
	"strings"

	"github.com/google/uuid"
)

// Equation is an ordered card sequence containing exactly one equals card.
// The left and right sides are derived from the equals position rather than
// stored separately, so card insertion anywhere in the sequence keeps the
// sides consistent.
type Equation struct {
	ID    uuid.UUID `json:"id"`
	Cards []*Card   `json:"cards"`
}

// NewEquation builds an equation from a left side and a right side,
// synthesizing the equals marker between them.
func NewEquation(leftSide, rightSide []*Card) *Equation {
	id, _ := uuid.NewRandom()
	cards := make([]*Card, 0, len(leftSide)+len(rightSide)+1)
	cards = append(cards, leftSide...)
	cards = append(cards, NewEqualsCard())
	cards = append(cards, rightSide...)
	return &Equation{ID: id, Cards: cards}
}

func (e *Equation) equalsIndex() int {
	for i, c := range e.Cards {
		if c.Type == CardEquals {
			return i
		}
	}
	return -1
}

// LeftSide returns the cards before the equals marker.
func (e *Equation) LeftSide() []*Card {
	if i := e.equalsIndex(); i != -1 {
		return e.Cards[:i]
	}
	return e.Cards
}

// RightSide returns the cards after the equals marker.
func (e *Equation) RightSide() []*Card {
	if i := e.equalsIndex(); i != -1 {
		return e.Cards[i+1:]
	}
	return nil
}

// InsertCard places a card at the given position, appending when the
// position is out of range.
func (e *Equation) InsertCard(c *Card, position int) {
	if position < 0 || position > len(e.Cards) {
		e.Cards = append(e.Cards, c)
		return
	}
	e.Cards = append(e.Cards, nil)
	copy(e.Cards[position+1:], e.Cards[position:])
	e.Cards[position] = c
}

// RemoveCard withdraws the card with the given id. The equals marker cannot
// be removed; attempts return nil.
func (e *Equation) RemoveCard(id uuid.UUID) *Card {
	for i, c := range e.Cards {
		if c.ID == id {
			if c.Type == CardEquals {
				return nil
			}
			e.Cards = append(e.Cards[:i], e.Cards[i+1:]...)
			return c
		}
	}
	return nil
}

// AllCards returns every card except the equals marker.
func (e *Equation) AllCards() []*Card {
	out := make([]*Card, 0, len(e.Cards))
	for _, c := range e.Cards {
		if c.Type != CardEquals {
			out = append(out, c)
		}
	}
	return out
}

// ContainsCard reports whether the equation holds the card (equals marker
// excluded).
func (e *Equation) ContainsCard(id uuid.UUID) bool {
	for _, c := range e.Cards {
		if c.Type != CardEquals && c.ID == id {
			return true
		}
	}
	return false
}

// RightValue interprets the right side as digit concatenation: cards 3,2
// read as 32. An empty right side reads as 0.
func (e *Equation) RightValue() int {
	value := 0
	for _, c := range e.RightSide() {
		if c.Type == CardNumber {
			value = value*10 + c.Number
		}
	}
	return value
}

func (e *Equation) String() string {
	parts := make([]string, len(e.Cards))
	for i, c := range e.Cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
