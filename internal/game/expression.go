// internal/game/expression.go
package game

import (
	"github.com/google/uuid"

	"github.com/jyseo/rummath/internal/models"
)

// ExpressionArea is a player's staging row: the ordered cards being arranged
// into an answer before submission. Every peer mirrors every player's area so
// opponents can watch an expression take shape.
type ExpressionArea struct {
	Cards []*models.Card `json:"cards"`
}

// Add places a card at the given position, appending when the position is out
// of range.
func (a *ExpressionArea) Add(c *models.Card, position int) {
	if position < 0 || position > len(a.Cards) {
		a.Cards = append(a.Cards, c)
		return
	}
	a.Cards = append(a.Cards, nil)
	copy(a.Cards[position+1:], a.Cards[position:])
	a.Cards[position] = c
}

// Remove withdraws the card with the given id, or returns nil.
func (a *ExpressionArea) Remove(id uuid.UUID) *models.Card {
	var removed *models.Card
	a.Cards, removed = models.RemoveCard(a.Cards, id)
	return removed
}

// Move repositions a card within the area. Out-of-range targets append.
func (a *ExpressionArea) Move(id uuid.UUID, position int) bool {
	c := a.Remove(id)
	if c == nil {
		return false
	}
	if position > len(a.Cards) {
		position = len(a.Cards)
	}
	a.Add(c, position)
	return true
}

// Contains reports whether the area holds the card.
func (a *ExpressionArea) Contains(id uuid.UUID) bool {
	return models.FindCard(a.Cards, id) != nil
}

// Clear empties the area and returns the cards that were staged.
func (a *ExpressionArea) Clear() []*models.Card {
	cards := a.Cards
	a.Cards = nil
	return cards
}

// Value evaluates the staged expression. ErrNoResult means the sequence is
// not a well-formed expression yet.
func (a *ExpressionArea) Value() (int, error) {
	return Evaluate(a.Cards)
}

// IsValidExpression reports whether the staged cards form a submittable
// expression: non-empty, at least one operator, and neither the first nor the
// last card acting as one.
func (a *ExpressionArea) IsValidExpression() bool {
	return validExpression(a.Cards)
}

// SetCards replaces the area's contents wholesale. Guests use this when
// applying a mirrored expression snapshot.
func (a *ExpressionArea) SetCards(cards []*models.Card) {
	a.Cards = cards
}
