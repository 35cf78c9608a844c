// internal/models/player.go
package models

import "github.com/google/uuid"

// Player holds one participant's identity and hand. The operator hand also
// holds jokers. A card belongs to exactly one container at a time: a hand,
// the remaining deck, the expression area, or a field equation.
type Player struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	NumberCards   []*Card `json:"numberCards"`
	OperatorCards []*Card `json:"operatorCards"`
	IsHost        bool    `json:"isHost"`
	IsReady       bool    `json:"isReady"`
}

// TakeCard removes the card with the given id from whichever hand holds it.
// Returns nil if the player does not hold the card.
func (p *Player) TakeCard(id uuid.UUID) *Card {
	var card *Card
	p.NumberCards, card = RemoveCard(p.NumberCards, id)
	if card != nil {
		return card
	}
	p.OperatorCards, card = RemoveCard(p.OperatorCards, id)
	return card
}

// GiveCard places a card into the hand matching its kind. A joker returning
// to a hand loses its temporary operator binding.
func (p *Player) GiveCard(c *Card) {
	c.ClearOperator()
	if c.HandKind() == CardNumber {
		p.NumberCards = append(p.NumberCards, c)
	} else {
		p.OperatorCards = append(p.OperatorCards, c)
	}
}

// HoldsCard reports whether either hand contains the card.
func (p *Player) HoldsCard(id uuid.UUID) bool {
	return FindCard(p.NumberCards, id) != nil || FindCard(p.OperatorCards, id) != nil
}

// Victory captures which empty-hand condition a player satisfied, if any.
type Victory struct {
	NumberVictory   bool
	OperatorVictory bool
}

// HasWon reports whether either victory condition holds.
func (v Victory) HasWon() bool { return v.NumberVictory || v.OperatorVictory }

// CheckVictory evaluates the empty-hand win conditions for the player.
func (p *Player) CheckVictory() Victory {
	return Victory{
		NumberVictory:   len(p.NumberCards) == 0,
		OperatorVictory: len(p.OperatorCards) == 0,
	}
}
