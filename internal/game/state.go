// internal/game/state.go
package game

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jyseo/rummath/internal/models"
)

// State is the canonical game state. On the host it is the single source of
// truth; guests hold a mirrored copy that only ever changes by applying
// host-originated messages. All mutation happens under the owning session's
// lock.
type State struct {
	Players          []*models.Player   `json:"players"`
	CurrentPlayer    int                `json:"currentPlayer"`
	TargetAnswer     int                `json:"targetAnswer"`
	TargetCards      []*models.Card     `json:"targetCards"`
	PossibleAnswers  []int              `json:"possibleAnswers"`
	FieldEquations   []*models.Equation `json:"fieldEquations"`
	RemainingDeck    []*models.Card     `json:"remainingDeck"`
	Active           bool               `json:"isGameActive"`
	CycleStartPlayer int                `json:"cycleStartPlayer"`
	CycleCompleted   bool               `json:"cycleCompleted"`
	CycleAnswerFound bool               `json:"cycleAnswerFound"`

	Settings Settings `json:"settings"`

	rng *rand.Rand
}

// NewState returns an empty state seeded from the clock. Use NewStateWithRand
// in tests that need deterministic dealing.
func NewState(settings Settings) *State {
	return NewStateWithRand(settings, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewStateWithRand returns an empty state using the provided randomness
// source for shuffling, dealing and target generation.
func NewStateWithRand(settings Settings, rng *rand.Rand) *State {
	return &State{
		Settings: settings,
		rng:      rng,
	}
}

// Start deals a fresh game: shuffled deck, per-player hands, initial target,
// and the first cycle beginning at player 0.
func (s *State) Start(playerNames []string) {
	deck := ShuffleDeck(CreateDeck(s.Settings), s.rng)
	s.DealCards(deck, playerNames)
	s.FieldEquations = nil
	s.CurrentPlayer = 0
	s.CycleStartPlayer = 0
	s.CycleCompleted = false
	s.CycleAnswerFound = false
	s.GenerateNewTarget()
	s.Active = true
}

// PlayerByID returns the player with the given id, or nil.
func (s *State) PlayerByID(id int) *models.Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CurrentPlayerRef returns the player whose turn it is, or nil before the
// game starts.
func (s *State) CurrentPlayerRef() *models.Player {
	return s.PlayerByID(s.CurrentPlayer)
}

// AvailableFieldCards collects every card currently committed to a field
// equation, equals markers excluded.
func (s *State) AvailableFieldCards() []*models.Card {
	var out []*models.Card
	for _, eq := range s.FieldEquations {
		out = append(out, eq.AllCards()...)
	}
	return out
}

// FieldEquationByID returns the field equation with the given id, or nil.
func (s *State) FieldEquationByID(id uuid.UUID) *models.Equation {
	for _, eq := range s.FieldEquations {
		if eq.ID == id {
			return eq
		}
	}
	return nil
}

// EquationsContaining returns every field equation holding any of the given
// cards. Used by the cascading break: committing an equation that reuses
// field cards dissolves each equation those cards came from.
func (s *State) EquationsContaining(cards []*models.Card) []*models.Equation {
	var out []*models.Equation
	for _, eq := range s.FieldEquations {
		for _, c := range cards {
			if eq.ContainsCard(c.ID) {
				out = append(out, eq)
				break
			}
		}
	}
	return out
}

// RemoveEquation withdraws the equation from the field and returns it, or nil
// when no equation has that id.
func (s *State) RemoveEquation(id uuid.UUID) *models.Equation {
	for i, eq := range s.FieldEquations {
		if eq.ID == id {
			s.FieldEquations = append(s.FieldEquations[:i], s.FieldEquations[i+1:]...)
			return eq
		}
	}
	return nil
}

// takeFieldCard removes the card from whichever field equation holds it.
func (s *State) takeFieldCard(id uuid.UUID) *models.Card {
	for _, eq := range s.FieldEquations {
		if c := eq.RemoveCard(id); c != nil {
			return c
		}
	}
	return nil
}

// RemoveTargetCard withdraws the card from the target pool.
func (s *State) RemoveTargetCard(id uuid.UUID) *models.Card {
	var removed *models.Card
	s.TargetCards, removed = models.RemoveCard(s.TargetCards, id)
	return removed
}

func defaultPlayerName(i int) string {
	return fmt.Sprintf("Player %d", i+1)
}
