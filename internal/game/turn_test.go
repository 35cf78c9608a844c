// internal/game/turn_test.go
package game

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jyseo/rummath/internal/models"
)

func fourPlayerState() *State {
	s := testState(1)
	for i := 0; i < 4; i++ {
		s.Players = append(s.Players, &models.Player{ID: i, Name: defaultPlayerName(i)})
	}
	s.Active = true
	return s
}

func TestAdvanceTurnWrapsAndReportsCycle(t *testing.T) {
	s := fourPlayerState()

	for _, want := range []int{1, 2, 3} {
		completed := s.AdvanceTurn()
		assert.False(t, completed)
		assert.Equal(t, want, s.CurrentPlayer)
	}
	// The fourth step returns to the cycle opener.
	completed := s.AdvanceTurn()
	assert.True(t, completed)
	assert.Equal(t, 0, s.CurrentPlayer)
	assert.True(t, s.CycleCompleted)
}

func TestStartNewCycleAfterAnswer(t *testing.T) {
	s := fourPlayerState()
	s.TargetCards = []*models.Card{num(3), num(7)}
	s.GenerateTargetAnswers()
	s.CurrentPlayer = 2
	s.CycleCompleted = true
	s.CycleAnswerFound = true

	escalated := s.StartNewCycle()
	assert.False(t, escalated)
	assert.Equal(t, 2, s.CycleStartPlayer)
	assert.False(t, s.CycleCompleted)
	assert.False(t, s.CycleAnswerFound)
	assert.Len(t, s.TargetCards, 2)
}

func TestStartNewCycleEscalatesWithoutAnswer(t *testing.T) {
	s := fourPlayerState()
	s.RemainingDeck = []*models.Card{num(9)}
	s.TargetCards = []*models.Card{num(3), num(7)}
	s.GenerateTargetAnswers()
	s.CycleCompleted = true
	s.CycleAnswerFound = false

	escalated := s.StartNewCycle()
	assert.True(t, escalated)
	assert.Len(t, s.TargetCards, 3)
	assert.False(t, s.CycleCompleted)
	assert.False(t, s.CycleAnswerFound)
}
