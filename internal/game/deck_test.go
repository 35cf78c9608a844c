// internal/game/deck_test.go
package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jyseo/rummath/internal/models"
)

func testState(seed int64) *State {
	return NewStateWithRand(DefaultSettings(), rand.New(rand.NewSource(seed)))
}

func TestCreateDeckSize(t *testing.T) {
	s := DefaultSettings()
	deck := CreateDeck(s)
	assert.Len(t, deck, s.DeckSize())
	assert.Equal(t, 3*10+4*4+2, s.DeckSize())

	counts := map[models.CardType]int{}
	for _, c := range deck {
		counts[c.Type]++
	}
	assert.Equal(t, 30, counts[models.CardNumber])
	assert.Equal(t, 16, counts[models.CardOperator])
	assert.Equal(t, 2, counts[models.CardJoker])
}

func TestShuffleDeckIsPermutation(t *testing.T) {
	deck := CreateDeck(DefaultSettings())
	before := make(map[string]bool, len(deck))
	for _, c := range deck {
		before[c.ID.String()] = true
	}
	shuffled := ShuffleDeck(deck, rand.New(rand.NewSource(7)))
	assert.Len(t, shuffled, len(before))
	for _, c := range shuffled {
		assert.True(t, before[c.ID.String()])
	}
}

func TestDealCards(t *testing.T) {
	s := testState(1)
	deck := ShuffleDeck(CreateDeck(s.Settings), rand.New(rand.NewSource(1)))
	s.DealCards(deck, []string{"Alice", "Bob", "Cara", "Dan"})

	require.Len(t, s.Players, 4)
	dealt := 0
	numbersDealt := 0
	for _, p := range s.Players {
		assert.LessOrEqual(t, len(p.NumberCards), s.Settings.InitialNumberCards)
		assert.LessOrEqual(t, len(p.OperatorCards), s.Settings.InitialOperatorCards)
		dealt += len(p.NumberCards) + len(p.OperatorCards)
		numbersDealt += len(p.NumberCards)
	}
	// 30 number cards cannot cover 4×13; the pool short-deals dry.
	assert.Equal(t, s.Settings.NumberSets*10, numbersDealt)
	assert.Equal(t, s.Settings.DeckSize(), dealt+len(s.RemainingDeck))
}

func TestGenerateTargetAnswersPairwise(t *testing.T) {
	s := testState(1)
	s.TargetCards = []*models.Card{num(3), num(7)}
	s.GenerateTargetAnswers()
	assert.Equal(t, []int{37, 73}, s.PossibleAnswers)
	assert.Equal(t, 37, s.TargetAnswer)
}

func TestGenerateTargetAnswersSingleton(t *testing.T) {
	s := testState(1)
	s.TargetCards = []*models.Card{num(5)}
	s.GenerateTargetAnswers()
	assert.Equal(t, []int{5}, s.PossibleAnswers)
	assert.Equal(t, 5, s.TargetAnswer)
}

func TestGenerateTargetAnswersDedup(t *testing.T) {
	s := testState(1)
	s.TargetCards = []*models.Card{num(4), num(4)}
	s.GenerateTargetAnswers()
	assert.Equal(t, []int{44}, s.PossibleAnswers)
}

func TestGenerateTargetAnswersStayPairwise(t *testing.T) {
	// Even with three cards the answers stay 2-digit combinations.
	s := testState(1)
	s.TargetCards = []*models.Card{num(1), num(2), num(3)}
	s.GenerateTargetAnswers()
	assert.Equal(t, []int{12, 13, 21, 23, 31, 32}, s.PossibleAnswers)
}

func TestGenerateNewTargetDrawsFromDeck(t *testing.T) {
	s := testState(3)
	s.RemainingDeck = []*models.Card{num(1), num(2), num(3), op(models.OpAdd)}
	s.GenerateNewTarget()

	require.Len(t, s.TargetCards, 2)
	assert.NotEqual(t, s.TargetCards[0].ID, s.TargetCards[1].ID)
	// Both target cards left the deck.
	for _, tc := range s.TargetCards {
		assert.Nil(t, models.FindCard(s.RemainingDeck, tc.ID))
	}
	assert.Len(t, s.RemainingDeck, 2)
	assert.NotEmpty(t, s.PossibleAnswers)
}

func TestGenerateNewTargetEmergencyRebuild(t *testing.T) {
	s := testState(3)
	s.RemainingDeck = nil
	s.FieldEquations = nil
	s.GenerateNewTarget()
	require.Len(t, s.TargetCards, 2)
	assert.NotEmpty(t, s.PossibleAnswers)
}

func TestAddTargetCardEscalation(t *testing.T) {
	s := testState(3)
	s.RemainingDeck = []*models.Card{num(9), num(8)}
	s.TargetCards = []*models.Card{num(3), num(7)}
	s.GenerateTargetAnswers()

	s.AddTargetCard()
	assert.Len(t, s.TargetCards, 3)
	assert.Len(t, s.RemainingDeck, 1)
	// Regenerated over the larger set, still pairwise.
	for _, a := range s.PossibleAnswers {
		assert.Less(t, a, 100)
	}
	assert.Greater(t, len(s.PossibleAnswers), 2)
}

func TestAddTargetCardFieldFallback(t *testing.T) {
	s := testState(3)
	s.RemainingDeck = []*models.Card{op(models.OpAdd)}
	s.TargetCards = []*models.Card{num(3), num(7)}
	s.FieldEquations = []*models.Equation{
		models.NewEquation([]*models.Card{num(2), op(models.OpAdd), num(2)}, []*models.Card{num(4)}),
	}
	s.GenerateTargetAnswers()

	s.AddTargetCard()
	assert.Len(t, s.TargetCards, 3)
	// The fallback card left its equation; a card belongs to one container.
	added := s.TargetCards[2]
	assert.False(t, s.FieldEquations[0].ContainsCard(added.ID))
}

func TestDrawFromDeck(t *testing.T) {
	s := testState(5)
	s.RemainingDeck = []*models.Card{num(1), op(models.OpAdd)}

	c, err := s.DrawFromDeck(models.CardNumber)
	require.NoError(t, err)
	assert.Equal(t, models.CardNumber, c.Type)

	_, err = s.DrawFromDeck(models.CardNumber)
	assert.ErrorIs(t, err, ErrDeckEmpty)

	c, err = s.DrawFromDeck(models.CardOperator)
	require.NoError(t, err)
	assert.Equal(t, models.CardOperator, c.HandKind())
	assert.Empty(t, s.RemainingDeck)
}
