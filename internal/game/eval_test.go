// internal/game/eval_test.go
package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jyseo/rummath/internal/models"
)

func num(d int) *models.Card { return models.NewNumberCard(d) }

func op(o models.Operator) *models.Card { return models.NewOperatorCard(o) }

func TestEvaluatePrecedence(t *testing.T) {
	// 6 × 7 + 1 = 43
	v, err := Evaluate([]*models.Card{num(6), op(models.OpMultiply), num(7), op(models.OpAdd), num(1)})
	require.NoError(t, err)
	assert.Equal(t, 43, v)
}

func TestEvaluateFloorDivision(t *testing.T) {
	// 20 ÷ 3 keeps the integer quotient only
	v, err := Evaluate([]*models.Card{num(2), num(0), op(models.OpDivide), num(3)})
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	// 0 - 20 ÷ 3: division resolves before subtraction
	v, err = Evaluate([]*models.Card{num(0), op(models.OpSubtract), num(2), num(0), op(models.OpDivide), num(3)})
	require.NoError(t, err)
	assert.Equal(t, -6, v)
}

func TestEvaluateDigitConcatenation(t *testing.T) {
	// 3 2 + 1 reads as 32 + 1
	v, err := Evaluate([]*models.Card{num(3), num(2), op(models.OpAdd), num(1)})
	require.NoError(t, err)
	assert.Equal(t, 33, v)
}

func TestEvaluateMalformed(t *testing.T) {
	// operator-leading sequence has no result
	_, err := Evaluate([]*models.Card{op(models.OpAdd), num(5)})
	assert.ErrorIs(t, err, ErrNoResult)

	// trailing operator
	_, err = Evaluate([]*models.Card{num(5), op(models.OpAdd)})
	assert.ErrorIs(t, err, ErrNoResult)

	// division by zero
	_, err = Evaluate([]*models.Card{num(5), op(models.OpDivide), num(0)})
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = Evaluate(nil)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestEvaluateJoker(t *testing.T) {
	joker := models.NewJokerCard()
	joker.BindOperator(models.OpMultiply)
	v, err := Evaluate([]*models.Card{num(6), joker, num(7)})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// unbound joker plays as addition
	unbound := models.NewJokerCard()
	v, err = Evaluate([]*models.Card{num(6), unbound, num(7)})
	require.NoError(t, err)
	assert.Equal(t, 13, v)
}

func TestEquationValid(t *testing.T) {
	eq := models.NewEquation(
		[]*models.Card{num(3), op(models.OpAdd), num(4)},
		[]*models.Card{num(7)},
	)
	assert.True(t, EquationValid(eq))

	bad := models.NewEquation(
		[]*models.Card{num(3), op(models.OpAdd), num(4)},
		[]*models.Card{num(8)},
	)
	assert.False(t, EquationValid(bad))
}

func TestValidExpression(t *testing.T) {
	assert.True(t, validExpression([]*models.Card{num(3), op(models.OpAdd), num(4)}))
	assert.False(t, validExpression(nil))
	assert.False(t, validExpression([]*models.Card{num(3), num(4)}))
	assert.False(t, validExpression([]*models.Card{op(models.OpAdd), num(5)}))
	assert.False(t, validExpression([]*models.Card{num(5), op(models.OpAdd)}))
}
