// internal/game/eval.go
package game

import (
	"github.com/jyseo/rummath/internal/models"
)

// token is either an integer literal built from consecutive number cards or
// an operator contributed by an operator card / bound joker.
type token struct {
	isOp  bool
	value int
	op    models.Operator
}

// tokenize folds a card sequence into alternating literal and operator
// tokens. Consecutive number cards concatenate into a single literal (3,2
// becomes 32); a joker contributes its bound operator, defaulting to +.
func tokenize(cards []*models.Card) []token {
	var tokens []token
	accumulating := false
	current := 0
	flush := func() {
		if accumulating {
			tokens = append(tokens, token{value: current})
			current = 0
			accumulating = false
		}
	}
	for _, c := range cards {
		switch c.Type {
		case models.CardNumber:
			current = current*10 + c.Number
			accumulating = true
		case models.CardOperator, models.CardJoker:
			flush()
			tokens = append(tokens, token{isOp: true, op: c.EffectiveOp()})
		}
	}
	flush()
	return tokens
}

// Evaluate computes the value of an ordered card sequence under the game's
// arithmetic: multiplication and division resolve first, left to right
// (division keeps the integer quotient only), then addition and subtraction
// left to right. Malformed sequences return ErrNoResult rather than
// panicking so callers can tell "malformed" from "wrong value".
func Evaluate(cards []*models.Card) (int, error) {
	tokens := tokenize(cards)
	if len(tokens) == 0 {
		return 0, ErrNoResult
	}
	if len(tokens) == 1 {
		if tokens[0].isOp {
			return 0, ErrNoResult
		}
		return tokens[0].value, nil
	}
	// A well-formed sequence alternates literal, operator, literal, ...
	if len(tokens)%2 == 0 {
		return 0, ErrNoResult
	}
	for i, t := range tokens {
		if t.isOp != (i%2 == 1) {
			return 0, ErrNoResult
		}
	}

	// Pass 1: × and ÷.
	reduced := make([]token, 0, len(tokens))
	reduced = append(reduced, tokens[0])
	for i := 1; i < len(tokens); i += 2 {
		op := tokens[i].op
		right := tokens[i+1].value
		if op == models.OpMultiply || op == models.OpDivide {
			left := reduced[len(reduced)-1].value
			var v int
			if op == models.OpMultiply {
				v = left * right
			} else {
				if right == 0 {
					return 0, ErrNoResult
				}
				v = floorDiv(left, right)
			}
			reduced[len(reduced)-1] = token{value: v}
		} else {
			reduced = append(reduced, tokens[i], tokens[i+1])
		}
	}

	// Pass 2: + and -.
	result := reduced[0].value
	for i := 1; i < len(reduced); i += 2 {
		right := reduced[i+1].value
		switch reduced[i].op {
		case models.OpAdd:
			result += right
		case models.OpSubtract:
			result -= right
		default:
			return 0, ErrNoResult
		}
	}
	return result, nil
}

// floorDiv keeps the quotient only, rounding toward negative infinity so
// intermediate negatives behave the same on every peer.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// EquationValid recomputes an equation's validity: the left side must
// evaluate to the right side's digit-concatenation value (0 for an empty
// right side).
func EquationValid(e *models.Equation) bool {
	v, err := Evaluate(e.LeftSide())
	if err != nil {
		return false
	}
	return v == e.RightValue()
}
