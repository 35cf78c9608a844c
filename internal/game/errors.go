// internal/game/errors.go
package game

import (
	"errors"
	"fmt"
)

// ErrNoResult is the evaluator's sentinel for a malformed expression. It lets
// callers distinguish "could not be evaluated" from "evaluated to the wrong
// value".
var ErrNoResult = errors.New("expression has no result")

// Resource exhaustion conditions. These are recoverable: the caller surfaces
// them and the deck/target generator may fall back to field cards or an
// emergency rebuild.
var (
	ErrDeckEmpty     = errors.New("no cards left in the remaining deck")
	ErrNoTargetCards = errors.New("no target cards available")
)

// ErrNotYourTurn rejects actions from a player out of turn.
var ErrNotYourTurn = errors.New("not your turn")

// ErrGameInactive rejects actions outside an active game.
var ErrGameInactive = errors.New("game is not active")

// ErrDrawInFlight guards against issuing a second draw request while one is
// still pending.
var ErrDrawInFlight = errors.New("a card draw request is already in flight")

// RuleViolationError describes a move the rules reject: malformed expression,
// wrong answer, illegal card removal. No state mutation is applied when one
// is returned.
type RuleViolationError struct {
	Reason string
}

func (e *RuleViolationError) Error() string {
	return "rule violation: " + e.Reason
}

func ruleViolation(format string, args ...interface{}) error {
	return &RuleViolationError{Reason: fmt.Sprintf(format, args...)}
}

// IsRuleViolation reports whether err is a rule violation.
func IsRuleViolation(err error) bool {
	var rv *RuleViolationError
	return errors.As(err, &rv)
}
