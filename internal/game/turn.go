// internal/game/turn.go
package game

// AdvanceTurn moves play to the next player and reports whether that step
// completed the current cycle (the turn index wrapped back to the player who
// opened the cycle).
func (s *State) AdvanceTurn() (cycleCompleted bool) {
	if len(s.Players) == 0 {
		return false
	}
	s.CurrentPlayer = (s.CurrentPlayer + 1) % len(s.Players)
	if s.CurrentPlayer == s.CycleStartPlayer {
		s.CycleCompleted = true
		return true
	}
	return false
}

// StartNewCycle opens a fresh cycle at the current player. When the finished
// cycle produced no correct answer the target escalates first: one more card
// joins the target pool and the possible answers regenerate.
func (s *State) StartNewCycle() (escalated bool) {
	if s.CycleCompleted && !s.CycleAnswerFound {
		s.AddTargetCard()
		escalated = true
	}
	s.CycleStartPlayer = s.CurrentPlayer
	s.CycleCompleted = false
	s.CycleAnswerFound = false
	return escalated
}
