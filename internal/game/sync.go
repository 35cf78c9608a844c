// internal/game/sync.go
package game

import (
	"github.com/sirupsen/logrus"

	"github.com/jyseo/rummath/internal/models"
	"github.com/jyseo/rummath/internal/protocol"
)

// HandleMessage applies one incoming sync message to the mirrored state.
// Messages from this peer itself are skipped (optimistic echo already
// applied them), and sequence-gated messages older than the last applied one
// for their stream are dropped.
func (s *GameSession) HandleMessage(msg protocol.Message) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if msg.From == s.LocalPlayerName() {
		return nil
	}
	// Authorization for peer-authored canonical updates comes before sequence
	// accounting: a rejected message must not advance its stream.
	switch msg.Type {
	case protocol.TypeFieldEquations, protocol.TypeGameStateCommon:
		if !s.senderMayCommitLocked(msg.From) {
			s.log.WithFields(logrus.Fields{
				"type": msg.Type,
				"from": msg.From,
			}).Warn("canonical update from a player out of turn")
			return nil
		}
	}
	if msg.Seq > 0 {
		if stream, gated := msg.Stream(); gated && !s.seq.ShouldApply(stream, msg.Seq) {
			s.log.WithFields(logrus.Fields{
				"type":   msg.Type,
				"stream": stream,
				"seq":    msg.Seq,
			}).Debug("dropping stale message")
			return nil
		}
	}

	switch msg.Type {
	case protocol.TypeTurnChange:
		var tc protocol.TurnChange
		if err := msg.Decode(&tc); err != nil {
			return err
		}
		if s.IsHost {
			// A guest ending its turn forwards an unsequenced turn_change;
			// the host runs the canonical progression and re-announces it.
			s.applyGuestTurnEndLocked(msg.From)
			return nil
		}
		s.applyTurnChangeLocked(tc)

	case protocol.TypeCardMove:
		var mv protocol.CardMove
		if err := msg.Decode(&mv); err != nil {
			return err
		}
		s.applyCardMoveLocked(mv)

	case protocol.TypeCardDraw:
		var draw protocol.CardDraw
		if err := msg.Decode(&draw); err != nil {
			return err
		}
		s.applyCardDrawLocked(draw)

	case protocol.TypeCardDrawRequest:
		var req protocol.CardDrawRequest
		if err := msg.Decode(&req); err != nil {
			return err
		}
		s.handleDrawRequestLocked(req)

	case protocol.TypeCardDrawResponse:
		var resp protocol.CardDrawResponse
		if err := msg.Decode(&resp); err != nil {
			return err
		}
		s.applyDrawResponseLocked(resp)

	case protocol.TypeExpressionState:
		var es protocol.ExpressionState
		if err := msg.Decode(&es); err != nil {
			return err
		}
		s.applyExpressionStateLocked(es)

	case protocol.TypeFieldEquations:
		var fu protocol.FieldEquationsUpdate
		if err := msg.Decode(&fu); err != nil {
			return err
		}
		s.State.FieldEquations = fu.FieldEquations

	case protocol.TypeGameState:
		var gs protocol.GameState
		if err := msg.Decode(&gs); err != nil {
			return err
		}
		s.applyGameStateLocked(gs, true)

	case protocol.TypeGameStateCommon:
		var gs protocol.GameState
		if err := msg.Decode(&gs); err != nil {
			return err
		}
		s.applyGameStateLocked(gs, false)
		s.hasSubmittedAnswer = false
		s.isAnswerSubmitted = false

	case protocol.TypeNewTarget:
		var nt protocol.NewTargetUpdate
		if err := msg.Decode(&nt); err != nil {
			return err
		}
		s.State.TargetCards = nt.TargetCards
		s.State.PossibleAnswers = nt.PossibleAnswers
		s.State.TargetAnswer = nt.TargetAnswer
		s.State.RemainingDeck = nt.RemainingDeck

	case protocol.TypeCycleStart:
		var cs protocol.CycleStart
		if err := msg.Decode(&cs); err != nil {
			return err
		}
		s.State.CycleStartPlayer = cs.CycleStartPlayer
		s.State.CycleCompleted = false
		s.State.CycleAnswerFound = false

	case protocol.TypeEquationPosition:
		var pos protocol.EquationPosition
		if err := msg.Decode(&pos); err != nil {
			return err
		}
		s.EquationPositions[pos.EquationID] = pos

	case protocol.TypePlayerReady:
		var pr protocol.PlayerReady
		if err := msg.Decode(&pr); err != nil {
			return err
		}
		if p := s.playerByNameLocked(pr.PlayerName); p != nil {
			p.IsReady = pr.Ready
		}

	case protocol.TypeGameStart:
		s.log.WithField("from", msg.From).Info("game starting, waiting for state snapshot")

	default:
		s.log.WithField("type", msg.Type).Warn("unknown message type")
	}
	return nil
}

// senderMayCommitLocked reports whether a peer-authored canonical update is
// acceptable: the host always is, a guest only while it holds the turn.
func (s *GameSession) senderMayCommitLocked(from string) bool {
	p := s.playerByNameLocked(from)
	if p == nil {
		return false
	}
	return p.ID == 0 || p.ID == s.State.CurrentPlayer
}

func (s *GameSession) playerByNameLocked(name string) *models.Player {
	for _, p := range s.State.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// applyTurnChangeLocked mirrors the canonical turn announcement. The local
// per-turn flags reset whenever the turn actually moves.
func (s *GameSession) applyTurnChangeLocked(tc protocol.TurnChange) {
	if tc.CurrentPlayer == s.State.CurrentPlayer &&
		tc.CycleCompleted == s.State.CycleCompleted &&
		tc.CycleAnswerFound == s.State.CycleAnswerFound {
		return
	}
	s.State.CurrentPlayer = tc.CurrentPlayer
	s.State.CycleCompleted = tc.CycleCompleted
	s.State.CycleAnswerFound = tc.CycleAnswerFound
	s.hasSubmittedAnswer = false
	s.isAnswerSubmitted = false
}

// applyGuestTurnEndLocked validates a guest's turn end against canonical
// state and runs the host-side progression.
func (s *GameSession) applyGuestTurnEndLocked(from string) {
	p := s.playerByNameLocked(from)
	if p == nil || p.ID != s.State.CurrentPlayer {
		s.log.WithField("from", from).Warn("turn end from a player out of turn")
		// Re-announce canonical state so the optimistic guest rolls back.
		if msg, ok := s.newSeqMessage(protocol.TypeTurnChange, protocol.TurnChange{
			CurrentPlayer:    s.State.CurrentPlayer,
			CycleCompleted:   s.State.CycleCompleted,
			CycleAnswerFound: s.State.CycleAnswerFound,
		}); ok {
			s.fire(msg)
		}
		return
	}
	s.advanceTurnLocked()
}

// applyCardMoveLocked mirrors another player's card relocation.
func (s *GameSession) applyCardMoveLocked(mv protocol.CardMove) {
	p := s.playerByNameLocked(mv.PlayerName)
	if p == nil {
		s.log.WithField("player", mv.PlayerName).Warn("card move for unknown player")
		return
	}
	area := s.expressionFor(p.ID)

	switch {
	case mv.Source == protocol.ContainerHand && mv.TargetType == protocol.ContainerExpression:
		c := p.TakeCard(mv.CardID)
		if c == nil {
			c = mv.Card
		}
		if c != nil {
			area.Add(c, mv.Position)
		}

	case mv.Source == protocol.ContainerEquation && mv.TargetType == protocol.ContainerExpression:
		c := models.FindCard(s.State.AvailableFieldCards(), mv.CardID)
		if c == nil {
			c = mv.Card
		}
		if c != nil && !area.Contains(c.ID) {
			area.Add(c, mv.Position)
		}

	case mv.Source == protocol.ContainerExpression && mv.TargetType == protocol.ContainerExpression:
		area.Move(mv.CardID, mv.Position)

	case mv.Source == protocol.ContainerExpression && mv.TargetType == protocol.ContainerHand:
		c := area.Remove(mv.CardID)
		if c == nil {
			c = mv.Card
		}
		if c != nil && models.FindCard(s.State.AvailableFieldCards(), c.ID) == nil {
			p.GiveCard(c)
		}

	default:
		s.log.WithFields(logrus.Fields{
			"source": mv.Source,
			"target": mv.TargetType,
		}).Warn("unsupported mirrored move")
	}
}

// applyCardDrawLocked mirrors a completed draw. The drawer never re-applies
// its own broadcast; it already holds the card.
func (s *GameSession) applyCardDrawLocked(draw protocol.CardDraw) {
	if draw.PlayerName == s.LocalPlayerName() {
		return
	}
	p := s.playerByNameLocked(draw.PlayerName)
	if p == nil || draw.DrawnCard == nil {
		return
	}
	p.GiveCard(draw.DrawnCard)
	s.State.RemainingDeck = draw.RemainingDeck
}

// handleDrawRequestLocked performs a guest's draw against the canonical deck
// and answers it. Host only.
func (s *GameSession) handleDrawRequestLocked(req protocol.CardDrawRequest) {
	if !s.IsHost {
		return
	}
	p := s.playerByNameLocked(req.PlayerName)
	if p == nil {
		s.log.WithField("player", req.PlayerName).Warn("draw request from unknown player")
		return
	}
	card, err := s.State.DrawFromDeck(req.CardType)
	if err != nil {
		resp := protocol.CardDrawResponse{PlayerName: req.PlayerName, Error: err.Error()}
		if msg, ok := s.newSeqMessage(protocol.TypeCardDrawResponse, resp); ok {
			s.fireTo(req.PlayerName, msg)
		}
		return
	}
	p.GiveCard(card)
	resp := protocol.CardDrawResponse{
		PlayerName:    req.PlayerName,
		Card:          card,
		RemainingDeck: s.State.RemainingDeck,
	}
	if msg, ok := s.newSeqMessage(protocol.TypeCardDrawResponse, resp); ok {
		s.fireTo(req.PlayerName, msg)
	}
	s.broadcastDrawLocked(req.PlayerName, card)
}

// applyDrawResponseLocked finishes a guest's pending draw.
func (s *GameSession) applyDrawResponseLocked(resp protocol.CardDrawResponse) {
	if s.IsHost || resp.PlayerName != s.LocalPlayerName() {
		return
	}
	s.isDrawingCard = false
	if resp.Error != "" {
		s.log.WithField("reason", resp.Error).Warn("draw request failed")
		return
	}
	if p := s.State.PlayerByID(s.LocalPlayer); p != nil && resp.Card != nil {
		p.GiveCard(resp.Card)
	}
	s.State.RemainingDeck = resp.RemainingDeck
	// A completed draw ends the turn.
	if err := s.guestEndTurnLocked(); err != nil {
		s.log.WithError(err).Warn("turn end after draw failed")
	}
}

// applyExpressionStateLocked replaces the mirror of another player's staged
// expression wholesale.
func (s *GameSession) applyExpressionStateLocked(es protocol.ExpressionState) {
	p := s.playerByNameLocked(es.PlayerName)
	if p == nil {
		return
	}
	s.expressionFor(p.ID).SetCards(es.Cards)
}

// applyGameStateLocked replaces the mirrored state with the host's snapshot.
// adoptIdentity is set for the private per-guest snapshot, which also tells
// the guest which player entry is its own.
func (s *GameSession) applyGameStateLocked(gs protocol.GameState, adoptIdentity bool) {
	s.State.Players = gs.Players
	s.State.CurrentPlayer = gs.CurrentPlayer
	s.State.TargetAnswer = gs.TargetAnswer
	s.State.TargetCards = gs.TargetCards
	s.State.PossibleAnswers = gs.PossibleAnswers
	s.State.FieldEquations = gs.FieldEquations
	s.State.RemainingDeck = gs.RemainingDeck
	s.State.CycleStartPlayer = gs.CycleStartPlayer
	s.State.CycleCompleted = gs.CycleCompleted
	s.State.CycleAnswerFound = gs.CycleAnswerFound
	s.State.Active = gs.Active
	if adoptIdentity && gs.You >= 0 {
		s.LocalPlayer = gs.You
		s.log = logrus.WithFields(logrus.Fields{
			"component": "session",
			"player":    s.LocalPlayer,
		})
	}
}
