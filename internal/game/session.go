// internal/game/session.go
package game

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jyseo/rummath/internal/models"
	"github.com/jyseo/rummath/internal/protocol"
)

// GameSession drives one game on one peer. On the host it owns the canonical
// State and is the only writer; on a guest it holds the mirrored copy and a
// local view of the player's own hand and expression. All public methods
// lock.
type GameSession struct {
	Mu    sync.Mutex
	State *State

	// Expressions mirrors every player's staging row by player id.
	Expressions map[int]*ExpressionArea

	// EquationPositions mirrors where each committed equation's box sits on
	// the shared field layout.
	EquationPositions map[uuid.UUID]protocol.EquationPosition

	LocalPlayer int
	LocalName   string
	IsHost      bool

	// Per-turn flags for the local player.
	hasSubmittedAnswer bool
	isAnswerSubmitted  bool
	isDrawingCard      bool

	seq protocol.SeqTracker

	// BroadcastFn sends a message to every other peer. If nil, no broadcast
	// is done.
	BroadcastFn func(msg protocol.Message)

	// SendToPlayerFn sends a message to a single named peer.
	SendToPlayerFn func(playerName string, msg protocol.Message)

	log *logrus.Entry
}

// NewGameSession builds a session around the given state. localPlayer is
// this peer's player id (the host is always player 0); localName is the
// display name used before the roster is dealt.
func NewGameSession(state *State, localPlayer int, localName string, isHost bool) *GameSession {
	return &GameSession{
		State:             state,
		Expressions:       make(map[int]*ExpressionArea),
		EquationPositions: make(map[uuid.UUID]protocol.EquationPosition),
		LocalPlayer:       localPlayer,
		LocalName:         localName,
		IsHost:            isHost,
		log: logrus.WithFields(logrus.Fields{
			"component": "session",
			"player":    localPlayer,
		}),
	}
}

// LocalPlayerName returns this peer's display name.
func (s *GameSession) LocalPlayerName() string {
	if p := s.State.PlayerByID(s.LocalPlayer); p != nil {
		return p.Name
	}
	if s.LocalName != "" {
		return s.LocalName
	}
	return strconv.Itoa(s.LocalPlayer)
}

func (s *GameSession) expressionFor(playerID int) *ExpressionArea {
	area, ok := s.Expressions[playerID]
	if !ok {
		area = &ExpressionArea{}
		s.Expressions[playerID] = area
	}
	return area
}

func (s *GameSession) fire(msg protocol.Message) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(msg)
	}
}

func (s *GameSession) fireTo(playerName string, msg protocol.Message) {
	if s.SendToPlayerFn != nil {
		msg.To = playerName
		s.SendToPlayerFn(playerName, msg)
	}
}

// newSeqMessage wraps a payload and stamps it with the next sequence number
// for its stream. Caller holds the lock.
func (s *GameSession) newSeqMessage(t protocol.Type, payload interface{}) (protocol.Message, bool) {
	msg, err := protocol.NewMessage(t, s.LocalPlayerName(), payload)
	if err != nil {
		s.log.WithError(err).WithField("type", t).Error("failed to build message")
		return protocol.Message{}, false
	}
	if stream, gated := msg.Stream(); gated {
		msg.Seq = s.seq.Next(stream)
	}
	return msg, true
}

// StartGame deals and announces a fresh game. Host only. Each guest receives
// a private game_state snapshot carrying its dealt hand, then everyone gets
// the common snapshot that resets per-turn flags.
func (s *GameSession) StartGame(playerNames []string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.IsHost {
		return ruleViolation("only the host can start the game")
	}
	if len(playerNames) > 0 {
		s.State.Settings.PlayerCount = len(playerNames)
	}
	s.State.Start(playerNames)
	s.hasSubmittedAnswer = false
	s.isAnswerSubmitted = false
	s.log.WithField("players", len(s.State.Players)).Info("game started")

	if msg, ok := s.newSeqMessage(protocol.TypeGameStart, protocol.GameStart{PlayerNames: playerNames}); ok {
		s.fire(msg)
	}
	for _, p := range s.State.Players {
		if p.ID == s.LocalPlayer {
			continue
		}
		if msg, ok := s.newSeqMessage(protocol.TypeGameState, s.snapshotLocked(p.ID)); ok {
			s.fireTo(p.Name, msg)
		}
	}
	if msg, ok := s.newSeqMessage(protocol.TypeGameStateCommon, s.snapshotLocked(-1)); ok {
		s.fire(msg)
	}
	return nil
}

// snapshotLocked builds a game_state payload. you is the receiving guest's
// player id, or -1 for the common broadcast.
func (s *GameSession) snapshotLocked(you int) protocol.GameState {
	return protocol.GameState{
		You:              you,
		Players:          s.State.Players,
		CurrentPlayer:    s.State.CurrentPlayer,
		TargetAnswer:     s.State.TargetAnswer,
		TargetCards:      s.State.TargetCards,
		PossibleAnswers:  s.State.PossibleAnswers,
		FieldEquations:   s.State.FieldEquations,
		RemainingDeck:    s.State.RemainingDeck,
		CycleStartPlayer: s.State.CycleStartPlayer,
		CycleCompleted:   s.State.CycleCompleted,
		CycleAnswerFound: s.State.CycleAnswerFound,
		Active:           s.State.Active,
	}
}

// MoveCard relocates one of the local player's cards between containers and
// mirrors the move to the other peers. Moving a field card into the
// expression stages a reuse; the card stays in its equation until an answer
// commits.
func (s *GameSession) MoveCard(source, targetType string, cardID uuid.UUID, position int) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.State.Active {
		return ErrGameInactive
	}
	if s.State.CurrentPlayer != s.LocalPlayer {
		return ErrNotYourTurn
	}
	p := s.State.PlayerByID(s.LocalPlayer)
	if p == nil {
		return ruleViolation("unknown local player %d", s.LocalPlayer)
	}
	area := s.expressionFor(s.LocalPlayer)

	var moved *models.Card
	switch {
	case source == protocol.ContainerHand && targetType == protocol.ContainerExpression:
		moved = p.TakeCard(cardID)
		if moved == nil {
			return ruleViolation("card %s is not in your hand", cardID)
		}
		area.Add(moved, position)

	case source == protocol.ContainerEquation && targetType == protocol.ContainerExpression:
		moved = models.FindCard(s.State.AvailableFieldCards(), cardID)
		if moved == nil {
			return ruleViolation("card %s is not on the field", cardID)
		}
		if area.Contains(cardID) {
			return ruleViolation("card %s is already staged", cardID)
		}
		area.Add(moved, position)

	case source == protocol.ContainerExpression && targetType == protocol.ContainerExpression:
		if !area.Move(cardID, position) {
			return ruleViolation("card %s is not in your expression", cardID)
		}
		moved = models.FindCard(area.Cards, cardID)

	case source == protocol.ContainerExpression && targetType == protocol.ContainerHand:
		moved = area.Remove(cardID)
		if moved == nil {
			return ruleViolation("card %s is not in your expression", cardID)
		}
		// A staged field card goes back to its equation, not to the hand.
		if models.FindCard(s.State.AvailableFieldCards(), cardID) == nil {
			p.GiveCard(moved)
		}

	default:
		return ruleViolation("unsupported move %s -> %s", source, targetType)
	}

	move := protocol.CardMove{
		PlayerName: p.Name,
		TargetType: targetType,
		Source:     source,
		CardID:     cardID,
		Card:       moved,
		Position:   position,
		HandType:   string(moved.HandKind()),
	}
	if msg, ok := s.newSeqMessage(protocol.TypeCardMove, move); ok {
		s.fire(msg)
	}
	s.broadcastExpressionLocked()
	return nil
}

// broadcastExpressionLocked mirrors the local expression to the other peers.
func (s *GameSession) broadcastExpressionLocked() {
	area := s.expressionFor(s.LocalPlayer)
	state := protocol.ExpressionState{
		PlayerName: s.LocalPlayerName(),
		Cards:      area.Cards,
	}
	if msg, ok := s.newSeqMessage(protocol.TypeExpressionState, state); ok {
		s.fire(msg)
	}
}

// BindJoker assigns the operator a staged joker plays as.
func (s *GameSession) BindJoker(cardID uuid.UUID, op models.Operator) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	area := s.expressionFor(s.LocalPlayer)
	c := models.FindCard(area.Cards, cardID)
	if c == nil || c.Type != models.CardJoker {
		return ruleViolation("card %s is not a staged joker", cardID)
	}
	c.BindOperator(op)
	s.broadcastExpressionLocked()
	return nil
}

// IsValidExpression reports whether the local expression is submittable.
func (s *GameSession) IsValidExpression() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.expressionFor(s.LocalPlayer).IsValidExpression()
}

func validExpression(cards []*models.Card) bool {
	if len(cards) == 0 {
		return false
	}
	hasOperator := false
	for _, c := range cards {
		if c.IsOperatorLike() {
			hasOperator = true
		}
	}
	if !hasOperator {
		return false
	}
	return !cards[0].IsOperatorLike() && !cards[len(cards)-1].IsOperatorLike()
}

// SubmitExpression commits the local expression as an answer. The value must
// be one of the possible answers; the matching target cards become the right
// side of a new field equation. Reused field cards dissolve every equation
// containing them first, with the leftovers returned to the submitter's
// hand.
func (s *GameSession) SubmitExpression() error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.State.Active {
		return ErrGameInactive
	}
	if s.State.CurrentPlayer != s.LocalPlayer {
		return ErrNotYourTurn
	}
	p := s.State.PlayerByID(s.LocalPlayer)
	area := s.expressionFor(s.LocalPlayer)
	if !validExpression(area.Cards) {
		return ruleViolation("expression is not well formed")
	}
	value, err := Evaluate(area.Cards)
	if err != nil {
		return ruleViolation("expression has no result")
	}
	if !containsInt(s.State.PossibleAnswers, value) {
		return ruleViolation("%d does not match any target answer", value)
	}
	matched := s.findMatchingTargetCards(value)
	if matched == nil {
		return ErrNoTargetCards
	}

	exprCards := area.Clear()

	// Cascading break: every equation holding a reused card dissolves and
	// its remaining cards join the submitter's hand.
	for _, eq := range s.State.EquationsContaining(exprCards) {
		s.State.RemoveEquation(eq.ID)
		for _, c := range eq.AllCards() {
			if models.FindCard(exprCards, c.ID) == nil {
				p.GiveCard(c)
			}
		}
	}
	for _, c := range matched {
		s.State.RemoveTargetCard(c.ID)
	}
	eq := models.NewEquation(exprCards, matched)
	s.State.FieldEquations = append(s.State.FieldEquations, eq)
	s.State.CycleAnswerFound = true
	s.hasSubmittedAnswer = true
	s.isAnswerSubmitted = true
	s.log.WithFields(logrus.Fields{
		"value":    value,
		"equation": eq.String(),
	}).Info("answer committed")

	s.broadcastExpressionLocked()
	if msg, ok := s.newSeqMessage(protocol.TypeFieldEquations, protocol.FieldEquationsUpdate{
		FieldEquations: s.State.FieldEquations,
	}); ok {
		s.fire(msg)
	}

	if v := p.CheckVictory(); v.HasWon() {
		s.State.Active = false
		s.log.WithField("winner", p.Name).Info("game over")
		if msg, ok := s.newSeqMessage(protocol.TypeGameStateCommon, s.snapshotLocked(-1)); ok {
			s.fire(msg)
		}
		return nil
	}

	s.State.GenerateNewTarget()
	s.broadcastTargetLocked()
	// Hands changed if the break cascaded; the common snapshot keeps every
	// mirror whole without per-card deltas.
	if msg, ok := s.newSeqMessage(protocol.TypeGameStateCommon, s.snapshotLocked(-1)); ok {
		s.fire(msg)
	}
	return nil
}

// MoveEquation repositions a committed equation's box on the shared layout.
func (s *GameSession) MoveEquation(equationID uuid.UUID, x, y float64) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.State.FieldEquationByID(equationID) == nil {
		return ruleViolation("equation %s is not on the field", equationID)
	}
	pos := protocol.EquationPosition{EquationID: equationID, X: x, Y: y}
	s.EquationPositions[equationID] = pos
	if msg, ok := s.newSeqMessage(protocol.TypeEquationPosition, pos); ok {
		s.fire(msg)
	}
	return nil
}

func (s *GameSession) broadcastTargetLocked() {
	if msg, ok := s.newSeqMessage(protocol.TypeNewTarget, protocol.NewTargetUpdate{
		TargetCards:     s.State.TargetCards,
		PossibleAnswers: s.State.PossibleAnswers,
		TargetAnswer:    s.State.TargetAnswer,
		RemainingDeck:   s.State.RemainingDeck,
	}); ok {
		s.fire(msg)
	}
}

// findMatchingTargetCards picks the target cards spelling the answer's
// digits: a single-digit answer takes one exact card, otherwise digits match
// greedily left to right without reuse. Returns nil when the pool cannot
// spell the answer.
func (s *GameSession) findMatchingTargetCards(value int) []*models.Card {
	digits := digitsOf(value)
	pool := make([]*models.Card, len(s.State.TargetCards))
	copy(pool, s.State.TargetCards)

	var matched []*models.Card
	for _, d := range digits {
		found := false
		for i, c := range pool {
			if c != nil && c.Number == d {
				matched = append(matched, c)
				pool[i] = nil
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	return matched
}

func digitsOf(value int) []int {
	if value == 0 {
		return []int{0}
	}
	// Collected least-significant first, then reversed into spelling order.
	var digits []int
	for v := value; v > 0; v /= 10 {
		digits = append(digits, v%10)
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return digits
}

// DrawCard adds a card of the requested kind to the local hand and ends the
// turn. The host draws against the canonical deck directly; a guest asks the
// host and waits for the response, guarded against concurrent requests, and
// ends its turn when the response lands. A player who already submitted an
// answer this turn may not draw.
func (s *GameSession) DrawCard(kind models.CardType) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.State.Active {
		return ErrGameInactive
	}
	if s.State.CurrentPlayer != s.LocalPlayer {
		return ErrNotYourTurn
	}
	if s.hasSubmittedAnswer {
		return ruleViolation("cannot draw after submitting an answer")
	}
	if s.IsHost {
		card, err := s.State.DrawFromDeck(kind)
		if err != nil {
			return err
		}
		p := s.State.PlayerByID(s.LocalPlayer)
		p.GiveCard(card)
		s.broadcastDrawLocked(p.Name, card)
		s.clearExpressionLocked()
		s.advanceTurnLocked()
		return nil
	}

	if s.isDrawingCard {
		return ErrDrawInFlight
	}
	s.isDrawingCard = true
	req := protocol.CardDrawRequest{
		PlayerName: s.LocalPlayerName(),
		CardType:   kind,
	}
	msg, ok := s.newSeqMessage(protocol.TypeCardDrawRequest, req)
	if !ok {
		s.isDrawingCard = false
		return ruleViolation("could not build draw request")
	}
	s.fireTo(s.hostNameLocked(), msg)
	return nil
}

func (s *GameSession) hostNameLocked() string {
	if p := s.State.PlayerByID(0); p != nil {
		return p.Name
	}
	return "0"
}

func (s *GameSession) broadcastDrawLocked(playerName string, card *models.Card) {
	draw := protocol.CardDraw{
		PlayerName:    playerName,
		DrawnCard:     card,
		HandType:      string(card.HandKind()),
		RemainingDeck: s.State.RemainingDeck,
	}
	if msg, ok := s.newSeqMessage(protocol.TypeCardDraw, draw); ok {
		s.fire(msg)
	}
}

// EndTurn finishes the local player's turn. The host advances the canonical
// turn and cycle machinery and broadcasts the result; a guest forwards its
// turn end to the host, which validates and re-announces it canonically.
// Cards still staged in the expression return to the hand first.
func (s *GameSession) EndTurn() error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.State.Active {
		return ErrGameInactive
	}
	if s.State.CurrentPlayer != s.LocalPlayer {
		return ErrNotYourTurn
	}
	if !s.IsHost {
		return s.guestEndTurnLocked()
	}
	s.clearExpressionLocked()
	s.advanceTurnLocked()
	return nil
}

// guestEndTurnLocked forwards the local turn end to the host and applies the
// optimistic echo. The host's canonical turn_change overwrites it if it
// disagrees.
func (s *GameSession) guestEndTurnLocked() error {
	change := protocol.TurnChange{
		CurrentPlayer:    (s.State.CurrentPlayer + 1) % len(s.State.Players),
		CycleCompleted:   s.State.CycleCompleted,
		CycleAnswerFound: s.State.CycleAnswerFound,
	}
	msg, err := protocol.NewMessage(protocol.TypeTurnChange, s.LocalPlayerName(), change)
	if err != nil {
		return err
	}
	s.clearExpressionLocked()
	s.fireTo(s.hostNameLocked(), msg)
	s.State.CurrentPlayer = change.CurrentPlayer
	s.hasSubmittedAnswer = false
	s.isAnswerSubmitted = false
	return nil
}

// clearExpressionLocked empties the local staging row when a turn ends:
// staged hand cards return to the hand, staged field cards stay in their
// equations, and the emptied mirror goes out to the other peers.
func (s *GameSession) clearExpressionLocked() {
	area := s.expressionFor(s.LocalPlayer)
	if len(area.Cards) == 0 {
		return
	}
	p := s.State.PlayerByID(s.LocalPlayer)
	for _, c := range area.Clear() {
		if p != nil && models.FindCard(s.State.AvailableFieldCards(), c.ID) == nil {
			p.GiveCard(c)
		}
	}
	s.broadcastExpressionLocked()
}

// advanceTurnLocked runs the host-side turn and cycle progression and
// broadcasts the canonical messages.
func (s *GameSession) advanceTurnLocked() {
	completed := s.State.AdvanceTurn()
	s.hasSubmittedAnswer = false
	s.isAnswerSubmitted = false

	if completed {
		escalated := s.State.StartNewCycle()
		if msg, ok := s.newSeqMessage(protocol.TypeCycleStart, protocol.CycleStart{
			CycleStartPlayer: s.State.CycleStartPlayer,
			Escalated:        escalated,
		}); ok {
			s.fire(msg)
		}
		if escalated {
			s.log.WithField("targetCards", len(s.State.TargetCards)).Info("cycle ended without an answer, target escalated")
			s.broadcastTargetLocked()
		}
	}
	if msg, ok := s.newSeqMessage(protocol.TypeTurnChange, protocol.TurnChange{
		CurrentPlayer:    s.State.CurrentPlayer,
		CycleCompleted:   s.State.CycleCompleted,
		CycleAnswerFound: s.State.CycleAnswerFound,
	}); ok {
		s.fire(msg)
	}
}

// PassTurn ends the local player's turn without an answer.
func (s *GameSession) PassTurn() error {
	return s.EndTurn()
}

// SetReady toggles the local lobby ready flag and announces it.
func (s *GameSession) SetReady(ready bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if p := s.State.PlayerByID(s.LocalPlayer); p != nil {
		p.IsReady = ready
	}
	if msg, ok := s.newSeqMessage(protocol.TypePlayerReady, protocol.PlayerReady{
		PlayerName: s.LocalPlayerName(),
		Ready:      ready,
	}); ok {
		s.fire(msg)
	}
}

// Winner returns the player who emptied a hand, or nil while the game is
// still going.
func (s *GameSession) Winner() *models.Player {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.State.Active {
		return nil
	}
	for _, p := range s.State.Players {
		if p.CheckVictory().HasWon() {
			return p
		}
	}
	return nil
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
