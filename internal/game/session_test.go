// internal/game/session_test.go
package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jyseo/rummath/internal/models"
	"github.com/jyseo/rummath/internal/protocol"
)

// mockBroadcaster collects messages instead of sending them over the wire.
type mockBroadcaster struct {
	mu         sync.Mutex
	broadcasts []protocol.Message
	perPlayer  map[string][]protocol.Message
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{perPlayer: make(map[string][]protocol.Message)}
}

func (mb *mockBroadcaster) broadcastFn(msg protocol.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.broadcasts = append(mb.broadcasts, msg)
}

func (mb *mockBroadcaster) sendToPlayerFn(playerName string, msg protocol.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.perPlayer[playerName] = append(mb.perPlayer[playerName], msg)
}

func (mb *mockBroadcaster) lastOfType(t protocol.Type) *protocol.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i := len(mb.broadcasts) - 1; i >= 0; i-- {
		if mb.broadcasts[i].Type == t {
			return &mb.broadcasts[i]
		}
	}
	return nil
}

func (mb *mockBroadcaster) lastToPlayer(name string) *protocol.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	msgs := mb.perPlayer[name]
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}

var testNames = []string{"Alice", "Bob", "Cara", "Dan"}

// setupTestSession builds a deterministic host session for Alice with
// crafted hands instead of a random deal.
func setupTestSession(t *testing.T) (*GameSession, *mockBroadcaster) {
	t.Helper()
	s := testState(1)
	for i, name := range testNames {
		s.Players = append(s.Players, &models.Player{ID: i, Name: name})
	}
	s.Active = true
	s.RemainingDeck = []*models.Card{num(1), num(2), num(8), num(9), op(models.OpAdd)}

	sess := NewGameSession(s, 0, "Alice", true)
	mb := newMockBroadcaster()
	sess.BroadcastFn = mb.broadcastFn
	sess.SendToPlayerFn = mb.sendToPlayerFn
	return sess, mb
}

func giveCards(p *models.Player, cards ...*models.Card) {
	for _, c := range cards {
		p.GiveCard(c)
	}
}

func TestMoveCardHandToExpression(t *testing.T) {
	sess, mb := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	six := num(6)
	giveCards(alice, six, num(7))

	require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, six.ID, -1))
	assert.Len(t, alice.NumberCards, 1)
	assert.True(t, sess.Expressions[0].Contains(six.ID))

	// The move and the expression mirror both went out.
	assert.NotNil(t, mb.lastOfType(protocol.TypeCardMove))
	es := mb.lastOfType(protocol.TypeExpressionState)
	require.NotNil(t, es)
	assert.Equal(t, uint64(1), es.Seq)
}

func TestMoveCardNotInHand(t *testing.T) {
	sess, _ := setupTestSession(t)
	err := sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, num(5).ID, -1)
	assert.True(t, IsRuleViolation(err))
}

func TestSubmitExpressionCommitsEquation(t *testing.T) {
	sess, mb := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	six, seven, one := num(6), num(7), num(1)
	times, plus := op(models.OpMultiply), op(models.OpAdd)
	giveCards(alice, six, seven, one, times, plus, num(5))

	four, three := num(4), num(3)
	sess.State.TargetCards = []*models.Card{four, three}
	sess.State.GenerateTargetAnswers()
	require.Equal(t, []int{34, 43}, sess.State.PossibleAnswers)

	// 6 × 7 + 1 = 43
	for _, c := range []*models.Card{six, times, seven, plus, one} {
		require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, c.ID, -1))
	}
	require.NoError(t, sess.SubmitExpression())

	require.Len(t, sess.State.FieldEquations, 1)
	eq := sess.State.FieldEquations[0]
	assert.Len(t, eq.LeftSide(), 5)
	// Right side spells 43 from the consumed target cards.
	require.Len(t, eq.RightSide(), 2)
	assert.Equal(t, four.ID, eq.RightSide()[0].ID)
	assert.Equal(t, three.ID, eq.RightSide()[1].ID)
	assert.Equal(t, 43, eq.RightValue())
	assert.True(t, EquationValid(eq))

	assert.True(t, sess.State.CycleAnswerFound)
	assert.Empty(t, sess.Expressions[0].Cards)
	// A fresh target was generated from the deck.
	assert.Len(t, sess.State.TargetCards, 2)
	assert.NotNil(t, mb.lastOfType(protocol.TypeFieldEquations))
	assert.NotNil(t, mb.lastOfType(protocol.TypeNewTarget))
}

func TestSubmitExpressionWrongValue(t *testing.T) {
	sess, _ := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	two, five, plus := num(2), num(5), op(models.OpAdd)
	giveCards(alice, two, five, plus)

	sess.State.TargetCards = []*models.Card{num(4), num(3)}
	sess.State.GenerateTargetAnswers()

	for _, c := range []*models.Card{two, plus, five} {
		require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, c.ID, -1))
	}
	err := sess.SubmitExpression()
	assert.True(t, IsRuleViolation(err))
	// Nothing committed, expression still staged.
	assert.Empty(t, sess.State.FieldEquations)
	assert.Len(t, sess.Expressions[0].Cards, 3)
}

func TestSubmitOutOfTurn(t *testing.T) {
	sess, _ := setupTestSession(t)
	sess.State.CurrentPlayer = 2
	assert.ErrorIs(t, sess.SubmitExpression(), ErrNotYourTurn)
}

func TestCascadingBreak(t *testing.T) {
	sess, _ := setupTestSession(t)
	alice := sess.State.PlayerByID(0)

	// Field holds 2 + 2 = 4.
	reused, otherTwo, fieldPlus, fieldFour := num(2), num(2), op(models.OpAdd), num(4)
	existing := models.NewEquation(
		[]*models.Card{reused, fieldPlus, otherTwo},
		[]*models.Card{fieldFour},
	)
	sess.State.FieldEquations = []*models.Equation{existing}

	five, times := num(5), op(models.OpMultiply)
	giveCards(alice, five, times)

	one, zero := num(1), num(0)
	sess.State.TargetCards = []*models.Card{one, zero}
	sess.State.GenerateTargetAnswers()
	require.Contains(t, sess.State.PossibleAnswers, 10)

	// Reuse the field 2 in 2 × 5 = 10.
	require.NoError(t, sess.MoveCard(protocol.ContainerEquation, protocol.ContainerExpression, reused.ID, -1))
	require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, times.ID, -1))
	require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, five.ID, -1))
	require.NoError(t, sess.SubmitExpression())

	// The old equation dissolved; only the new one remains.
	require.Len(t, sess.State.FieldEquations, 1)
	newEq := sess.State.FieldEquations[0]
	assert.NotEqual(t, existing.ID, newEq.ID)
	assert.True(t, newEq.ContainsCard(reused.ID))

	// The dissolved equation's leftover cards went to the submitter.
	assert.NotNil(t, models.FindCard(alice.NumberCards, otherTwo.ID))
	assert.NotNil(t, models.FindCard(alice.NumberCards, fieldFour.ID))
	assert.NotNil(t, models.FindCard(alice.OperatorCards, fieldPlus.ID))
}

func TestVictoryShortCircuits(t *testing.T) {
	sess, mb := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	six, seven, times := num(6), num(7), op(models.OpMultiply)
	giveCards(alice, six, seven, times)

	sess.State.TargetCards = []*models.Card{num(4), num(2)}
	sess.State.GenerateTargetAnswers()

	// 6 × 7 = 42 empties the whole hand.
	for _, c := range []*models.Card{six, times, seven} {
		require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, c.ID, -1))
	}
	require.NoError(t, sess.SubmitExpression())

	assert.False(t, sess.State.Active)
	winner := sess.Winner()
	require.NotNil(t, winner)
	assert.Equal(t, "Alice", winner.Name)
	// No new target after the game ended.
	assert.Nil(t, mb.lastOfType(protocol.TypeNewTarget))
}

func TestHostDrawCard(t *testing.T) {
	sess, mb := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	before := len(sess.State.RemainingDeck)

	require.NoError(t, sess.DrawCard(models.CardNumber))
	assert.Len(t, alice.NumberCards, 1)
	assert.Len(t, sess.State.RemainingDeck, before-1)

	draw := mb.lastOfType(protocol.TypeCardDraw)
	require.NotNil(t, draw)
	var payload protocol.CardDraw
	require.NoError(t, draw.Decode(&payload))
	assert.Equal(t, "Alice", payload.PlayerName)
}

func TestHostHandlesDrawRequest(t *testing.T) {
	sess, mb := setupTestSession(t)
	bob := sess.State.PlayerByID(1)

	req, err := protocol.NewMessage(protocol.TypeCardDrawRequest, "Bob", protocol.CardDrawRequest{
		PlayerName: "Bob",
		CardType:   models.CardNumber,
	})
	require.NoError(t, err)
	require.NoError(t, sess.HandleMessage(req))

	assert.Len(t, bob.NumberCards, 1)
	resp := mb.lastToPlayer("Bob")
	require.NotNil(t, resp)
	assert.Equal(t, protocol.TypeCardDrawResponse, resp.Type)
	assert.NotNil(t, mb.lastOfType(protocol.TypeCardDraw))
}

func TestHostDrawRequestExhausted(t *testing.T) {
	sess, mb := setupTestSession(t)
	sess.State.RemainingDeck = []*models.Card{op(models.OpAdd)}

	req, err := protocol.NewMessage(protocol.TypeCardDrawRequest, "Bob", protocol.CardDrawRequest{
		PlayerName: "Bob",
		CardType:   models.CardNumber,
	})
	require.NoError(t, err)
	require.NoError(t, sess.HandleMessage(req))

	resp := mb.lastToPlayer("Bob")
	require.NotNil(t, resp)
	var payload protocol.CardDrawResponse
	require.NoError(t, resp.Decode(&payload))
	assert.NotEmpty(t, payload.Error)
	assert.Nil(t, payload.Card)
}

func TestDrawEndsTurn(t *testing.T) {
	sess, mb := setupTestSession(t)

	require.NoError(t, sess.DrawCard(models.CardNumber))
	assert.Equal(t, 1, sess.State.CurrentPlayer)
	assert.NotNil(t, mb.lastOfType(protocol.TypeTurnChange))
}

func TestDrawAfterSubmissionRejected(t *testing.T) {
	sess, _ := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	six, seven, one := num(6), num(7), num(1)
	times, plus := op(models.OpMultiply), op(models.OpAdd)
	giveCards(alice, six, seven, one, times, plus, num(5))

	sess.State.TargetCards = []*models.Card{num(4), num(3)}
	sess.State.GenerateTargetAnswers()

	for _, c := range []*models.Card{six, times, seven, plus, one} {
		require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, c.ID, -1))
	}
	require.NoError(t, sess.SubmitExpression())

	// After an answer only an improved submission or ending the turn remain.
	err := sess.DrawCard(models.CardNumber)
	assert.True(t, IsRuleViolation(err))
	assert.Equal(t, 0, sess.State.CurrentPlayer)
}

func TestDrawOutOfTurn(t *testing.T) {
	sess, _ := setupTestSession(t)
	sess.State.CurrentPlayer = 2
	assert.ErrorIs(t, sess.DrawCard(models.CardNumber), ErrNotYourTurn)
}

func TestMoveCardOutOfTurn(t *testing.T) {
	sess, _ := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	six := num(6)
	giveCards(alice, six)

	sess.State.CurrentPlayer = 2
	err := sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, six.ID, -1)
	assert.ErrorIs(t, err, ErrNotYourTurn)
	assert.NotNil(t, models.FindCard(alice.NumberCards, six.ID))
}

func TestEndTurnClearsStagedExpression(t *testing.T) {
	sess, mb := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	six := num(6)
	giveCards(alice, six, num(7))
	require.NoError(t, sess.MoveCard(protocol.ContainerHand, protocol.ContainerExpression, six.ID, -1))

	require.NoError(t, sess.EndTurn())
	assert.Empty(t, sess.Expressions[0].Cards)
	assert.NotNil(t, models.FindCard(alice.NumberCards, six.ID))

	es := mb.lastOfType(protocol.TypeExpressionState)
	require.NotNil(t, es)
	var payload protocol.ExpressionState
	require.NoError(t, es.Decode(&payload))
	assert.Empty(t, payload.Cards)
}

func TestEndTurnKeepsStagedFieldCardInEquation(t *testing.T) {
	sess, _ := setupTestSession(t)
	alice := sess.State.PlayerByID(0)
	fieldTwo := num(2)
	eq := models.NewEquation(
		[]*models.Card{fieldTwo, op(models.OpAdd), num(2)},
		[]*models.Card{num(4)},
	)
	sess.State.FieldEquations = []*models.Equation{eq}

	require.NoError(t, sess.MoveCard(protocol.ContainerEquation, protocol.ContainerExpression, fieldTwo.ID, -1))
	require.NoError(t, sess.EndTurn())

	assert.Empty(t, sess.Expressions[0].Cards)
	assert.True(t, eq.ContainsCard(fieldTwo.ID))
	assert.Nil(t, models.FindCard(alice.NumberCards, fieldTwo.ID))
}

// setupGuestSession mirrors the same roster from Bob's side.
func setupGuestSession(t *testing.T) (*GameSession, *mockBroadcaster) {
	t.Helper()
	s := testState(2)
	for i, name := range testNames {
		s.Players = append(s.Players, &models.Player{ID: i, Name: name})
	}
	s.Active = true
	sess := NewGameSession(s, 1, "Bob", false)
	mb := newMockBroadcaster()
	sess.BroadcastFn = mb.broadcastFn
	sess.SendToPlayerFn = mb.sendToPlayerFn
	return sess, mb
}

func seqMessage(t *testing.T, typ protocol.Type, from string, seq uint64, payload interface{}) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(typ, from, payload)
	require.NoError(t, err)
	msg.Seq = seq
	return msg
}

func TestTurnChangeIdempotent(t *testing.T) {
	sess, _ := setupGuestSession(t)

	msg := seqMessage(t, protocol.TypeTurnChange, "Alice", 1, protocol.TurnChange{CurrentPlayer: 1})
	require.NoError(t, sess.HandleMessage(msg))
	assert.Equal(t, 1, sess.State.CurrentPlayer)

	// Redelivery of the same sequence number changes nothing, even after
	// newer state arrived in between.
	newer := seqMessage(t, protocol.TypeTurnChange, "Alice", 2, protocol.TurnChange{CurrentPlayer: 2})
	require.NoError(t, sess.HandleMessage(newer))
	require.NoError(t, sess.HandleMessage(msg))
	assert.Equal(t, 2, sess.State.CurrentPlayer)
}

func TestCardDrawSkipsDrawer(t *testing.T) {
	sess, _ := setupGuestSession(t)
	deckSnapshot := []*models.Card{num(9)}

	// Bob's own draw broadcast must not re-apply.
	own := seqMessage(t, protocol.TypeCardDraw, "Alice", 1, protocol.CardDraw{
		PlayerName:    "Bob",
		DrawnCard:     num(5),
		RemainingDeck: deckSnapshot,
	})
	require.NoError(t, sess.HandleMessage(own))
	assert.Empty(t, sess.State.PlayerByID(1).NumberCards)

	// Another player's draw applies: card to their hand, deck replaced.
	other := seqMessage(t, protocol.TypeCardDraw, "Alice", 2, protocol.CardDraw{
		PlayerName:    "Cara",
		DrawnCard:     num(5),
		RemainingDeck: deckSnapshot,
	})
	require.NoError(t, sess.HandleMessage(other))
	assert.Len(t, sess.State.PlayerByID(2).NumberCards, 1)
	assert.Equal(t, deckSnapshot, sess.State.RemainingDeck)
}

func TestGuestDrawGuard(t *testing.T) {
	sess, mb := setupGuestSession(t)
	sess.State.CurrentPlayer = 1

	require.NoError(t, sess.DrawCard(models.CardNumber))
	assert.ErrorIs(t, sess.DrawCard(models.CardNumber), ErrDrawInFlight)
	require.NotNil(t, mb.lastToPlayer("Alice"))

	resp, err := protocol.NewMessage(protocol.TypeCardDrawResponse, "Alice", protocol.CardDrawResponse{
		PlayerName:    "Bob",
		Card:          num(3),
		RemainingDeck: []*models.Card{num(8)},
	})
	require.NoError(t, err)
	require.NoError(t, sess.HandleMessage(resp))

	assert.Len(t, sess.State.PlayerByID(1).NumberCards, 1)
	// The completed draw ended Bob's turn and told the host.
	assert.Equal(t, 2, sess.State.CurrentPlayer)
	turnEnd := mb.lastToPlayer("Alice")
	require.NotNil(t, turnEnd)
	assert.Equal(t, protocol.TypeTurnChange, turnEnd.Type)
	// Guard cleared, but the turn has moved on.
	assert.ErrorIs(t, sess.DrawCard(models.CardNumber), ErrNotYourTurn)
}

func TestExpressionMirror(t *testing.T) {
	sess, _ := setupGuestSession(t)
	cards := []*models.Card{num(6), op(models.OpMultiply), num(7)}

	msg := seqMessage(t, protocol.TypeExpressionState, "Cara", 1, protocol.ExpressionState{
		PlayerName: "Cara",
		Cards:      cards,
	})
	require.NoError(t, sess.HandleMessage(msg))
	require.NotNil(t, sess.Expressions[2])
	assert.Len(t, sess.Expressions[2].Cards, 3)
}

func TestOutOfTurnFieldUpdateDoesNotPoisonStream(t *testing.T) {
	sess, _ := setupGuestSession(t)
	eq := models.NewEquation(
		[]*models.Card{num(2), op(models.OpAdd), num(2)},
		[]*models.Card{num(4)},
	)

	// Cara does not hold the turn; her update is rejected without advancing
	// the field stream's sequence.
	rogue := seqMessage(t, protocol.TypeFieldEquations, "Cara", 50, protocol.FieldEquationsUpdate{
		FieldEquations: []*models.Equation{eq},
	})
	require.NoError(t, sess.HandleMessage(rogue))
	assert.Empty(t, sess.State.FieldEquations)

	legit := seqMessage(t, protocol.TypeFieldEquations, "Alice", 1, protocol.FieldEquationsUpdate{
		FieldEquations: []*models.Equation{eq},
	})
	require.NoError(t, sess.HandleMessage(legit))
	assert.Len(t, sess.State.FieldEquations, 1)
}

func TestGameStateSnapshotAdoptsIdentity(t *testing.T) {
	s := testState(3)
	sess := NewGameSession(s, -1, "Bob", false)
	mb := newMockBroadcaster()
	sess.BroadcastFn = mb.broadcastFn

	players := make([]*models.Player, len(testNames))
	for i, name := range testNames {
		players[i] = &models.Player{ID: i, Name: name}
	}
	snapshot := protocol.GameState{
		You:           1,
		Players:       players,
		CurrentPlayer: 0,
		TargetCards:   []*models.Card{num(3), num(7)},
		Active:        true,
	}
	msg, err := protocol.NewMessage(protocol.TypeGameState, "Alice", snapshot)
	require.NoError(t, err)
	require.NoError(t, sess.HandleMessage(msg))

	assert.Equal(t, 1, sess.LocalPlayer)
	assert.Equal(t, "Bob", sess.LocalPlayerName())
	assert.True(t, sess.State.Active)
	assert.Len(t, sess.State.Players, 4)
}

func TestHostAdvancesGuestTurnEnd(t *testing.T) {
	sess, mb := setupTestSession(t)
	sess.State.CurrentPlayer = 1
	sess.State.CycleStartPlayer = 0

	msg, err := protocol.NewMessage(protocol.TypeTurnChange, "Bob", protocol.TurnChange{CurrentPlayer: 2})
	require.NoError(t, err)
	require.NoError(t, sess.HandleMessage(msg))

	assert.Equal(t, 2, sess.State.CurrentPlayer)
	tc := mb.lastOfType(protocol.TypeTurnChange)
	require.NotNil(t, tc)
	assert.Equal(t, uint64(1), tc.Seq)
}

func TestHostRejectsTurnEndOutOfTurn(t *testing.T) {
	sess, mb := setupTestSession(t)
	sess.State.CurrentPlayer = 2

	msg, err := protocol.NewMessage(protocol.TypeTurnChange, "Bob", protocol.TurnChange{CurrentPlayer: 3})
	require.NoError(t, err)
	require.NoError(t, sess.HandleMessage(msg))

	// Turn unchanged, canonical state re-announced for the rollback.
	assert.Equal(t, 2, sess.State.CurrentPlayer)
	tc := mb.lastOfType(protocol.TypeTurnChange)
	require.NotNil(t, tc)
	var payload protocol.TurnChange
	require.NoError(t, tc.Decode(&payload))
	assert.Equal(t, 2, payload.CurrentPlayer)
}

func TestHostEndTurnCycleEscalation(t *testing.T) {
	sess, mb := setupTestSession(t)
	sess.State.CurrentPlayer = 3
	sess.State.CycleStartPlayer = 0
	sess.State.TargetCards = []*models.Card{num(3), num(7)}
	sess.State.GenerateTargetAnswers()

	// Hand the turn from Dan back to Alice with no answer found: the cycle
	// completes and the target escalates.
	sess.State.CurrentPlayer = 3
	sess.LocalPlayer = 3
	require.NoError(t, sess.EndTurn())

	assert.Equal(t, 0, sess.State.CurrentPlayer)
	assert.Len(t, sess.State.TargetCards, 3)
	assert.NotNil(t, mb.lastOfType(protocol.TypeCycleStart))
	assert.NotNil(t, mb.lastOfType(protocol.TypeNewTarget))
	assert.NotNil(t, mb.lastOfType(protocol.TypeTurnChange))
}
