// internal/protocol/protocol_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(TypeTurnChange, "Alice", TurnChange{CurrentPlayer: 2, CycleCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.From)
	assert.NotZero(t, msg.Timestamp)

	var tc TurnChange
	require.NoError(t, msg.Decode(&tc))
	assert.Equal(t, 2, tc.CurrentPlayer)
	assert.True(t, tc.CycleCompleted)
}

func TestStreamClassification(t *testing.T) {
	cases := map[Type]string{
		TypeTurnChange:     StreamTurn,
		TypeFieldEquations: StreamField,
		TypeNewTarget:      StreamTarget,
		TypeCycleStart:     StreamCycle,
		TypeCardDraw:       StreamDeck,
	}
	for typ, want := range cases {
		stream, gated := Message{Type: typ}.Stream()
		assert.True(t, gated, "type %s", typ)
		assert.Equal(t, want, stream)
	}

	stream, gated := Message{Type: TypeExpressionState, From: "Bob"}.Stream()
	assert.True(t, gated)
	assert.Equal(t, "expression/Bob", stream)

	for _, typ := range []Type{TypeCardDrawRequest, TypeCardDrawResponse, TypeGameState, TypeGameStateCommon, TypePlayerReady, TypeGameStart} {
		_, gated := Message{Type: typ}.Stream()
		assert.False(t, gated, "type %s", typ)
	}
}

func TestSeqTrackerDropsStale(t *testing.T) {
	var tr SeqTracker

	assert.True(t, tr.ShouldApply(StreamTurn, 1))
	assert.False(t, tr.ShouldApply(StreamTurn, 1))
	assert.True(t, tr.ShouldApply(StreamTurn, 2))
	assert.False(t, tr.ShouldApply(StreamTurn, 1))

	// Streams are independent.
	assert.True(t, tr.ShouldApply(StreamField, 1))

	// The empty stream is never gated.
	assert.True(t, tr.ShouldApply("", 0))
	assert.True(t, tr.ShouldApply("", 0))
}

func TestSeqTrackerNextContinuesFromApplied(t *testing.T) {
	var tr SeqTracker
	require.True(t, tr.ShouldApply(StreamTurn, 5))
	assert.Equal(t, uint64(6), tr.Next(StreamTurn))
	assert.Equal(t, uint64(7), tr.Next(StreamTurn))
	assert.Equal(t, uint64(1), tr.Next(StreamField))
}
