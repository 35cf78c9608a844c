// internal/game/deck.go
package game

import (
	"math/rand"
	"sort"

	"github.com/jyseo/rummath/internal/models"
)

// CreateDeck builds the unshuffled card pool for the settings: NumberSets
// copies of digits 0-9, OperatorSets copies of the four operators, and
// JokerCount wild cards.
func CreateDeck(s Settings) []*models.Card {
	deck := make([]*models.Card, 0, s.DeckSize())
	for set := 0; set < s.NumberSets; set++ {
		for digit := 0; digit <= 9; digit++ {
			deck = append(deck, models.NewNumberCard(digit))
		}
	}
	for set := 0; set < s.OperatorSets; set++ {
		for _, op := range models.Operators {
			deck = append(deck, models.NewOperatorCard(op))
		}
	}
	for i := 0; i < s.JokerCount; i++ {
		deck = append(deck, models.NewJokerCard())
	}
	return deck
}

// ShuffleDeck permutes the deck in place (Fisher-Yates) and returns it.
func ShuffleDeck(deck []*models.Card, rng *rand.Rand) []*models.Card {
	for i := len(deck) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
	return deck
}

// filterCards returns the cards matching the hand kind: number cards, or
// operators plus jokers.
func filterCards(cards []*models.Card, kind models.CardType) []*models.Card {
	var out []*models.Card
	for _, c := range cards {
		if c.HandKind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// drawRandom removes and returns a random card of the given kind from the
// pool, or nil when the pool holds none.
func drawRandom(pool *[]*models.Card, kind models.CardType, rng *rand.Rand) *models.Card {
	candidates := filterCards(*pool, kind)
	if len(candidates) == 0 {
		return nil
	}
	picked := candidates[rng.Intn(len(candidates))]
	*pool, _ = models.RemoveCard(*pool, picked.ID)
	return picked
}

// DealCards partitions the shuffled deck into per-player hands and the
// remaining deck. Dealing draws without replacement from type-partitioned
// pools; a pool running dry short-deals rather than failing.
func (s *State) DealCards(deck []*models.Card, playerNames []string) {
	s.Players = s.Players[:0]
	pool := make([]*models.Card, len(deck))
	copy(pool, deck)

	for i := 0; i < s.Settings.PlayerCount; i++ {
		name := ""
		if i < len(playerNames) {
			name = playerNames[i]
		}
		if name == "" {
			name = defaultPlayerName(i)
		}
		p := &models.Player{ID: i, Name: name}
		for j := 0; j < s.Settings.InitialNumberCards; j++ {
			card := drawRandom(&pool, models.CardNumber, s.rng)
			if card == nil {
				break
			}
			p.NumberCards = append(p.NumberCards, card)
		}
		for j := 0; j < s.Settings.InitialOperatorCards; j++ {
			card := drawRandom(&pool, models.CardOperator, s.rng)
			if card == nil {
				break
			}
			p.OperatorCards = append(p.OperatorCards, card)
		}
		s.Players = append(s.Players, p)
	}
	s.RemainingDeck = pool
}

// DealHand draws a fresh hand from the remaining deck for a late-established
// guest, mutating the canonical deck. Used by the host when distributing
// per-guest game_state snapshots.
func (s *State) DealHand() (numbers, operators []*models.Card) {
	for j := 0; j < s.Settings.InitialNumberCards; j++ {
		card := drawRandom(&s.RemainingDeck, models.CardNumber, s.rng)
		if card == nil {
			break
		}
		numbers = append(numbers, card)
	}
	for j := 0; j < s.Settings.InitialOperatorCards; j++ {
		card := drawRandom(&s.RemainingDeck, models.CardOperator, s.rng)
		if card == nil {
			break
		}
		operators = append(operators, card)
	}
	return numbers, operators
}

// DrawFromDeck removes a random card of the requested kind from the
// remaining deck. Returns ErrDeckEmpty when the deck holds no card of that
// kind.
func (s *State) DrawFromDeck(kind models.CardType) (*models.Card, error) {
	card := drawRandom(&s.RemainingDeck, kind, s.rng)
	if card == nil {
		return nil, ErrDeckEmpty
	}
	return card, nil
}

// GenerateNewTarget draws two distinct number cards as the round's target.
// Fallback order when the remaining deck lacks numbers: field equations,
// then an emergency fresh deck.
func (s *State) GenerateNewTarget() {
	numbers := filterCards(s.RemainingDeck, models.CardNumber)
	if len(numbers) < 2 {
		fieldNumbers := filterCards(s.AvailableFieldCards(), models.CardNumber)
		if len(fieldNumbers) >= 2 {
			s.TargetCards = []*models.Card{fieldNumbers[0], fieldNumbers[1]}
			s.takeFieldCard(fieldNumbers[0].ID)
			s.takeFieldCard(fieldNumbers[1].ID)
		} else {
			fresh := filterCards(ShuffleDeck(CreateDeck(s.Settings), s.rng), models.CardNumber)
			s.TargetCards = []*models.Card{fresh[0], fresh[1]}
		}
	} else {
		first := numbers[s.rng.Intn(len(numbers))]
		second := first
		for second.ID == first.ID {
			second = numbers[s.rng.Intn(len(numbers))]
		}
		s.RemainingDeck, _ = models.RemoveCard(s.RemainingDeck, first.ID)
		s.RemainingDeck, _ = models.RemoveCard(s.RemainingDeck, second.ID)
		s.TargetCards = []*models.Card{first, second}
	}
	s.GenerateTargetAnswers()
}

// GenerateTargetAnswers recomputes PossibleAnswers from TargetCards: every
// ordered pair of distinct cards read as a 2-digit number, deduplicated and
// sorted ascending. A single target card yields its own value. The first
// answer becomes the nominal TargetAnswer.
//
// The pairwise rule is deliberate: even with three or more target cards,
// answers stay 2-digit combinations.
func (s *State) GenerateTargetAnswers() {
	if len(s.TargetCards) == 0 {
		return
	}
	seen := make(map[int]bool)
	var answers []int
	if len(s.TargetCards) == 1 {
		answers = []int{s.TargetCards[0].Number}
	} else {
		for i := range s.TargetCards {
			for j := range s.TargetCards {
				if i == j {
					continue
				}
				v := s.TargetCards[i].Number*10 + s.TargetCards[j].Number
				if !seen[v] {
					seen[v] = true
					answers = append(answers, v)
				}
			}
		}
		sort.Ints(answers)
	}
	s.PossibleAnswers = answers
	s.TargetAnswer = answers[0]
}

// AddTargetCard is the escalation step: one more number card joins the
// target pool (deck first, then field fallback) and the answers regenerate
// over the larger set.
func (s *State) AddTargetCard() {
	card := drawRandom(&s.RemainingDeck, models.CardNumber, s.rng)
	if card == nil {
		fieldNumbers := filterCards(s.AvailableFieldCards(), models.CardNumber)
		if len(fieldNumbers) > 0 {
			card = fieldNumbers[0]
			s.takeFieldCard(card.ID)
		}
	}
	if card != nil {
		s.TargetCards = append(s.TargetCards, card)
	}
	s.GenerateTargetAnswers()
}
