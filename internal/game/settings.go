// internal/game/settings.go
package game

// Settings parameterizes deck composition and dealing. The zero value is not
// usable; start from DefaultSettings.
type Settings struct {
	NumberSets           int `json:"numberSets"`
	OperatorSets         int `json:"operatorSets"`
	JokerCount           int `json:"jokerCount"`
	PlayerCount          int `json:"playerCount"`
	InitialNumberCards   int `json:"initialNumberCards"`
	InitialOperatorCards int `json:"initialOperatorCards"`
}

// DefaultSettings returns the standard four-player configuration.
func DefaultSettings() Settings {
	return Settings{
		NumberSets:           3,
		OperatorSets:         4,
		JokerCount:           2,
		PlayerCount:          4,
		InitialNumberCards:   13,
		InitialOperatorCards: 5,
	}
}

// DeckSize is the total card count the settings produce.
func (s Settings) DeckSize() int {
	return s.NumberSets*10 + s.OperatorSets*4 + s.JokerCount
}
