package models

// The dice-roll back end is a black-box oracle keyed by {system, command}.
// Only its interface types live here; invoking it is out of this layer's scope.

type Die struct {
	Faces int `json:"faces"`
	Value int `json:"value"`
}

type DiceRollResult struct {
	OK     bool   `json:"ok"`
	Result string `json:"result,omitempty"`
	Secret bool   `json:"secret,omitempty"`
	Dices  []Die  `json:"dices,omitempty"`
}

type DiceSystem struct {
	System string `json:"system"`
	Name   string `json:"name"`
}
