package models

// GameAction is a single inbound player action decoded from the wire.
type GameAction struct {
	ActionType string
	Payload    map[string]interface{}
}
