package models

import (
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Token is a single physical game piece.
type Token string

const (
	TokenRose  Token = "rose"
	TokenSkull Token = "skull"
)

// NewTokenSet returns the four tokens every player owns at game start.
func NewTokenSet() []Token {
	return []Token{TokenSkull, TokenRose, TokenRose, TokenRose}
}

// Player is one seat in a room. ID and Conn form the connection identity and
// are rebindable across reconnections; the rest is game state.
type Player struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// Cards are the physical tokens owned this game; they only shrink, via
	// penalties. Hand holds the tokens still available to place this round,
	// Stack the tokens placed face-down.
	Cards []Token `json:"-"`
	Hand  []Token `json:"-"`
	Stack []Token `json:"-"`

	Wins       int  `json:"wins"`
	Eliminated bool `json:"eliminated"`
	Passed     bool `json:"passed"`
	Connected  bool `json:"connected"`

	Conn *websocket.Conn `json:"-"`
}
