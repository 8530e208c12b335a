// internal/game/projection.go
package game

import "github.com/Codexace/skull-multiplayer/internal/models"

// Everything a client sees comes through ProjectFor: the projection for a
// viewer carries the full public state but conceals every other seat's
// hand, stack contents and remaining token composition. Only counts cross
// the wire for concealed zones.

const logTail = 20

// SeatView is one seat as visible to a particular viewer.
type SeatView struct {
	Seat       int    `json:"seat"`
	Name       string `json:"name"`
	Wins       int    `json:"wins"`
	CardCount  int    `json:"card_count"`
	HandCount  int    `json:"hand_count"`
	StackCount int    `json:"stack_count"`
	Eliminated bool   `json:"eliminated"`
	Passed     bool   `json:"passed"`
	Connected  bool   `json:"connected"`
	IsHost     bool   `json:"is_host"`

	// Hand is populated only on the viewer's own seat.
	Hand []models.Token `json:"hand,omitempty"`
}

// RoomView is the per-viewer snapshot pushed on every state change.
type RoomView struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Started bool   `json:"started"`
	Phase   Phase  `json:"phase"`
	Round   int    `json:"round"`
	YouSeat int    `json:"you_seat"`

	CurrentSeat    *int `json:"current_seat,omitempty"`
	HighestBidder  *int `json:"highest_bidder,omitempty"`
	CurrentBid     int  `json:"current_bid"`
	FlipsRemaining int  `json:"flips_remaining"`
	TokensOnTable  int  `json:"tokens_on_table"`

	Seats   []SeatView     `json:"seats"`
	Reveals []RevealedCard `json:"reveals,omitempty"`
	Log     []string       `json:"log"`

	// PenaltyChoices is set only for the penalized viewer: their surviving
	// tokens, to pick the discard from.
	PenaltyChoices []models.Token `json:"penalty_choices,omitempty"`

	Winner string `json:"winner,omitempty"`
}

func seatPtr(ref SeatRef) *int {
	if s, ok := ref.Get(); ok {
		n := int(s)
		return &n
	}
	return nil
}

// ProjectFor builds the state snapshot as seen from the given seat.
// Assumes Mu is held.
func (r *Room) ProjectFor(viewer Seat) RoomView {
	view := RoomView{
		Type:           "room_state",
		Code:           r.Code,
		Started:        r.Started,
		Phase:          r.Phase,
		Round:          r.RoundNum,
		YouSeat:        int(viewer),
		CurrentSeat:    seatPtr(r.CurrentPlayer),
		HighestBidder:  seatPtr(r.HighestBidder),
		CurrentBid:     r.CurrentBid,
		FlipsRemaining: r.FlipsRemaining,
		TokensOnTable:  r.totalOnStacks(),
		Reveals:        append([]RevealedCard(nil), r.Reveals...),
	}

	tail := r.Log
	if len(tail) > logTail {
		tail = tail[len(tail)-logTail:]
	}
	view.Log = append([]string(nil), tail...)

	for i, p := range r.Players {
		sv := SeatView{
			Seat:       i,
			Name:       p.Name,
			Wins:       p.Wins,
			CardCount:  len(p.Cards),
			HandCount:  len(p.Hand),
			StackCount: len(p.Stack),
			Eliminated: p.Eliminated,
			Passed:     p.Passed,
			Connected:  p.Connected,
			IsHost:     p.ID == r.HostID,
		}
		if Seat(i) == viewer {
			sv.Hand = append([]models.Token(nil), p.Hand...)
		}
		view.Seats = append(view.Seats, sv)
	}

	if r.Phase == PhasePenalty && r.PenaltyPlayer.Is(viewer) {
		view.PenaltyChoices = append([]models.Token(nil), r.player(viewer).Cards...)
	}
	if r.Phase == PhaseGameOver {
		view.Winner = r.Winner
	}
	return view
}
