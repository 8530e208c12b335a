// internal/game/engine.go
package game

import (
	"github.com/google/uuid"

	"github.com/Codexace/skull-multiplayer/internal/models"
)

// HandlePlayerAction validates and routes one inbound player action.
// Illegal or out-of-turn actions are silently rejected: every branch
// starts with phase/turn-ownership/bounds checks and returns early, and
// the authoritative state is re-broadcast after every accepted action so
// clients can always resynchronize.
// Assumes the lock is held by the caller (WS handler or timer callback).
func (r *Room) HandlePlayerAction(playerID uuid.UUID, action models.GameAction) {
	seat, ok := r.seatOf(playerID)
	if !ok || !r.player(seat).Connected {
		return
	}

	switch action.ActionType {
	case "start_game":
		r.startGame(playerID)
		return
	case "play_again":
		r.playAgain(playerID)
		return
	}

	if !r.Started || r.Phase == PhaseGameOver {
		return
	}

	switch action.ActionType {
	case "place_card":
		r.placeCard(seat, payloadInt(action.Payload, "index"), false)
	case "start_bid":
		r.openBid(seat, payloadInt(action.Payload, "amount"), false)
	case "raise_bid":
		r.raiseBid(seat, payloadInt(action.Payload, "amount"))
	case "pass":
		r.passBid(seat)
	case "flip_coaster":
		r.flipCoaster(seat, Seat(payloadInt(action.Payload, "target")))
	case "penalty_discard":
		r.penaltyDiscard(seat, payloadInt(action.Payload, "index"))
	default:
		r.logger.Debugf("room %s: unknown action %q from seat %d", r.Code, action.ActionType, seat)
	}
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return -1
}

// startGame deals every player their token set and opens the first round.
// Host-only; requires at least MinPlayers and a not-yet-started room.
func (r *Room) startGame(playerID uuid.UUID) {
	if r.Started || r.HostID != playerID || len(r.Players) < MinPlayers {
		return
	}
	r.Started = true
	r.RoundNum = 0
	r.NextStarter = NoSeat
	for _, p := range r.Players {
		p.Cards = models.NewTokenSet()
		p.Wins = 0
		p.Eliminated = false
	}
	r.appendLog("game started with %d players", len(r.Players))
	r.record(-1, "game_start", map[string]interface{}{"players": len(r.Players)})
	r.startRound()
}

// playAgain resets a finished room back to its pre-game lobby state.
// Seats that disconnected mid-game are dropped; the host is reassigned if
// theirs was one of them.
func (r *Room) playAgain(playerID uuid.UUID) {
	if r.Phase != PhaseGameOver || r.HostID != playerID {
		return
	}
	kept := r.Players[:0]
	for _, p := range r.Players {
		if p.Connected {
			kept = append(kept, p)
		}
	}
	r.Players = kept
	if len(r.Players) > 0 {
		hostPresent := false
		for _, p := range r.Players {
			if p.ID == r.HostID {
				hostPresent = true
				break
			}
		}
		if !hostPresent {
			r.HostID = r.Players[0].ID
		}
	}
	for _, p := range r.Players {
		p.Cards = nil
		p.Hand = nil
		p.Stack = nil
		p.Wins = 0
		p.Eliminated = false
		p.Passed = false
	}
	r.Started = false
	r.Phase = PhaseNone
	r.RoundNum = 0
	r.Winner = ""
	r.CurrentBid = 0
	r.FlipsRemaining = 0
	r.CurrentPlayer = NoSeat
	r.HighestBidder = NoSeat
	r.PenaltyPlayer = NoSeat
	r.NextStarter = NoSeat
	r.FirstPlacement = false
	r.Reveals = nil
	r.cancelDeadline()
	r.delaySeq++
	r.appendLog("room reset for a new game")
	r.record(-1, "play_again", nil)
	r.broadcastState()
}

// startRound resets per-round player state, picks the starting seat and
// opens placement. Assumes the lock is held.
func (r *Room) startRound() {
	r.RoundNum++
	for _, p := range r.Players {
		if p.Eliminated {
			continue
		}
		p.Hand = append([]models.Token(nil), p.Cards...)
		p.Stack = nil
		p.Passed = false
	}
	r.CurrentBid = 0
	r.FlipsRemaining = 0
	r.HighestBidder = NoSeat
	r.PenaltyPlayer = NoSeat
	r.Reveals = nil
	r.FirstPlacement = true
	r.delaySeq++ // invalidate any straggling presentation delay

	starter, ok := r.NextStarter.Get()
	if !ok || r.player(starter).Eliminated {
		base := Seat((r.RoundNum - 1) % r.seatCount())
		starter = r.nextAliveAt(base)
	}
	r.NextStarter = NoSeat

	r.Phase = PhasePlacing
	r.CurrentPlayer = RefTo(starter)
	r.appendLog("round %d: %s places first", r.RoundNum, r.player(starter).Name)
	r.record(-1, "round_start", map[string]interface{}{"round": r.RoundNum, "starter": int(starter)})
	r.scheduleDeadline(r.TurnTimeout, func() { r.placingTimeout(starter) })
	r.broadcastState()
}

// placingTimeout is the deadline auto-action for a placing turn: on the
// round's opening placements it force-places the first hand token; later,
// a seat that already has stack tokens is force-opened into a bid of 1.
func (r *Room) placingTimeout(seat Seat) {
	if r.Phase != PhasePlacing || !r.CurrentPlayer.Is(seat) {
		return
	}
	p := r.player(seat)
	if !r.FirstPlacement && len(p.Stack) > 0 {
		r.appendLog("%s ran out of time", p.Name)
		r.openBid(seat, 1, true)
		return
	}
	if len(p.Hand) > 0 {
		r.appendLog("%s ran out of time", p.Name)
		r.placeCard(seat, 0, true)
	}
}

// placeCard moves one token from the acting seat's hand onto its stack
// and advances the placing turn.
func (r *Room) placeCard(seat Seat, handIdx int, forced bool) {
	if r.Phase != PhasePlacing || !r.CurrentPlayer.Is(seat) {
		return
	}
	p := r.player(seat)
	if handIdx < 0 || handIdx >= len(p.Hand) {
		return
	}
	tok := p.Hand[handIdx]
	p.Hand = append(p.Hand[:handIdx], p.Hand[handIdx+1:]...)
	p.Stack = append(p.Stack, tok)

	if r.FirstPlacement {
		done := true
		for _, q := range r.Players {
			if !q.Eliminated && len(q.Stack) == 0 {
				done = false
				break
			}
		}
		if done {
			// Permanently off for the remainder of the round.
			r.FirstPlacement = false
		}
	}

	r.appendLog("%s placed a card", p.Name)
	r.record(seat, "place_card", map[string]interface{}{"forced": forced})
	r.advancePlacingTurn(seat)
	r.broadcastState()
}

// advancePlacingTurn hands the placing turn to the next eligible seat. A
// seat with an empty hand can never be asked to place, so once opening
// placements are done such a seat is forced into a bid of 1 after a short
// presentation delay instead of waiting for input it cannot give.
func (r *Room) advancePlacingTurn(from Seat) {
	next := r.nextPlacingSeat(from)
	r.CurrentPlayer = RefTo(next)

	p := r.player(next)
	if len(p.Hand) == 0 && !r.FirstPlacement {
		r.cancelDeadline()
		seat := next
		r.scheduleDelay(r.ForcedBidDelay, func() bool {
			return r.Phase == PhasePlacing && r.CurrentPlayer.Is(seat) && len(r.player(seat).Hand) == 0
		}, func() {
			r.openBid(seat, 1, true)
		})
		return
	}
	seat := next
	r.scheduleDeadline(r.TurnTimeout, func() { r.placingTimeout(seat) })
}

// openBid transitions from placing to bidding. The amount is clamped into
// [1, tokens on table]; turn ownership is dropped since bidding is not
// seat-ordered.
func (r *Room) openBid(seat Seat, amount int, forced bool) {
	if r.Phase != PhasePlacing || !r.CurrentPlayer.Is(seat) || r.FirstPlacement {
		return
	}
	total := r.totalOnStacks()
	if amount < 1 {
		amount = 1
	}
	if amount > total {
		amount = total
	}

	r.Phase = PhaseBidding
	r.CurrentBid = amount
	r.HighestBidder = RefTo(seat)
	r.CurrentPlayer = NoSeat
	for _, p := range r.Players {
		p.Passed = false
	}

	r.appendLog("%s opened the bidding at %d", r.player(seat).Name, amount)
	r.record(seat, "start_bid", map[string]interface{}{"amount": amount, "forced": forced})
	if !r.evaluateBidding() {
		r.scheduleDeadline(r.TurnTimeout, r.biddingTimeout)
	}
	r.broadcastState()
}

// raiseBid accepts a strictly higher bid from an eligible seat.
func (r *Room) raiseBid(seat Seat, amount int) {
	if r.Phase != PhaseBidding {
		return
	}
	p := r.player(seat)
	if p.Eliminated || p.Passed || r.HighestBidder.Is(seat) {
		return
	}
	if amount <= r.CurrentBid || amount > r.totalOnStacks() {
		return
	}

	r.CurrentBid = amount
	r.HighestBidder = RefTo(seat)
	r.appendLog("%s raised the bid to %d", p.Name, amount)
	r.record(seat, "raise_bid", map[string]interface{}{"amount": amount})
	if !r.evaluateBidding() {
		r.scheduleDeadline(r.TurnTimeout, r.biddingTimeout)
	}
	r.broadcastState()
}

// passBid permanently removes a seat from the current bidding cycle.
func (r *Room) passBid(seat Seat) {
	if r.Phase != PhaseBidding {
		return
	}
	p := r.player(seat)
	if p.Eliminated || p.Passed || r.HighestBidder.Is(seat) {
		return
	}
	p.Passed = true
	r.appendLog("%s passed", p.Name)
	r.record(seat, "pass", nil)
	r.evaluateBidding()
	r.broadcastState()
}

// evaluateBidding checks the two termination conditions: the bid reached
// the total tokens on the table, or everyone but the highest bidder has
// passed. Returns true when bidding ended.
func (r *Room) evaluateBidding() bool {
	bidder, ok := r.HighestBidder.Get()
	if !ok {
		return false
	}
	if r.CurrentBid < r.totalOnStacks() {
		for i, p := range r.Players {
			if p.Eliminated || Seat(i) == bidder {
				continue
			}
			if !p.Passed {
				return false
			}
		}
	}
	r.beginFlipping()
	return true
}

// biddingTimeout force-passes every eligible seat that has not yet acted,
// which deterministically terminates the bidding cycle.
func (r *Room) biddingTimeout() {
	if r.Phase != PhaseBidding {
		return
	}
	bidder, _ := r.HighestBidder.Get()
	for i, p := range r.Players {
		if p.Eliminated || p.Passed || Seat(i) == bidder {
			continue
		}
		p.Passed = true
		r.appendLog("%s ran out of time and passed", p.Name)
	}
	r.record(-1, "bidding_timeout", nil)
	r.evaluateBidding()
	r.broadcastState()
}

// beginFlipping fixes the turn on the highest bidder and clears the
// reveal list for the new flip sequence.
func (r *Room) beginFlipping() {
	bidder, ok := r.HighestBidder.Get()
	if !ok {
		return
	}
	r.Phase = PhaseFlipping
	r.FlipsRemaining = r.CurrentBid
	r.CurrentPlayer = RefTo(bidder)
	r.Reveals = nil
	r.cancelDeadline()
	r.appendLog("%s must flip %d cards without hitting a skull", r.player(bidder).Name, r.CurrentBid)
}

// flipCoaster reveals the top token of the target seat's stack. The
// bidder must exhaust their own stack before targeting anyone else.
func (r *Room) flipCoaster(seat Seat, target Seat) {
	if r.Phase != PhaseFlipping || !r.CurrentPlayer.Is(seat) {
		return
	}
	if int(target) < 0 || int(target) >= r.seatCount() {
		return
	}
	tp := r.player(target)
	if tp.Eliminated || len(tp.Stack) == 0 {
		return
	}
	if target != seat && len(r.player(seat).Stack) > 0 {
		return
	}

	tok := tp.Stack[len(tp.Stack)-1]
	tp.Stack = tp.Stack[:len(tp.Stack)-1]
	r.Reveals = append(r.Reveals, RevealedCard{Seat: target, Token: tok, Name: tp.Name})
	r.FlipsRemaining--
	r.record(seat, "flip_coaster", map[string]interface{}{"target": int(target), "token": string(tok)})

	if tok == models.TokenSkull {
		r.appendLog("%s flipped a skull from %s's stack", r.player(seat).Name, tp.Name)
		r.Phase = PhaseFlipResult
		r.CurrentPlayer = NoSeat
		r.cancelDeadline()
		bidder, skullOwner := seat, target
		r.scheduleDelay(r.RevealDelay, func() bool {
			return r.Phase == PhaseFlipResult
		}, func() {
			r.applyPenalty(bidder, skullOwner)
		})
		r.broadcastState()
		return
	}

	r.appendLog("%s flipped a rose from %s's stack", r.player(seat).Name, tp.Name)
	if r.FlipsRemaining > 0 {
		r.broadcastState()
		return
	}

	r.Phase = PhaseFlipResult
	r.CurrentPlayer = NoSeat
	bidder := seat
	r.scheduleDelay(r.RevealDelay, func() bool {
		return r.Phase == PhaseFlipResult
	}, func() {
		r.challengeSuccess(bidder)
	})
	r.broadcastState()
}

// challengeSuccess awards the bidder a point for completing the bid
// without revealing a skull, ending the game if they hit the win target.
func (r *Room) challengeSuccess(bidder Seat) {
	p := r.player(bidder)
	p.Wins++
	r.NextStarter = RefTo(bidder)
	r.appendLog("%s survived the challenge and scores a point (%d/%d)", p.Name, p.Wins, WinTarget)
	r.record(bidder, "challenge_won", map[string]interface{}{"wins": p.Wins})
	if p.Wins >= WinTarget {
		r.endGame(p.Name)
		return
	}
	r.broadcastState()
	r.scheduleDelay(r.RevealDelay, func() bool {
		return r.Phase == PhaseFlipResult
	}, r.startRound)
}

// applyPenalty resolves a revealed skull. A self-skull lets the bidder
// choose the discard (when they have a choice); an opponent's skull
// rewards the blocker with the next round's start and costs the bidder a
// random token.
func (r *Room) applyPenalty(bidder Seat, skullOwner Seat) {
	p := r.player(bidder)
	if skullOwner == bidder {
		r.NextStarter = RefTo(bidder)
		if len(p.Cards) > 1 {
			r.Phase = PhasePenalty
			r.PenaltyPlayer = RefTo(bidder)
			r.CurrentPlayer = RefTo(bidder)
			r.appendLog("%s must choose a card to discard", p.Name)
			r.broadcastState()
			return
		}
		r.discardToken(bidder, 0)
		return
	}
	r.NextStarter = RefTo(skullOwner)
	r.appendLog("%s blocked the challenge and starts the next round", r.player(skullOwner).Name)
	r.discardToken(bidder, r.rng.Intn(len(p.Cards)))
}

// penaltyDiscard applies the penalized seat's explicit discard choice.
func (r *Room) penaltyDiscard(seat Seat, cardIdx int) {
	if r.Phase != PhasePenalty || !r.PenaltyPlayer.Is(seat) {
		return
	}
	if cardIdx < 0 || cardIdx >= len(r.player(seat).Cards) {
		return
	}
	r.PenaltyPlayer = NoSeat
	r.CurrentPlayer = NoSeat
	r.discardToken(seat, cardIdx)
}

// discardToken permanently removes one physical token from a seat,
// eliminating the player at zero tokens, then either ends the game or
// pauses before the next round. The discarded kind is never logged: which
// tokens a player has lost stays hidden information.
func (r *Room) discardToken(seat Seat, cardIdx int) {
	p := r.player(seat)
	p.Cards = append(p.Cards[:cardIdx], p.Cards[cardIdx+1:]...)
	r.appendLog("%s discarded a card (%d left)", p.Name, len(p.Cards))
	r.record(seat, "penalty_discard", map[string]interface{}{"remaining": len(p.Cards)})

	if len(p.Cards) == 0 {
		p.Eliminated = true
		p.Hand = nil
		p.Stack = nil
		r.appendLog("%s is eliminated", p.Name)
	}

	alive := r.aliveSeats()
	if len(alive) <= 1 {
		if len(alive) == 1 {
			r.endGame(r.player(alive[0]).Name)
			return
		}
		// Unreachable with one discard per penalty, but fail safely.
		r.logger.Errorf("room %s: no survivors after penalty", r.Code)
		r.endGame("")
		return
	}

	r.Phase = PhaseFlipResult
	r.PenaltyPlayer = NoSeat
	r.CurrentPlayer = NoSeat
	r.broadcastState()
	r.scheduleDelay(r.RevealDelay, func() bool {
		return r.Phase == PhaseFlipResult
	}, r.startRound)
}

// endGame moves the room to its terminal phase and notifies every player.
// An empty winner marks the no-survivor error state.
func (r *Room) endGame(winner string) {
	r.Phase = PhaseGameOver
	r.Winner = winner
	r.CurrentPlayer = NoSeat
	r.HighestBidder = NoSeat
	r.PenaltyPlayer = NoSeat
	r.NextStarter = NoSeat
	r.cancelDeadline()
	r.delaySeq++
	if winner != "" {
		r.appendLog("%s wins the game", winner)
	} else {
		r.appendLog("game over with no winner")
	}
	r.record(-1, "game_over", map[string]interface{}{"winner": winner})
	r.broadcastState()
	notice := map[string]interface{}{"type": "game_over", "winner": winner}
	for _, p := range r.Players {
		if p.Connected {
			r.fireToPlayer(p.ID, notice)
		}
	}
}
