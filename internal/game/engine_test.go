// internal/game/engine_test.go
package game

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Codexace/skull-multiplayer/internal/models"
)

// mockBroadcaster collects per-player payloads instead of sending them
// over a websocket.
type mockBroadcaster struct {
	mu           sync.Mutex
	playerEvents map[uuid.UUID][]interface{}
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{playerEvents: make(map[uuid.UUID][]interface{})}
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, payload interface{}) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], payload)
}

func (mb *mockBroadcaster) lastFor(playerID uuid.UUID) interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events := mb.playerEvents[playerID]
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

// hasGameOverFor reports whether a game_over notice was pushed to the player.
func (mb *mockBroadcaster) hasGameOverFor(playerID uuid.UUID) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, ev := range mb.playerEvents[playerID] {
		if m, ok := ev.(map[string]interface{}); ok && m["type"] == "game_over" {
			return true
		}
	}
	return false
}

// setupTestRoom builds a room with n joined players. Deadlines are
// effectively disabled and presentation delays shortened; timeout tests
// override TurnTimeout before starting the game.
func setupTestRoom(t *testing.T, n int) (*Room, []uuid.UUID, *mockBroadcaster) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	room := NewRoom("TEST", logger)
	room.TurnTimeout = time.Hour
	room.RevealDelay = 5 * time.Millisecond
	room.ForcedBidDelay = 5 * time.Millisecond
	room.rng = rand.New(rand.NewSource(42))

	mb := newMockBroadcaster()
	room.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		require.NoError(t, room.Join(ids[i], nil, fmt.Sprintf("player%d", i)))
	}
	// Seats go live when the socket layer upgrades them.
	room.Mu.Lock()
	for _, p := range room.Players {
		p.Connected = true
	}
	room.Mu.Unlock()
	return room, ids, mb
}

// act routes one action through the room the way the websocket handler does.
func act(room *Room, playerID uuid.UUID, actionType string, payload map[string]interface{}) {
	room.Mu.Lock()
	defer room.Mu.Unlock()
	room.HandlePlayerAction(playerID, models.GameAction{ActionType: actionType, Payload: payload})
}

func idx(i int) map[string]interface{}    { return map[string]interface{}{"index": float64(i)} }
func amount(a int) map[string]interface{} { return map[string]interface{}{"amount": float64(a)} }
func target(s int) map[string]interface{} { return map[string]interface{}{"target": float64(s)} }

// finishOpeningPlacements places one token per seat so the round is past
// its mandatory opening placements.
func finishOpeningPlacements(room *Room, ids []uuid.UUID, handIdx int) {
	for _, id := range ids {
		act(room, id, "place_card", idx(handIdx))
	}
}

func roomSnapshot(room *Room, f func()) {
	room.Mu.Lock()
	defer room.Mu.Unlock()
	f()
}

func TestStartGameDealsTokens(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 3)

	// Not enough authority: only the host can start.
	act(room, ids[1], "start_game", nil)
	roomSnapshot(room, func() { assert.False(t, room.Started) })

	act(room, ids[0], "start_game", nil)

	roomSnapshot(room, func() {
		require.True(t, room.Started)
		assert.Equal(t, PhasePlacing, room.Phase)
		assert.Equal(t, 1, room.RoundNum)
		assert.True(t, room.CurrentPlayer.Is(0))
		assert.True(t, room.FirstPlacement)
		for _, p := range room.Players {
			require.Len(t, p.Cards, 4)
			require.Len(t, p.Hand, 4)
			assert.Empty(t, p.Stack)

			skulls := 0
			for _, tok := range p.Cards {
				if tok == models.TokenSkull {
					skulls++
				}
			}
			assert.Equal(t, 1, skulls)
		}
	})
}

func TestStartGameNeedsTwoPlayers(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 1)
	act(room, ids[0], "start_game", nil)
	roomSnapshot(room, func() { assert.False(t, room.Started) })
}

func TestOpeningPlacementRotation(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 3)
	act(room, ids[0], "start_game", nil)

	// Out of turn: silently ignored.
	act(room, ids[2], "place_card", idx(0))
	roomSnapshot(room, func() {
		assert.True(t, room.CurrentPlayer.Is(0))
		assert.Empty(t, room.Players[2].Stack)
	})

	act(room, ids[0], "place_card", idx(1))
	roomSnapshot(room, func() {
		assert.True(t, room.CurrentPlayer.Is(1))
		assert.Len(t, room.Players[0].Stack, 1)
		assert.Len(t, room.Players[0].Hand, 3)
		assert.True(t, room.FirstPlacement)
	})

	act(room, ids[1], "place_card", idx(1))
	act(room, ids[2], "place_card", idx(1))
	roomSnapshot(room, func() {
		assert.True(t, room.CurrentPlayer.Is(0))
		assert.False(t, room.FirstPlacement)
	})
}

func TestOpenBidBlockedDuringOpeningPlacements(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)

	act(room, ids[0], "start_bid", amount(1))
	roomSnapshot(room, func() { assert.Equal(t, PhasePlacing, room.Phase) })
}

func TestOpenBidAtTotalGoesStraightToFlipping(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)
	finishOpeningPlacements(room, ids, 1)

	// Clamped down to the two tokens on the table, which also satisfies
	// the bid immediately.
	act(room, ids[0], "start_bid", amount(99))
	roomSnapshot(room, func() {
		assert.Equal(t, PhaseFlipping, room.Phase)
		assert.Equal(t, 2, room.CurrentBid)
		assert.Equal(t, 2, room.FlipsRemaining)
		assert.True(t, room.CurrentPlayer.Is(0))
	})
}

func TestRaiseAndPassLegality(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 3)
	act(room, ids[0], "start_game", nil)
	finishOpeningPlacements(room, ids, 1)

	act(room, ids[0], "start_bid", amount(1))
	roomSnapshot(room, func() {
		assert.Equal(t, PhaseBidding, room.Phase)
		assert.True(t, room.HighestBidder.Is(0))
	})

	// Not strictly higher.
	act(room, ids[1], "raise_bid", amount(1))
	roomSnapshot(room, func() { assert.Equal(t, 1, room.CurrentBid) })

	// Above the table total.
	act(room, ids[1], "raise_bid", amount(4))
	roomSnapshot(room, func() { assert.Equal(t, 1, room.CurrentBid) })

	act(room, ids[1], "raise_bid", amount(2))
	roomSnapshot(room, func() {
		assert.Equal(t, 2, room.CurrentBid)
		assert.True(t, room.HighestBidder.Is(1))
	})

	// The highest bidder cannot raise or pass themselves out.
	act(room, ids[1], "raise_bid", amount(3))
	act(room, ids[1], "pass", nil)
	roomSnapshot(room, func() {
		assert.Equal(t, 2, room.CurrentBid)
		assert.False(t, room.Players[1].Passed)
	})

	act(room, ids[0], "pass", nil)
	roomSnapshot(room, func() { assert.Equal(t, PhaseBidding, room.Phase) })

	act(room, ids[2], "pass", nil)
	roomSnapshot(room, func() {
		assert.Equal(t, PhaseFlipping, room.Phase)
		assert.True(t, room.CurrentPlayer.Is(1))
		assert.Equal(t, 2, room.FlipsRemaining)
	})
}

func TestFlipMustExhaustOwnStackFirst(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)
	// Token 1 is a rose in a fresh token set.
	finishOpeningPlacements(room, ids, 1)
	act(room, ids[0], "start_bid", amount(2))

	act(room, ids[0], "flip_coaster", target(1))
	roomSnapshot(room, func() {
		assert.Empty(t, room.Reveals)
		assert.Len(t, room.Players[1].Stack, 1)
	})

	act(room, ids[0], "flip_coaster", target(0))
	roomSnapshot(room, func() {
		require.Len(t, room.Reveals, 1)
		assert.Equal(t, models.TokenRose, room.Reveals[0].Token)
		assert.Equal(t, 1, room.FlipsRemaining)
	})
}

func TestChallengeSuccessScoresAndStartsNextRound(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)
	finishOpeningPlacements(room, ids, 1)
	act(room, ids[0], "start_bid", amount(2))
	act(room, ids[0], "flip_coaster", target(0))
	act(room, ids[0], "flip_coaster", target(1))

	roomSnapshot(room, func() { assert.Equal(t, PhaseFlipResult, room.Phase) })

	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return room.Phase == PhasePlacing && room.RoundNum == 2
	}, time.Second, 5*time.Millisecond)

	roomSnapshot(room, func() {
		assert.Equal(t, 1, room.Players[0].Wins)
		// The successful bidder starts the next round.
		assert.True(t, room.CurrentPlayer.Is(0))
		assert.Len(t, room.Players[0].Cards, 4)
	})
}

func TestSelfSkullGivesDiscardChoice(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)
	// Token 0 is the skull; the bidder plants it under themselves.
	act(room, ids[0], "place_card", idx(0))
	act(room, ids[1], "place_card", idx(1))
	act(room, ids[0], "start_bid", amount(2))
	act(room, ids[0], "flip_coaster", target(0))

	roomSnapshot(room, func() {
		assert.Equal(t, PhaseFlipResult, room.Phase)
		require.Len(t, room.Reveals, 1)
		assert.Equal(t, models.TokenSkull, room.Reveals[0].Token)
	})

	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return room.Phase == PhasePenalty
	}, time.Second, 5*time.Millisecond)

	roomSnapshot(room, func() { assert.True(t, room.PenaltyPlayer.Is(0)) })

	// Someone else cannot choose for them.
	act(room, ids[1], "penalty_discard", idx(0))
	roomSnapshot(room, func() { assert.Len(t, room.Players[0].Cards, 4) })

	act(room, ids[0], "penalty_discard", idx(0))

	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return room.Phase == PhasePlacing && room.RoundNum == 2
	}, time.Second, 5*time.Millisecond)

	roomSnapshot(room, func() {
		assert.Len(t, room.Players[0].Cards, 3)
		// A failed bidder still starts the next round after a self-skull.
		assert.True(t, room.CurrentPlayer.Is(0))
	})
}

func TestOpponentSkullCostsRandomTokenAndBlockerStarts(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)
	act(room, ids[0], "place_card", idx(1)) // rose
	act(room, ids[1], "place_card", idx(0)) // skull
	act(room, ids[0], "start_bid", amount(2))
	act(room, ids[0], "flip_coaster", target(0))
	act(room, ids[0], "flip_coaster", target(1))

	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return room.Phase == PhasePlacing && room.RoundNum == 2
	}, time.Second, 5*time.Millisecond)

	roomSnapshot(room, func() {
		assert.Len(t, room.Players[0].Cards, 3)
		assert.Len(t, room.Players[1].Cards, 4)
		// The skull's owner blocked the challenge and starts next.
		assert.True(t, room.CurrentPlayer.Is(1))
	})
}

func TestEliminationEndsGameForLastSurvivor(t *testing.T) {
	room, ids, mb := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)

	room.Mu.Lock()
	room.Players[0].Cards = []models.Token{models.TokenRose}
	room.discardToken(0, 0)
	room.Mu.Unlock()

	roomSnapshot(room, func() {
		assert.True(t, room.Players[0].Eliminated)
		assert.Equal(t, PhaseGameOver, room.Phase)
		assert.Equal(t, "player1", room.Winner)
	})
	assert.True(t, mb.hasGameOverFor(ids[0]))
	assert.True(t, mb.hasGameOverFor(ids[1]))
}

func TestSecondChallengeWinsGame(t *testing.T) {
	room, ids, mb := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)

	room.Mu.Lock()
	room.Players[0].Wins = 1
	room.Phase = PhaseFlipResult
	room.challengeSuccess(0)
	room.Mu.Unlock()

	roomSnapshot(room, func() {
		assert.Equal(t, PhaseGameOver, room.Phase)
		assert.Equal(t, "player0", room.Winner)
		assert.Equal(t, 2, room.Players[0].Wins)
	})
	assert.True(t, mb.hasGameOverFor(ids[1]))
}

func TestReconnectByNameDuringGame(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)

	empty := room.HandleDisconnect(ids[1])
	assert.False(t, empty)
	roomSnapshot(room, func() {
		assert.Len(t, room.Players, 2)
		assert.False(t, room.Players[1].Connected)
	})

	// A brand-new name cannot enter a started game.
	err := room.Join(uuid.New(), nil, "intruder")
	assert.ErrorIs(t, err, ErrGameInProgress)

	// The original name, case-folded, reclaims the seat.
	newID := uuid.New()
	require.NoError(t, room.Join(newID, nil, "PLAYER1"))
	roomSnapshot(room, func() {
		assert.True(t, room.Players[1].Connected)
		assert.Equal(t, newID, room.Players[1].ID)
		assert.Equal(t, "player1", room.Players[1].Name)
	})
}

func TestHostReconnectKeepsHostship(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)

	room.HandleDisconnect(ids[0])
	newID := uuid.New()
	require.NoError(t, room.Join(newID, nil, "player0"))

	roomSnapshot(room, func() {
		assert.Equal(t, newID, room.HostID, "hostship must follow the rebound seat")
		view := room.ProjectFor(0)
		assert.True(t, view.Seats[0].IsHost)
	})

	room.Mu.Lock()
	room.endGame("player1")
	room.Mu.Unlock()

	// The rebound identity still holds host powers.
	act(room, newID, "play_again", nil)
	roomSnapshot(room, func() {
		assert.False(t, room.Started)
		assert.Equal(t, PhaseNone, room.Phase)
		assert.Len(t, room.Players, 2)
	})
}

func TestSeatWithoutSocketIsNotLive(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	room := NewRoom("TEST", logger)

	id := uuid.New()
	require.NoError(t, room.Join(id, nil, "alice"))
	roomSnapshot(room, func() {
		assert.False(t, room.Players[0].Connected,
			"a seat created without a socket is not live until its websocket join")
	})
}

func TestLobbyJoinErrors(t *testing.T) {
	room, _, _ := setupTestRoom(t, MaxPlayers)

	assert.ErrorIs(t, room.Join(uuid.New(), nil, "overflow"), ErrRoomFull)

	room2, _, _ := setupTestRoom(t, 2)
	assert.ErrorIs(t, room2.Join(uuid.New(), nil, "Player0"), ErrNameTaken)
	assert.ErrorIs(t, room2.Join(uuid.New(), nil, "   "), ErrInvalidName)
	assert.ErrorIs(t, room2.Join(uuid.New(), nil, "seventeen-letters"), ErrInvalidName)
}

func TestLobbyDisconnectRemovesSeatAndReassignsHost(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 3)

	assert.False(t, room.HandleDisconnect(ids[0]))
	roomSnapshot(room, func() {
		assert.Len(t, room.Players, 2)
		assert.Equal(t, ids[1], room.HostID)
	})

	assert.False(t, room.HandleDisconnect(ids[1]))
	assert.True(t, room.HandleDisconnect(ids[2]), "last leaver should empty the room")
}

func TestPlacingTimeoutAutoPlacesAndAutoBids(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	room.TurnTimeout = 30 * time.Millisecond
	act(room, ids[0], "start_game", nil)

	// Opening placements happen by force, one per deadline.
	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return !room.FirstPlacement
	}, time.Second, 5*time.Millisecond)

	// With tokens already on the table, the next deadline opens a bid of 1,
	// and the bidding deadline then force-passes the other seat.
	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return room.Phase == PhaseFlipping
	}, time.Second, 5*time.Millisecond)

	roomSnapshot(room, func() {
		assert.Equal(t, 1, room.CurrentBid)
		assert.True(t, room.HighestBidder.Is(0))
	})
}

func TestEmptyHandForcesBidOfOne(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 2)
	act(room, ids[0], "start_game", nil)
	finishOpeningPlacements(room, ids, 1)

	room.Mu.Lock()
	room.Players[1].Hand = nil
	room.Mu.Unlock()

	// Seat 0 places again; the turn lands on seat 1 whose hand is empty.
	act(room, ids[0], "place_card", idx(0))

	require.Eventually(t, func() bool {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		return room.Phase == PhaseBidding
	}, time.Second, 5*time.Millisecond)

	roomSnapshot(room, func() {
		assert.Equal(t, 1, room.CurrentBid)
		assert.True(t, room.HighestBidder.Is(1))
	})
}

func TestTokenConservationAcrossARound(t *testing.T) {
	room, ids, _ := setupTestRoom(t, 3)
	act(room, ids[0], "start_game", nil)
	finishOpeningPlacements(room, ids, 1)
	act(room, ids[0], "place_card", idx(0))
	act(room, ids[1], "start_bid", amount(2))
	act(room, ids[0], "pass", nil)
	act(room, ids[2], "pass", nil)

	roomSnapshot(room, func() {
		for _, p := range room.Players {
			assert.Equal(t, len(p.Cards), len(p.Hand)+len(p.Stack),
				"hand+stack must account for every owned token mid-round")
		}
	})
}
