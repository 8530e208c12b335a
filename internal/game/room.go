// internal/game/room.go
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Codexace/skull-multiplayer/internal/models"
)

// Phase identifies where a room is in the round state machine.
type Phase string

const (
	PhaseNone       Phase = "none"
	PhasePlacing    Phase = "placing"
	PhaseBidding    Phase = "bidding"
	PhaseFlipping   Phase = "flipping"
	PhaseFlipResult Phase = "flip_result"
	PhasePenalty    Phase = "penalty"
	PhaseGameOver   Phase = "gameover"
)

// Seat is a player's fixed position in the room's ordered player list.
type Seat int

// SeatRef is an optional seat reference. The zero value means "no seat",
// so a Room starts out with no turn owner, no highest bidder and so on.
type SeatRef struct {
	seat Seat
	ok   bool
}

// NoSeat is the absent seat reference.
var NoSeat = SeatRef{}

// RefTo returns a reference to the given seat.
func RefTo(s Seat) SeatRef { return SeatRef{seat: s, ok: true} }

// Get returns the referenced seat and whether one is set.
func (ref SeatRef) Get() (Seat, bool) { return ref.seat, ref.ok }

// Is reports whether the reference is set and points at s.
func (ref SeatRef) Is(s Seat) bool { return ref.ok && ref.seat == s }

// RevealedCard records one flipped token of the current flip sequence.
type RevealedCard struct {
	Seat  Seat         `json:"seat"`
	Token models.Token `json:"token"`
	Name  string       `json:"name"`
}

const (
	// MaxPlayers is the fixed room capacity.
	MaxPlayers = 6
	// MinPlayers is the minimum needed to start a game.
	MinPlayers = 2
	// WinTarget is the number of successful challenges that win the game.
	WinTarget = 2

	// MaxNameLen caps display names (in runes).
	MaxNameLen = 16

	logLimit = 50
)

// Join failure reasons. These are the only game errors surfaced to the
// caller; every other illegal action is silently rejected.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrGameInProgress = errors.New("game already in progress")
	ErrRoomFull       = errors.New("room is full")
	ErrNameTaken      = errors.New("name already taken")
	ErrInvalidName    = errors.New("invalid display name")
)

// RecordFunc receives an accepted, state-changing action for archival.
// A seat of -1 means the action had no acting player.
type RecordFunc func(code string, seat Seat, action string, detail map[string]interface{})

// Room is the authoritative state for a single game room. All observation
// and mutation happens with Mu held; timer callbacks re-acquire it and
// re-validate before acting, so every handler runs to completion relative
// to every other.
type Room struct {
	Code    string
	HostID  uuid.UUID
	Players []*models.Player
	Started bool

	Phase          Phase
	CurrentPlayer  SeatRef
	CurrentBid     int
	HighestBidder  SeatRef
	FlipsRemaining int
	RoundNum       int
	FirstPlacement bool
	NextStarter    SeatRef
	PenaltyPlayer  SeatRef
	Winner         string

	Reveals []RevealedCard
	Log     []string

	// Timer tuning. Tests shorten these; clients treat the presentation
	// delays as cosmetic.
	TurnTimeout    time.Duration
	RevealDelay    time.Duration
	ForcedBidDelay time.Duration

	// BroadcastToPlayerFn sends a payload to one player. Projections are
	// per-viewer, so room-wide pushes fan out through this. Called with
	// Mu held; implementations must not re-acquire it.
	BroadcastToPlayerFn func(playerID uuid.UUID, payload interface{})

	// RecordFn, if set, archives accepted actions (see cmd/historian).
	RecordFn RecordFunc

	Mu sync.Mutex

	deadlineTimer *time.Timer
	deadlineSeq   uint64
	delaySeq      uint64

	logger *logrus.Logger
	rng    *rand.Rand
}

// NewRoom builds an empty, not-yet-started room under the given code.
func NewRoom(code string, logger *logrus.Logger) *Room {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Room{
		Code:           code,
		Phase:          PhaseNone,
		TurnTimeout:    20 * time.Second,
		RevealDelay:    2 * time.Second,
		ForcedBidDelay: 1500 * time.Millisecond,
		logger:         logger,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NormalizeName trims and validates a display name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > MaxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

// Join adds a player to the room, or rebinds an existing seat to a new
// connection: by ID while the room is still in its lobby state, by display
// name (onto a disconnected seat) once the game has started.
func (r *Room) Join(playerID uuid.UUID, conn *websocket.Conn, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Started {
		for _, p := range r.Players {
			if strings.EqualFold(p.Name, name) && !p.Connected {
				// Hostship follows the seat across the identity change.
				if r.HostID == p.ID {
					r.HostID = playerID
				}
				p.ID = playerID
				p.Conn = conn
				p.Connected = true
				r.appendLog("%s reconnected", p.Name)
				r.broadcastState()
				return nil
			}
		}
		return ErrGameInProgress
	}

	for _, p := range r.Players {
		if p.ID == playerID {
			// Same identity re-establishing its lobby connection.
			p.Conn = conn
			p.Connected = true
			r.broadcastState()
			return nil
		}
	}
	if len(r.Players) >= MaxPlayers {
		return ErrRoomFull
	}
	for _, p := range r.Players {
		if strings.EqualFold(p.Name, name) {
			return ErrNameTaken
		}
	}

	// A seat created over HTTP has no socket yet; it goes live when the
	// websocket join rebinds it by ID.
	p := &models.Player{ID: playerID, Name: name, Connected: conn != nil, Conn: conn}
	r.Players = append(r.Players, p)
	if len(r.Players) == 1 {
		r.HostID = playerID
	}
	r.appendLog("%s joined the room", name)
	r.broadcastState()
	return nil
}

// HandleDisconnect processes a dropped connection. In the lobby the seat is
// removed (reassigning the host if needed); in a started game it is only
// marked disconnected so the player can reconnect by name. Returns true if
// the room is now empty and should be destroyed by its registry.
func (r *Room) HandleDisconnect(playerID uuid.UUID) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	idx := -1
	for i, p := range r.Players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	p := r.Players[idx]

	if r.Started {
		if !p.Connected {
			return false
		}
		p.Connected = false
		p.Conn = nil
		r.appendLog("%s disconnected", p.Name)
		r.broadcastState()
		return false
	}

	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	r.appendLog("%s left the room", p.Name)
	if len(r.Players) == 0 {
		return true
	}
	if r.HostID == playerID {
		r.HostID = r.Players[0].ID
		r.appendLog("%s is now the host", r.Players[0].Name)
	}
	r.broadcastState()
	return false
}

// lobbyAbandoned reports whether the room never started and has no live
// connection attached. Such rooms get no connection-ended event, so the
// registry reaps them on a timer.
func (r *Room) lobbyAbandoned() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.Started {
		return false
	}
	for _, p := range r.Players {
		if p.Connected {
			return false
		}
	}
	return true
}

// BroadcastChat relays a (already sanitized) chat line to every connected
// player in the room.
func (r *Room) BroadcastChat(playerID uuid.UUID, msg string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	seat, ok := r.seatOf(playerID)
	if !ok {
		return
	}
	payload := map[string]interface{}{
		"type": "chat",
		"name": r.Players[seat].Name,
		"msg":  msg,
		"ts":   time.Now().Unix(),
	}
	for _, p := range r.Players {
		if p.Connected {
			r.fireToPlayer(p.ID, payload)
		}
	}
}

// SendState pushes the viewer's current projection to them. Used on
// connect so a (re)joining client is immediately in sync.
func (r *Room) SendState(playerID uuid.UUID) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if seat, ok := r.seatOf(playerID); ok {
		r.fireToPlayer(playerID, r.ProjectFor(seat))
	}
}

// --- helpers below assume Mu is held ---

func (r *Room) seatOf(playerID uuid.UUID) (Seat, bool) {
	for i, p := range r.Players {
		if p.ID == playerID {
			return Seat(i), true
		}
	}
	return 0, false
}

func (r *Room) player(s Seat) *models.Player {
	return r.Players[s]
}

func (r *Room) seatCount() int { return len(r.Players) }

func (r *Room) aliveSeats() []Seat {
	var alive []Seat
	for i, p := range r.Players {
		if !p.Eliminated {
			alive = append(alive, Seat(i))
		}
	}
	return alive
}

// totalOnStacks is the number of tokens currently placed on every stack.
func (r *Room) totalOnStacks() int {
	total := 0
	for _, p := range r.Players {
		total += len(p.Stack)
	}
	return total
}

// nextAliveAt scans forward from base (inclusive) to the first
// non-eliminated seat. At least one player must be alive.
func (r *Room) nextAliveAt(base Seat) Seat {
	n := r.seatCount()
	for i := 0; i < n; i++ {
		s := Seat((int(base) + i) % n)
		if !r.player(s).Eliminated {
			return s
		}
	}
	return base
}

// nextPlacingSeat returns the next non-eliminated, non-passed seat after
// from, falling back to the next non-eliminated seat when everyone left
// has passed.
func (r *Room) nextPlacingSeat(from Seat) Seat {
	n := r.seatCount()
	for i := 1; i <= n; i++ {
		s := Seat((int(from) + i) % n)
		p := r.player(s)
		if !p.Eliminated && !p.Passed {
			return s
		}
	}
	return r.nextAliveAt(Seat((int(from) + 1) % n))
}

func (r *Room) appendLog(format string, args ...interface{}) {
	entry := fmt.Sprintf(format, args...)
	r.Log = append(r.Log, entry)
	if len(r.Log) > logLimit {
		r.Log = r.Log[len(r.Log)-logLimit:]
	}
	r.logger.WithField("room", r.Code).Debug(entry)
}

func (r *Room) record(seat Seat, action string, detail map[string]interface{}) {
	if r.RecordFn != nil {
		r.RecordFn(r.Code, seat, action, detail)
	}
}

func (r *Room) fireToPlayer(playerID uuid.UUID, payload interface{}) {
	if r.BroadcastToPlayerFn != nil {
		r.BroadcastToPlayerFn(playerID, payload)
	}
}

// broadcastState pushes a fresh per-viewer projection to every connected
// player. Every state-changing path ends here, so clients always observe a
// fully-settled state.
func (r *Room) broadcastState() {
	for i, p := range r.Players {
		if p.Connected {
			r.fireToPlayer(p.ID, r.ProjectFor(Seat(i)))
		}
	}
}
