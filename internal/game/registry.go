// internal/game/registry.go
package game

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Room codes use symbols with no case or shape ambiguity (no 0/O, 1/I/L).
// Lookups fold case, so a code read aloud is enough to join.
const (
	codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	codeLength   = 4
)

const defaultLobbyIdle = 5 * time.Minute

// Registry owns every live room, keyed by room code.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	// LobbyIdleTimeout bounds how long a never-started room with no live
	// connection may linger. A creator who never opens a websocket leaves
	// no disconnect event behind, so teardown needs a timer.
	LobbyIdleTimeout time.Duration

	logger   *logrus.Logger
	recordFn RecordFunc
	rng      *rand.Rand
}

// NewRegistry builds an empty registry. recordFn may be nil when action
// archival is disabled.
func NewRegistry(logger *logrus.Logger, recordFn RecordFunc) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		rooms:            make(map[string]*Room),
		LobbyIdleTimeout: defaultLobbyIdle,
		logger:           logger,
		recordFn:         recordFn,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoom allocates a room under a fresh unique code.
func (reg *Registry) CreateRoom() *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var code string
	for {
		code = reg.newCode()
		if _, exists := reg.rooms[code]; !exists {
			break
		}
	}
	room := NewRoom(code, reg.logger)
	room.RecordFn = reg.recordFn
	reg.rooms[code] = room
	reg.logger.Infof("created room %s", code)

	if d := reg.LobbyIdleTimeout; d > 0 {
		time.AfterFunc(d, func() {
			if room.lobbyAbandoned() {
				reg.logger.Infof("reaping abandoned lobby %s", code)
				reg.DeleteRoom(code)
			}
		})
	}
	return room
}

// GetRoom resolves a room code, ignoring case and surrounding whitespace.
func (reg *Registry) GetRoom(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return room, ok
}

// DeleteRoom drops a room from the registry. Called when the last player
// leaves a lobby.
func (reg *Registry) DeleteRoom(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[code]; ok {
		delete(reg.rooms, code)
		reg.logger.Infof("deleted room %s", code)
	}
}

// RoomCount reports the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

func (reg *Registry) newCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[reg.rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}
