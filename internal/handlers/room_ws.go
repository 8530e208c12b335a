// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Codexace/skull-multiplayer/internal/game"
	"github.com/Codexace/skull-multiplayer/internal/middleware"
	"github.com/Codexace/skull-multiplayer/internal/models"
)

const (
	maxChatLen      = 200
	chatMinInterval = 500 * time.Millisecond
	writeTimeout    = 3 * time.Second
)

// GameMessage is the shape of every inbound websocket message. Fields
// beyond Type are action-specific; unused ones are simply omitted.
type GameMessage struct {
	Type   string `json:"type"`
	Amount int    `json:"amount,omitempty"` // start_bid, raise_bid
	Target int    `json:"target,omitempty"` // flip_coaster: seat to flip from
	Index  int    `json:"index,omitempty"`  // place_card, penalty_discard
	Msg    string `json:"msg,omitempty"`    // chat
}

// RoomWSHandler upgrades the connection for a room identified by its code
// in the URL path (/room/ws/{code}) and a display name in the query
// string, joins (or rejoins) the caller, and runs the read loop until the
// connection drops.
func RoomWSHandler(logger *logrus.Logger, rs *RoomServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/room/ws/"), "/")
		if code == "" {
			http.Error(w, "missing room code in path (/room/ws/{code})", http.StatusBadRequest)
			return
		}
		name := r.URL.Query().Get("name")

		playerID, err := EnsureGuest(w, r)
		if err != nil {
			logger.Warnf("guest identity failure on ws connect: %v", err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"skull"},
			OriginPatterns: []string{"*"}, // Tighten for production deployments.
		})
		if err != nil {
			logger.Warnf("websocket accept error for room %s: %v", code, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "internal error")

		if c.Subprotocol() != "skull" {
			c.Close(websocket.StatusCode(BadSubprotocolError), "client must use the 'skull' subprotocol")
			return
		}

		room, ok := rs.Registry.GetRoom(code)
		if !ok {
			c.Close(websocket.StatusCode(RoomNotFoundError), "room not found")
			return
		}

		room.Mu.Lock()
		if room.BroadcastToPlayerFn == nil {
			room.BroadcastToPlayerFn = createBroadcastToPlayerFunc(room, logger)
		}
		room.Mu.Unlock()

		if err := room.Join(playerID, c, name); err != nil {
			c.Close(joinCloseCode(err), err.Error())
			return
		}
		middleware.LogSocketOpen(logger, r.RemoteAddr, room.Code)
		room.SendState(playerID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		readErr := readRoomMessages(ctx, c, room, playerID, logger)

		middleware.LogSocketClose(logger, r.RemoteAddr, room.Code, readErr)
		if empty := room.HandleDisconnect(playerID); empty {
			rs.Registry.DeleteRoom(room.Code)
		}
	}
}

func joinCloseCode(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, game.ErrRoomFull):
		return websocket.StatusCode(RoomFullError)
	case errors.Is(err, game.ErrNameTaken):
		return websocket.StatusCode(NameTakenError)
	case errors.Is(err, game.ErrGameInProgress):
		return websocket.StatusCode(GameInProgressError)
	case errors.Is(err, game.ErrInvalidName):
		return websocket.StatusCode(InvalidNameError)
	}
	return websocket.StatusPolicyViolation
}

// createBroadcastToPlayerFunc builds the room's per-player send function.
// It is invoked with the room lock held, so it must not re-acquire it: it
// resolves the connection from the already-guarded player list and hands
// the marshaled bytes to a goroutine for the actual write.
func createBroadcastToPlayerFunc(room *game.Room, logger *logrus.Logger) func(uuid.UUID, interface{}) {
	return func(targetID uuid.UUID, payload interface{}) {
		var conn *websocket.Conn
		for _, p := range room.Players {
			if p.ID == targetID {
				if p.Connected {
					conn = p.Conn
				}
				break
			}
		}
		if conn == nil {
			return
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.Errorf("failed to marshal payload for player %s in room %s: %v", targetID, room.Code, err)
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				logger.Warnf("failed to write to player %s in room %s: %v", targetID, room.Code, err)
			}
		}()
	}
}

// readRoomMessages reads and routes client messages until the connection
// closes. Game actions run under the room lock; chat and ping do not
// mutate game state.
func readRoomMessages(ctx context.Context, c *websocket.Conn, room *game.Room, playerID uuid.UUID, logger *logrus.Logger) error {
	var lastChat time.Time

	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg GameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warnf("invalid JSON from player %s in room %s: %v", playerID, room.Code, err)
			continue
		}

		switch msg.Type {
		case "ping":
			sendWsMessage(c, map[string]string{"type": "pong"})

		case "chat":
			if time.Since(lastChat) < chatMinInterval {
				continue
			}
			text := sanitizeChat(msg.Msg)
			if text == "" {
				continue
			}
			lastChat = time.Now()
			room.BroadcastChat(playerID, text)

		case "place_card", "start_bid", "raise_bid", "pass", "flip_coaster",
			"penalty_discard", "start_game", "play_again":
			action := models.GameAction{
				ActionType: msg.Type,
				Payload: map[string]interface{}{
					"amount": float64(msg.Amount),
					"target": float64(msg.Target),
					"index":  float64(msg.Index),
				},
			}
			room.Mu.Lock()
			room.HandlePlayerAction(playerID, action)
			room.Mu.Unlock()

		default:
			logger.Debugf("unknown message type %q from player %s in room %s", msg.Type, playerID, room.Code)
		}
	}
}

// sanitizeChat strips control characters and caps the message length.
func sanitizeChat(msg string) string {
	msg = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, msg)
	msg = strings.TrimSpace(msg)
	if runes := []rune(msg); len(runes) > maxChatLen {
		msg = string(runes[:maxChatLen])
	}
	return msg
}

// sendWsMessage marshals and writes one message with a bounded timeout.
// Write errors are left for the read loop to surface.
func sendWsMessage(c *websocket.Conn, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.Write(ctx, websocket.MessageText, data)
}
