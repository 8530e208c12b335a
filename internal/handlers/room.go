// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Codexace/skull-multiplayer/internal/auth"
	"github.com/Codexace/skull-multiplayer/internal/game"
)

// RoomServer bundles the room registry with the handler dependencies.
type RoomServer struct {
	Registry *game.Registry
	Logger   *logrus.Logger
}

func NewRoomServer(registry *game.Registry, logger *logrus.Logger) *RoomServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RoomServer{Registry: registry, Logger: logger}
}

// PingHandler answers health checks.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// CreateRoomHandler allocates a new room and seats the caller as its
// host. The guest identity cookie is set as a side effect, so the
// follow-up websocket connect carries the same player ID.
//
// POST /room/create  {"name": "..."}  ->  {"code": "XXXX"}
func (rs *RoomServer) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	name, err := game.NormalizeName(req.Name)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_name", "display name must be 1-16 characters")
		return
	}

	playerID, err := EnsureGuest(w, r)
	if err != nil {
		rs.Logger.Warnf("guest identity failure on room create: %v", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	room := rs.Registry.CreateRoom()
	if err := room.Join(playerID, nil, name); err != nil {
		// Fresh room, so only name validation can fail and that was checked.
		rs.Registry.DeleteRoom(room.Code)
		writeJSONError(w, http.StatusBadRequest, "join_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"code": room.Code})
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

// EnsureGuest resolves the caller's player ID from the auth_token cookie,
// minting a fresh guest identity (and setting the cookie) when the cookie
// is missing or no longer verifies.
func EnsureGuest(w http.ResponseWriter, r *http.Request) (uuid.UUID, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		if sub, err := auth.AuthenticateJWT(token); err == nil {
			if id, err := uuid.Parse(sub); err == nil {
				return id, nil
			}
		}
		// Fall through and mint a fresh identity.
	}

	playerID := uuid.New()
	token, err := auth.CreateJWT(playerID.String())
	if err != nil {
		return uuid.Nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return playerID, nil
}

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}
