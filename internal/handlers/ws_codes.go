// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes for room join failures. These give the
// client a machine-readable reason for closure before any game traffic.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	RoomNotFoundError   = 3001 // No room under the requested code.
	RoomFullError       = 3002 // Room already holds the maximum number of players.
	NameTakenError      = 3003 // Display name is already used by another seat.
	GameInProgressError = 3004 // Game started and the name matches no disconnected seat.
	InvalidNameError    = 3005 // Display name is empty or too long.
)
