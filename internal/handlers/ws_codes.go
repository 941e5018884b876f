// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used within the competition handlers.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError     = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError   = 3001 // Provided auth token was invalid or expired (used if auth fails before standard HTTP response).
	InvalidOrganizerIDError = 3002 // Organizer ID derived from token was malformed or invalid.
	InvalidCompetitionError = 3003 // Target competition code in the WS URL does not exist or is invalid.
)
