// internal/session/conn.go
package session

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// EventType tags an outbound message so clients never see an unchecked shape.
type EventType string

const (
	EventJoinSuccess         EventType = "join_success"
	EventParticipantJoined   EventType = "participant_joined"
	EventParticipantLeft     EventType = "participant_left"
	EventRoundStarted        EventType = "round_started"
	EventRoundEnded          EventType = "round_ended"
	EventResultAck           EventType = "result_ack"
	EventResultProgress      EventType = "result_progress"
	EventCompetitionFinished EventType = "competition_finished"
	EventFinalRankings       EventType = "final_rankings"
	EventError               EventType = "error"
)

// Event is one outbound message to a session's broadcast group.
type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Conn wraps a single connection's presence in a session. The write pump on
// the transport side drains OutChan; the session only ever does non-blocking
// sends into it, so broadcasting never stalls the session mutex.
type Conn struct {
	Handle      uuid.UUID
	Cancel      context.CancelFunc // kills the transport read loop if needed
	OutChan     chan Event
	IsOrganizer bool
}

// Write pushes an event onto the connection's OutChan without blocking.
// Logs if the channel is closed or full and the event is dropped.
func (c *Conn) Write(ev Event) {
	select {
	case c.OutChan <- ev:
	default:
		log.Printf("session Conn Write WARNING: OutChan for %s closed or full. Dropped event type '%s'.", c.Handle, ev.Type)
	}
}

// WriteError is a convenience to send an error event to one connection.
func (c *Conn) WriteError(msg string) {
	c.Write(Event{
		Type:    EventError,
		Payload: map[string]interface{}{"message": msg},
	})
}
