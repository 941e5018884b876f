// internal/models/participant.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one connected entrant in a live session. Handle is the
// connection identity; Name is the display name chosen at join, unique
// (case-sensitive) among connected participants for the session's lifetime.
type Participant struct {
	Handle   uuid.UUID `json:"handle"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`

	// Results maps round number -> submitted result. A participant who
	// disconnects and rejoins under the same name starts a fresh entry;
	// results are never reattached.
	Results map[int]*RoundResult `json:"results"`
}

// Score is the participant's aggregate across every round they submitted:
// the sum of WPM weighted by the accuracy fraction.
func (p *Participant) Score() float64 {
	var total float64
	for _, r := range p.Results {
		total += r.WPM * (r.Accuracy / 100)
	}
	return total
}
