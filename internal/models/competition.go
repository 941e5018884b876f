// internal/models/competition.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// CompetitionStatus tracks the overall lifecycle of a competition.
type CompetitionStatus string

const (
	CompetitionPending   CompetitionStatus = "pending"
	CompetitionActive    CompetitionStatus = "active"
	CompetitionCompleted CompetitionStatus = "completed"
)

// Competition represents a row in the competitions table plus its ordered rounds.
// CurrentRound is -1 until the organizer starts the first round.
type Competition struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Code        string            `json:"code"`
	OrganizerID uuid.UUID         `json:"organizer_id"`
	Status      CompetitionStatus `json:"status"`

	Rounds          []*Round        `json:"rounds"`
	CurrentRound    int             `json:"current_round"`
	RoundsCompleted int             `json:"rounds_completed"`
	FinalRankings   []*RankingEntry `json:"final_rankings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RankingEntry is one row of a competition's final standings.
// Rank is 1-based and strictly ordered: ties in score are broken by join
// time, then name, so no two entries share a rank.
type RankingEntry struct {
	Rank            int     `json:"rank"`
	Name            string  `json:"name"`
	Score           float64 `json:"score"`
	RoundsCompleted int     `json:"rounds_completed"`
}
