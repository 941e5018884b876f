// internal/models/round.go
package models

import "time"

// RoundStatus is the per-round lifecycle. Transitions only move forward:
// pending -> active -> completed.
type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// Round is one timed typing exercise within a competition.
type Round struct {
	Number   int         `json:"number"` // 1-based ordinal
	Text     string      `json:"text"`   // prompt the participants type
	Duration int         `json:"duration"` // target duration in seconds
	Status   RoundStatus `json:"status"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Results []*RoundResult `json:"results"`
	Stats   RoundStats     `json:"stats"`
}

// RoundResult is one participant's submission for a round.
type RoundResult struct {
	Name        string    `json:"name"`
	WPM         float64   `json:"wpm"`
	Accuracy    float64   `json:"accuracy"` // percent, 0..100
	SubmittedAt time.Time `json:"submitted_at"`
}

// RoundStats are derived from the result set and nothing else. The live
// session keeps them updated incrementally per submission; ComputeRoundStats
// recomputes them from scratch and must always agree.
type RoundStats struct {
	ParticipantsCompleted int     `json:"participants_completed"`
	HighestWPM            float64 `json:"highest_wpm"`
	LowestWPM             float64 `json:"lowest_wpm"`
	AverageWPM            float64 `json:"average_wpm"`
	AverageAccuracy       float64 `json:"average_accuracy"`
}

// ComputeRoundStats folds a result set into its aggregate statistics.
// All fields are zero when no results were submitted.
func ComputeRoundStats(results []*RoundResult) RoundStats {
	var s RoundStats
	if len(results) == 0 {
		return s
	}
	var sumWPM, sumAcc float64
	s.HighestWPM = results[0].WPM
	s.LowestWPM = results[0].WPM
	for _, r := range results {
		if r.WPM > s.HighestWPM {
			s.HighestWPM = r.WPM
		}
		if r.WPM < s.LowestWPM {
			s.LowestWPM = r.WPM
		}
		sumWPM += r.WPM
		sumAcc += r.Accuracy
	}
	s.ParticipantsCompleted = len(results)
	s.AverageWPM = sumWPM / float64(len(results))
	s.AverageAccuracy = sumAcc / float64(len(results))
	return s
}
