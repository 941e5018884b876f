// internal/models/round_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeRoundStats(t *testing.T) {
	results := []*RoundResult{
		{Name: "Ada", WPM: 60, Accuracy: 95},
		{Name: "Grace", WPM: 80, Accuracy: 90},
		{Name: "Edsger", WPM: 40, Accuracy: 100},
	}

	s := ComputeRoundStats(results)
	assert.Equal(t, 3, s.ParticipantsCompleted)
	assert.InDelta(t, 80, s.HighestWPM, 1e-9)
	assert.InDelta(t, 40, s.LowestWPM, 1e-9)
	assert.InDelta(t, 60, s.AverageWPM, 1e-9)
	assert.InDelta(t, 95, s.AverageAccuracy, 1e-9)
}

func TestComputeRoundStatsEmpty(t *testing.T) {
	assert.Equal(t, RoundStats{}, ComputeRoundStats(nil))
	assert.Equal(t, RoundStats{}, ComputeRoundStats([]*RoundResult{}))
}

func TestComputeRoundStatsSingle(t *testing.T) {
	s := ComputeRoundStats([]*RoundResult{{Name: "Ada", WPM: 72.5, Accuracy: 98.2}})
	assert.Equal(t, 1, s.ParticipantsCompleted)
	assert.InDelta(t, 72.5, s.HighestWPM, 1e-9)
	assert.InDelta(t, 72.5, s.LowestWPM, 1e-9)
	assert.InDelta(t, 72.5, s.AverageWPM, 1e-9)
	assert.InDelta(t, 98.2, s.AverageAccuracy, 1e-9)
}

func TestParticipantScore(t *testing.T) {
	p := &Participant{Results: map[int]*RoundResult{
		1: {WPM: 60, Accuracy: 95},
		2: {WPM: 65, Accuracy: 100},
	}}
	assert.InDelta(t, 122.0, p.Score(), 1e-9)

	empty := &Participant{Results: map[int]*RoundResult{}}
	assert.Zero(t, empty.Score())
}
