// internal/session/ranking.go
package session

import (
	"sort"

	"github.com/typerace/typerace/internal/models"
)

// ComputeRankings folds every entrant who submitted at least one result into
// the final standings. The order is fully deterministic: descending aggregate
// score, ties broken by earlier join time, then by name. Ranks are a
// contiguous 1-based sequence; tied scores still receive distinct ranks.
func ComputeRankings(entrants []*models.Participant) []*models.RankingEntry {
	type scored struct {
		p     *models.Participant
		score float64
	}

	ranked := make([]scored, 0, len(entrants))
	for _, p := range entrants {
		if len(p.Results) == 0 {
			continue
		}
		ranked = append(ranked, scored{p: p, score: p.Score()})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.p.JoinedAt.Equal(b.p.JoinedAt) {
			return a.p.JoinedAt.Before(b.p.JoinedAt)
		}
		return a.p.Name < b.p.Name
	})

	entries := make([]*models.RankingEntry, len(ranked))
	for i, r := range ranked {
		entries[i] = &models.RankingEntry{
			Rank:            i + 1,
			Name:            r.p.Name,
			Score:           r.score,
			RoundsCompleted: len(r.p.Results),
		}
	}
	return entries
}
