// internal/database/store.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/typerace/typerace/internal/models"
)

// Store adapts the database package to the interface the live session engine
// writes through. All methods are safe for concurrent use; the sessions call
// them from background goroutines off their critical path.
type Store struct{}

// NewStore returns the pgx-backed session store. ConnectDB must have run.
func NewStore() *Store {
	return &Store{}
}

// SaveRoundSnapshot upserts one completed (or in-flight) round's state and
// keeps the parent competition's cursor columns in sync.
func (st *Store) SaveRoundSnapshot(ctx context.Context, competitionID uuid.UUID, round *models.Round) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to marshal round %d snapshot: %w", round.Number, err)
	}

	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
		INSERT INTO round_snapshots (competition_id, round_number, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (competition_id, round_number)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		`
		if _, e := tx.Exec(ctx, q, competitionID, round.Number, data); e != nil {
			return e
		}

		// Mirror the live cursor onto the competition row. round.Number is
		// 1-based; the cursor is the 0-based index of the latest round.
		upd := `
		UPDATE competitions
		SET status = 'active',
		    current_round = GREATEST(current_round, $2),
		    rounds_completed = rounds_completed + CASE WHEN $3 THEN 1 ELSE 0 END
		WHERE id = $1
		`
		_, e := tx.Exec(ctx, upd, competitionID, round.Number-1, round.Status == models.RoundCompleted)
		return e
	})
}

// SaveFinalRankings stores the final standings and marks the competition
// completed.
func (st *Store) SaveFinalRankings(ctx context.Context, competitionID uuid.UUID, rankings []*models.RankingEntry) error {
	data, err := json.Marshal(rankings)
	if err != nil {
		return fmt.Errorf("failed to marshal final rankings: %w", err)
	}
	q := `
	UPDATE competitions
	SET final_rankings = $1, status = 'completed'
	WHERE id = $2
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, data, competitionID)
		return e
	})
}

// CreateParticipantRecord appends a durable row for a participant joining a
// session. Rejoin under the same name creates a fresh row; the live engine
// treats it as a new entrant.
func (st *Store) CreateParticipantRecord(ctx context.Context, competitionID uuid.UUID, name string, handle uuid.UUID) error {
	q := `
	INSERT INTO participants (competition_id, name, handle, joined_at)
	VALUES ($1, $2, $3, NOW())
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, competitionID, name, handle)
		return e
	})
}
