// internal/database/competition.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/typerace/typerace/internal/cache"
	"github.com/typerace/typerace/internal/joincode"
	"github.com/typerace/typerace/internal/models"
)

// ErrCompetitionNotFound is returned when no competition matches the given
// id or join code.
var ErrCompetitionNotFound = errors.New("competition not found")

// codeGenAttempts bounds the collision-check loop at creation. Six
// characters over a 31-symbol alphabet make collisions rare; hitting the cap
// means something is very wrong.
const codeGenAttempts = 10

// CreateCompetition persists a new competition with its rounds (all pending)
// and a freshly generated, collision-checked join code. The code is written
// back onto comp.
func CreateCompetition(ctx context.Context, comp *models.Competition) error {
	if comp.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate competition id: %w", err)
		}
		comp.ID = id
	}
	comp.Status = models.CompetitionPending
	comp.CurrentRound = -1
	comp.RoundsCompleted = 0

	code, err := generateUniqueCode(ctx)
	if err != nil {
		return err
	}
	comp.Code = code

	roundsJSON, err := json.Marshal(comp.Rounds)
	if err != nil {
		return fmt.Errorf("failed to marshal rounds: %w", err)
	}

	q := `
	INSERT INTO competitions
		(id, name, description, code, organizer_id, status, rounds, current_round, rounds_completed, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`
	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q,
			comp.ID, comp.Name, comp.Description, comp.Code, comp.OrganizerID,
			comp.Status, roundsJSON, comp.CurrentRound, comp.RoundsCompleted,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to insert competition: %w", err)
	}

	if err := cache.CacheCompetitionCode(ctx, comp.Code, comp.ID); err != nil {
		log.Printf("failed to cache join code %s: %v", comp.Code, err)
	}
	return nil
}

// generateUniqueCode draws join codes until one doesn't collide with an
// existing competition.
func generateUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeGenAttempts; i++ {
		code, err := joincode.Generate()
		if err != nil {
			return "", err
		}
		var exists bool
		err = DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM competitions WHERE code=$1)`, code).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check join code collision: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique join code after %d attempts", codeGenAttempts)
}

// GetCompetitionByID loads a full competition record, rounds included. This
// is the loader the session directory blocks on.
func GetCompetitionByID(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	var (
		comp         models.Competition
		roundsJSON   []byte
		rankingsJSON []byte
	)
	q := `
	SELECT id, name, description, code, organizer_id, status,
	       rounds, current_round, rounds_completed, final_rankings, created_at
	FROM competitions
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&comp.ID, &comp.Name, &comp.Description, &comp.Code, &comp.OrganizerID, &comp.Status,
		&roundsJSON, &comp.CurrentRound, &comp.RoundsCompleted, &rankingsJSON, &comp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roundsJSON, &comp.Rounds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rounds for competition %s: %w", id, err)
	}
	if len(rankingsJSON) > 0 {
		if err := json.Unmarshal(rankingsJSON, &comp.FinalRankings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rankings for competition %s: %w", id, err)
		}
	}
	return &comp, nil
}

// ResolveCode maps a join code to a competition ID, checking the Redis cache
// before Postgres.
func ResolveCode(ctx context.Context, code string) (uuid.UUID, error) {
	if id, ok := cache.LookupCompetitionCode(ctx, code); ok {
		return id, nil
	}

	var id uuid.UUID
	err := DB.QueryRow(ctx, `SELECT id FROM competitions WHERE code=$1`, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrCompetitionNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}

	if err := cache.CacheCompetitionCode(ctx, code, id); err != nil {
		log.Printf("failed to cache join code %s: %v", code, err)
	}
	return id, nil
}

// CompetitionSummary is the public shape returned for a code lookup.
type CompetitionSummary struct {
	ID              uuid.UUID                `json:"id"`
	Name            string                   `json:"name"`
	Code            string                   `json:"code"`
	Status          models.CompetitionStatus `json:"status"`
	RoundCount      int                      `json:"round_count"`
	RoundsCompleted int                      `json:"rounds_completed"`
	Participants    int                      `json:"participants"`
	CurrentRound    int                      `json:"current_round"`
}

// GetCompetitionSummaryByCode returns the public summary for a join code.
func GetCompetitionSummaryByCode(ctx context.Context, code string) (*CompetitionSummary, error) {
	var (
		s          CompetitionSummary
		roundsJSON []byte
	)
	q := `
	SELECT id, name, code, status, rounds, current_round, rounds_completed
	FROM competitions
	WHERE code=$1
	`
	err := DB.QueryRow(ctx, q, code).Scan(
		&s.ID, &s.Name, &s.Code, &s.Status, &roundsJSON, &s.CurrentRound, &s.RoundsCompleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, err
	}

	var rounds []*models.Round
	if err := json.Unmarshal(roundsJSON, &rounds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rounds for code %s: %w", code, err)
	}
	s.RoundCount = len(rounds)

	if err := DB.QueryRow(ctx, `SELECT COUNT(*) FROM participants WHERE competition_id=$1`, s.ID).Scan(&s.Participants); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListCompetitionsByOrganizer returns an organizer's competitions, newest
// first, capped at 50.
func ListCompetitionsByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]*CompetitionSummary, error) {
	q := `
	SELECT id, name, code, status, rounds, current_round, rounds_completed
	FROM competitions
	WHERE organizer_id=$1
	ORDER BY created_at DESC
	LIMIT 50
	`
	rows, err := DB.Query(ctx, q, organizerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CompetitionSummary
	for rows.Next() {
		var (
			s          CompetitionSummary
			roundsJSON []byte
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Code, &s.Status, &roundsJSON, &s.CurrentRound, &s.RoundsCompleted); err != nil {
			return nil, err
		}
		var rounds []*models.Round
		if err := json.Unmarshal(roundsJSON, &rounds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rounds for competition %s: %w", s.ID, err)
		}
		s.RoundCount = len(rounds)
		out = append(out, &s)
	}
	return out, rows.Err()
}
