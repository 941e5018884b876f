package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/typerace/typerace/internal/auth"
	"github.com/typerace/typerace/internal/models"
)

func CreateOrganizer(ctx context.Context, org *models.Organizer) error {
	if org.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate organizer id: %w", err)
		}
		org.ID = id
	}
	org.Email = strings.ToLower(org.Email)

	hash, err := auth.CreateHash(org.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	org.Password = hash
	org.CreatedAt = time.Now()

	q := `INSERT INTO organizers (id, name, email, password, created_at)
	      VALUES ($1, $2, $3, $4, $5)`

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			org.ID, org.Name, org.Email, org.Password, org.CreatedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert organizer: %w", err)
	}
	return nil
}

func GetOrganizerByEmail(ctx context.Context, email string) (*models.Organizer, error) {
	var o models.Organizer
	q := `
	SELECT id, name, email, password, created_at, last_login
	FROM organizers
	WHERE email=$1
	`
	err := DB.QueryRow(ctx, q, strings.ToLower(email)).Scan(
		&o.ID, &o.Name, &o.Email, &o.Password, &o.CreatedAt, &o.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func GetOrganizerByID(ctx context.Context, id uuid.UUID) (*models.Organizer, error) {
	var o models.Organizer
	q := `
	SELECT id, name, email, password, created_at, last_login
	FROM organizers
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&o.ID, &o.Name, &o.Email, &o.Password, &o.CreatedAt, &o.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// AuthenticateOrganizer verifies credentials, stamps last_login, and returns
// a signed JWT for the organizer.
func AuthenticateOrganizer(ctx context.Context, email, password string) (string, error) {
	org, err := GetOrganizerByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("organizer not found or db error: %w", err)
	}

	match, err := auth.ComparePasswordAndHash(password, org.Password)
	if err != nil || !match {
		return "", fmt.Errorf("invalid credentials")
	}

	if err := TouchLastLogin(ctx, org.ID); err != nil {
		// Non-fatal: a failed last_login stamp must not block the login.
		log.Printf("failed to update last_login for organizer %s: %v", org.ID, err)
	}

	token, err := auth.CreateJWT(org.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to create jwt: %w", err)
	}

	return token, nil
}

// TouchLastLogin stamps the organizer's last successful login time.
func TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE organizers SET last_login = NOW() WHERE id = $1`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, id)
		return err
	})
}
