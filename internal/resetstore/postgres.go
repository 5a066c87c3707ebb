package resetstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the Postgres store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores reset records in credlife_password_resets. Consume deletes
// the row before comparing, so any presentation of an id burns it.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Save(ctx context.Context, r Record, _ time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO credlife_password_resets (id, identity_id, secret_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, r.ID, r.IdentityID, r.SecretHash[:], r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Postgres) Consume(ctx context.Context, id string, hash [32]byte, now time.Time) (Record, error) {
	r := Record{ID: id}
	var stored []byte
	err := s.db.QueryRow(ctx, `
		DELETE FROM credlife_password_resets
		WHERE id = $1
		RETURNING identity_id, secret_hash, expires_at
	`, id).Scan(&r.IdentityID, &stored, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !now.Before(r.ExpiresAt) {
		return Record{}, ErrNotFound
	}
	if subtle.ConstantTimeCompare(stored, hash[:]) != 1 {
		return Record{}, ErrSecretMismatch
	}
	copy(r.SecretHash[:], stored)
	return r, nil
}
