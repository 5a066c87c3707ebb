package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by the Postgres repositories.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores credentials in the credlife_credentials table.
type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, identityID string) (Credential, error) {
	c := Credential{IdentityID: identityID}
	err := r.db.QueryRow(ctx, `
		SELECT digest, created_at, updated_at
		FROM credlife_credentials
		WHERE identity_id = $1
	`, identityID).Scan(&c.Digest, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, c Credential) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO credlife_credentials (identity_id, digest, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (identity_id) DO NOTHING
	`, c.IdentityID, c.Digest, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (r *PostgresRepository) Swap(ctx context.Context, identityID, expectedDigest, newDigest string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE credlife_credentials
		SET digest = $3, updated_at = $4
		WHERE identity_id = $1 AND digest = $2
	`, identityID, expectedDigest, newDigest, at)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		if _, err := r.Get(ctx, identityID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}
