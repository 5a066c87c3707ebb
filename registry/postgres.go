package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresSchema creates the tables PostgresStore and the Postgres credential
// and reset repositories expect. The partial unique index enforces at most
// one unrevoked refresh token per session.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS credlife_credentials (
	identity_id TEXT PRIMARY KEY,
	digest      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS credlife_sessions (
	id               TEXT PRIMARY KEY,
	identity_id      TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	device_metadata  TEXT,
	ended_at         TIMESTAMPTZ,
	end_reason       TEXT,
	current_token_id TEXT
);
CREATE INDEX IF NOT EXISTS credlife_sessions_identity_active
	ON credlife_sessions (identity_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS credlife_refresh_tokens (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES credlife_sessions (id),
	identity_id   TEXT NOT NULL,
	lookup_key    TEXT NOT NULL UNIQUE,
	digest        TEXT NOT NULL,
	issued_at     TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	revoked_at    TIMESTAMPTZ,
	revoke_reason TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS credlife_refresh_tokens_one_live
	ON credlife_refresh_tokens (session_id) WHERE revoked_at IS NULL;
CREATE INDEX IF NOT EXISTS credlife_refresh_tokens_identity_live
	ON credlife_refresh_tokens (identity_id) WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS credlife_password_resets (
	id          TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL,
	secret_hash BYTEA NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

const sessionColumns = `id, identity_id, created_at, last_activity_at, is_active,
	COALESCE(device_metadata, ''), ended_at, COALESCE(end_reason, ''), COALESCE(current_token_id, '')`

const tokenColumns = `id, session_id, identity_id, lookup_key, digest, issued_at, expires_at,
	revoked_at, COALESCE(revoke_reason, '')`

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a Store on PostgreSQL. Rotation serializes on the session
// row (SELECT ... FOR UPDATE) and revokes with a conditional UPDATE.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session, tok RefreshToken) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO credlife_sessions (id, identity_id, created_at, last_activity_at, is_active, device_metadata, current_token_id)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
	`, sess.ID, sess.IdentityID, sess.CreatedAt, sess.LastActivityAt, sess.DeviceMetadata, tok.ID); err != nil {
		return unavailable(err)
	}
	if err := insertToken(ctx, tx, tok); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func insertToken(ctx context.Context, tx pgx.Tx, tok RefreshToken) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO credlife_refresh_tokens (id, session_id, identity_id, lookup_key, digest, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tok.ID, tok.SessionID, tok.IdentityID, tok.LookupKey, tok.Digest, tok.IssuedAt, tok.ExpiresAt); err != nil {
		return unavailable(err)
	}
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.IdentityID,
		&sess.CreatedAt,
		&sess.LastActivityAt,
		&sess.Active,
		&sess.DeviceMetadata,
		&sess.EndedAt,
		&sess.EndReason,
		&sess.CurrentTokenID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, unavailable(err)
	}
	return sess, nil
}

func (s *PostgresStore) Session(ctx context.Context, sessionID string) (Session, error) {
	return scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM credlife_sessions WHERE id = $1`, sessionID))
}

func (s *PostgresStore) RefreshTokenByLookup(ctx context.Context, lookupKey string) (RefreshToken, error) {
	var tok RefreshToken
	err := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM credlife_refresh_tokens WHERE lookup_key = $1`, lookupKey).Scan(
		&tok.ID,
		&tok.SessionID,
		&tok.IdentityID,
		&tok.LookupKey,
		&tok.Digest,
		&tok.IssuedAt,
		&tok.ExpiresAt,
		&tok.RevokedAt,
		&tok.RevokeReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return RefreshToken{}, unavailable(err)
	}
	return tok, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, req RotateRequest) (Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Session{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM credlife_sessions WHERE id = $1 FOR UPDATE`,
		req.Presented.SessionID))
	if err != nil {
		return Session{}, err
	}
	if !sess.Active {
		return Session{}, ErrAlreadyRevoked
	}

	tag, err := tx.Exec(ctx, `
		UPDATE credlife_refresh_tokens
		SET revoked_at = $2, revoke_reason = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, req.Presented.ID, req.Now, ReasonRotated)
	if err != nil {
		return Session{}, unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return Session{}, ErrAlreadyRevoked
	}

	if req.Precheck != nil {
		if err := req.Precheck(ctx, sess); err != nil {
			return Session{}, err
		}
	}

	if err := insertToken(ctx, tx, req.Next); err != nil {
		return Session{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE credlife_sessions
		SET last_activity_at = $2, current_token_id = $3
		WHERE id = $1
	`, sess.ID, req.Now, req.Next.ID); err != nil {
		return Session{}, unavailable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Session{}, unavailable(err)
	}

	sess.LastActivityAt = req.Now
	sess.CurrentTokenID = req.Next.ID
	return sess, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, sessionID string, now time.Time, reason string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE credlife_sessions
		SET is_active = FALSE, ended_at = $2, end_reason = $3
		WHERE id = $1 AND is_active
	`, sessionID, now, reason)
	if err != nil {
		return false, unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE credlife_refresh_tokens
		SET revoked_at = $2, revoke_reason = $3
		WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID, now, reason); err != nil {
		return false, unavailable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, unavailable(err)
	}
	return true, nil
}

func (s *PostgresStore) RevokeAllForIdentity(ctx context.Context, identityID string, now time.Time, reason string) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE credlife_sessions
		SET is_active = FALSE, ended_at = $2, end_reason = $3
		WHERE identity_id = $1 AND is_active
		RETURNING id
	`, identityID, now, reason)
	if err != nil {
		return nil, unavailable(err)
	}
	var revoked []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, unavailable(err)
		}
		revoked = append(revoked, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE credlife_refresh_tokens
		SET revoked_at = $2, revoke_reason = $3
		WHERE identity_id = $1 AND revoked_at IS NULL
	`, identityID, now, reason); err != nil {
		return nil, unavailable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err)
	}
	return revoked, nil
}

func (s *PostgresStore) ActiveSessions(ctx context.Context, identityID string) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM credlife_sessions
		WHERE identity_id = $1 AND is_active
		ORDER BY created_at
	`, identityID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
