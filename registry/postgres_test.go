package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionCols = []string{"id", "identity_id", "created_at", "last_activity_at", "is_active", "device_metadata", "ended_at", "end_reason", "current_token_id"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sessionRow(active bool, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(sessionCols).
		AddRow("s1", "u1", now, now, active, "ua", (*time.Time)(nil), "", "t1")
}

func rotateRequest(now time.Time) RotateRequest {
	return RotateRequest{
		Presented: RefreshToken{ID: "t1", SessionID: "s1", IdentityID: "u1"},
		Next: RefreshToken{
			ID: "t2", SessionID: "s1", IdentityID: "u1",
			LookupKey: "lk2", Digest: "d2", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		},
		Now: now,
	}
}

func TestPostgresStore_Rotate(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ineligible := errors.New("suspended")

	tests := []struct {
		name      string
		active    bool
		affected  int64
		precheck  error
		wantErr   error
		wantWrite bool
	}{
		{name: "rotated", active: true, affected: 1, wantWrite: true},
		{name: "session inactive", active: false, wantErr: ErrAlreadyRevoked},
		{name: "lost race", active: true, affected: 0, wantErr: ErrAlreadyRevoked},
		{name: "precheck rejects", active: true, affected: 1, precheck: ineligible, wantErr: ineligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)

			mock.ExpectBegin()
			mock.ExpectQuery("FROM credlife_sessions WHERE id = \\$1 FOR UPDATE").
				WithArgs("s1").
				WillReturnRows(sessionRow(tt.active, now))
			if tt.active {
				mock.ExpectExec("UPDATE credlife_refresh_tokens").
					WithArgs("t1", now, ReasonRotated).
					WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))
			}
			if tt.wantWrite {
				mock.ExpectExec("INSERT INTO credlife_refresh_tokens").
					WithArgs("t2", "s1", "u1", "lk2", "d2", now, now.Add(time.Hour)).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec("UPDATE credlife_sessions").
					WithArgs("s1", now, "t2").
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			req := rotateRequest(now)
			req.Precheck = func(context.Context, Session) error { return tt.precheck }

			sess, err := NewPostgresStore(mock).Rotate(context.Background(), req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "t2", sess.CurrentTokenID)
				assert.Equal(t, now, sess.LastActivityAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_RevokeSession(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("active session", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE credlife_sessions").
			WithArgs("s1", now, ReasonLogout).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("UPDATE credlife_refresh_tokens").
			WithArgs("s1", now, ReasonLogout).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		ok, err := NewPostgresStore(mock).RevokeSession(context.Background(), "s1", now, ReasonLogout)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already revoked", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE credlife_sessions").
			WithArgs("s1", now, ReasonLogout).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		ok, err := NewPostgresStore(mock).RevokeSession(context.Background(), "s1", now, ReasonLogout)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_RevokeAllForIdentity(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("RETURNING id").
		WithArgs("u1", now, ReasonLogoutAll).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2"))
	mock.ExpectExec("UPDATE credlife_refresh_tokens").
		WithArgs("u1", now, ReasonLogoutAll).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	ids, err := NewPostgresStore(mock).RevokeAllForIdentity(context.Background(), "u1", now, ReasonLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RefreshTokenByLookup(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	revoked := now.Add(time.Minute)
	mock := newMock(t)

	cols := []string{"id", "session_id", "identity_id", "lookup_key", "digest", "issued_at", "expires_at", "revoked_at", "revoke_reason"}
	mock.ExpectQuery("FROM credlife_refresh_tokens WHERE lookup_key").
		WithArgs("lk1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("t1", "s1", "u1", "lk1", "d1", now, now.Add(time.Hour), &revoked, ReasonRotated))
	mock.ExpectQuery("FROM credlife_refresh_tokens WHERE lookup_key").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	store := NewPostgresStore(mock)
	tok, err := store.RefreshTokenByLookup(context.Background(), "lk1")
	require.NoError(t, err)
	assert.True(t, tok.Revoked())
	assert.Equal(t, ReasonRotated, tok.RevokeReason)

	_, err = store.RefreshTokenByLookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSessionFailureRollsBack(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credlife_sessions").
		WithArgs("s1", "u1", now, now, "ua", "t1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := NewPostgresStore(mock).CreateSession(context.Background(),
		Session{ID: "s1", IdentityID: "u1", CreatedAt: now, LastActivityAt: now, DeviceMetadata: "ua"},
		RefreshToken{ID: "t1", SessionID: "s1", IdentityID: "u1"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
