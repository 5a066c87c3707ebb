package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout, all under the configured prefix:
//
//	<p>:sess:<sid>    hash   session fields plus current_token
//	<p>:rt:<tid>      hash   refresh token fields; revoked_at only once revoked
//	<p>:rtl:<lookup>  string refresh token id
//	<p>:ids:<uid>     set    active session ids of an identity
//
// Token and lookup keys expire at the token's expiry plus the retention window,
// so revoked tokens remain detectable as reuse until then. The identity set
// follows its newest session, so an identity that goes quiet ages out whole.

// Returns -1 when the session is missing, 0 when already inactive, 1 when revoked.
var revokeSessionScript = redis.NewScript(`
local active = redis.call("HGET", KEYS[1], "active")
if not active then
	return -1
end
if active ~= "1" then
	return 0
end
redis.call("HSET", KEYS[1], "active", "0", "ended_at", ARGV[2], "end_reason", ARGV[3])
local identity = redis.call("HGET", KEYS[1], "identity_id")
if identity then
	redis.call("SREM", ARGV[5] .. identity, ARGV[1])
end
local current = redis.call("HGET", KEYS[1], "current_token")
if current and current ~= "" then
	local tkey = ARGV[4] .. current
	if redis.call("EXISTS", tkey) == 1 and redis.call("HEXISTS", tkey, "revoked_at") == 0 then
		redis.call("HSET", tkey, "revoked_at", ARGV[2], "revoke_reason", ARGV[3])
	end
end
return 1
`)

// RedisStore is a Store on Redis.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore returns a store writing under prefix. retention extends the
// lifetime of revoked token records past their expiry.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "cl"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *RedisStore) sessionKey(id string) string  { return s.prefix + ":sess:" + id }
func (s *RedisStore) tokenKey(id string) string    { return s.prefix + ":rt:" + id }
func (s *RedisStore) lookupKey(key string) string  { return s.prefix + ":rtl:" + key }
func (s *RedisStore) identityKey(id string) string { return s.prefix + ":ids:" + id }

func (s *RedisStore) CreateSession(ctx context.Context, sess Session, tok RefreshToken) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		sk := s.sessionKey(sess.ID)
		pipe.HSet(ctx, sk, map[string]any{
			"identity_id":      sess.IdentityID,
			"created_at":       unixNano(sess.CreatedAt),
			"last_activity_at": unixNano(sess.LastActivityAt),
			"active":           "1",
			"device":           sess.DeviceMetadata,
			"current_token":    tok.ID,
		})
		pipe.ExpireAt(ctx, sk, tok.ExpiresAt.Add(s.retention))
		s.writeToken(ctx, pipe, tok)
		ik := s.identityKey(sess.IdentityID)
		pipe.SAdd(ctx, ik, sess.ID)
		pipe.ExpireAt(ctx, ik, tok.ExpiresAt.Add(s.retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) writeToken(ctx context.Context, pipe redis.Pipeliner, tok RefreshToken) {
	tk := s.tokenKey(tok.ID)
	until := tok.ExpiresAt.Add(s.retention)
	pipe.HSet(ctx, tk, map[string]any{
		"session_id":  tok.SessionID,
		"identity_id": tok.IdentityID,
		"lookup":      tok.LookupKey,
		"digest":      tok.Digest,
		"issued_at":   unixNano(tok.IssuedAt),
		"expires_at":  unixNano(tok.ExpiresAt),
	})
	pipe.ExpireAt(ctx, tk, until)
	pipe.Set(ctx, s.lookupKey(tok.LookupKey), tok.ID, 0)
	pipe.ExpireAt(ctx, s.lookupKey(tok.LookupKey), until)
}

func (s *RedisStore) Session(ctx context.Context, sessionID string) (Session, error) {
	vals, err := s.rdb.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) == 0 {
		return Session{}, ErrNotFound
	}
	return decodeSession(sessionID, vals), nil
}

func (s *RedisStore) RefreshTokenByLookup(ctx context.Context, lookupKey string) (RefreshToken, error) {
	id, err := s.rdb.Get(ctx, s.lookupKey(lookupKey)).Result()
	if errors.Is(err, redis.Nil) {
		return RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return RefreshToken{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	vals, err := s.rdb.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return RefreshToken{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) == 0 {
		return RefreshToken{}, ErrNotFound
	}
	return decodeToken(id, vals), nil
}

// Rotate uses WATCH on the presented token and its session. Any concurrent
// write to either key, from a competing rotation or a revoke, aborts EXEC and
// is reported as ErrAlreadyRevoked.
func (s *RedisStore) Rotate(ctx context.Context, req RotateRequest) (Session, error) {
	tk := s.tokenKey(req.Presented.ID)
	sk := s.sessionKey(req.Presented.SessionID)

	var (
		sess  Session
		inner error
	)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		sess, inner = s.rotateTx(ctx, tx, req, tk, sk)
		return inner
	}, tk, sk)

	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, redis.TxFailedErr):
		return Session{}, ErrAlreadyRevoked
	case err == inner:
		return Session{}, err
	default:
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (s *RedisStore) rotateTx(ctx context.Context, tx *redis.Tx, req RotateRequest, tk, sk string) (Session, error) {
	tokVals, err := tx.HGetAll(ctx, tk).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(tokVals) == 0 {
		return Session{}, ErrNotFound
	}
	if decodeToken(req.Presented.ID, tokVals).Revoked() {
		return Session{}, ErrAlreadyRevoked
	}

	sessVals, err := tx.HGetAll(ctx, sk).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(sessVals) == 0 {
		return Session{}, ErrNotFound
	}
	sess := decodeSession(req.Presented.SessionID, sessVals)
	if !sess.Active || sess.CurrentTokenID != req.Presented.ID {
		return Session{}, ErrAlreadyRevoked
	}

	if req.Precheck != nil {
		if err := req.Precheck(ctx, sess); err != nil {
			return Session{}, err
		}
	}

	now := unixNano(req.Now)
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tk, "revoked_at", now, "revoke_reason", ReasonRotated)
		s.writeToken(ctx, pipe, req.Next)
		pipe.HSet(ctx, sk, "current_token", req.Next.ID, "last_activity_at", now)
		pipe.ExpireAt(ctx, sk, req.Next.ExpiresAt.Add(s.retention))
		pipe.ExpireAt(ctx, s.identityKey(sess.IdentityID), req.Next.ExpiresAt.Add(s.retention))
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess.CurrentTokenID = req.Next.ID
	sess.LastActivityAt = req.Now
	return sess, nil
}

func (s *RedisStore) RevokeSession(ctx context.Context, sessionID string, now time.Time, reason string) (bool, error) {
	res, err := revokeSessionScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID)},
		sessionID,
		unixNano(now),
		reason,
		s.prefix+":rt:",
		s.prefix+":ids:",
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// RevokeAllForIdentity revokes sessions one by one. Each revoke is atomic,
// and every session of the identity is visited.
func (s *RedisStore) RevokeAllForIdentity(ctx context.Context, identityID string, now time.Time, reason string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := s.RevokeSession(ctx, id, now, reason)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked = append(revoked, id)
		} else {
			s.rdb.SRem(ctx, s.identityKey(identityID), id)
		}
	}
	return revoked, nil
}

func (s *RedisStore) ActiveSessions(ctx context.Context, identityID string) ([]Session, error) {
	ik := s.identityKey(identityID)
	ids, err := s.rdb.SMembers(ctx, ik).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Session, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			// Expired naturally; drop the stale index entry.
			s.rdb.SRem(ctx, ik, ids[i])
			continue
		}
		if sess := decodeSession(ids[i], vals); sess.Active {
			out = append(out, sess)
		}
	}
	return out, nil
}

func decodeSession(id string, v map[string]string) Session {
	sess := Session{
		ID:             id,
		IdentityID:     v["identity_id"],
		CreatedAt:      parseUnixNano(v["created_at"]),
		LastActivityAt: parseUnixNano(v["last_activity_at"]),
		Active:         v["active"] == "1",
		DeviceMetadata: v["device"],
		EndReason:      v["end_reason"],
		CurrentTokenID: v["current_token"],
	}
	if raw, ok := v["ended_at"]; ok {
		t := parseUnixNano(raw)
		sess.EndedAt = &t
	}
	return sess
}

func decodeToken(id string, v map[string]string) RefreshToken {
	tok := RefreshToken{
		ID:           id,
		SessionID:    v["session_id"],
		IdentityID:   v["identity_id"],
		LookupKey:    v["lookup"],
		Digest:       v["digest"],
		IssuedAt:     parseUnixNano(v["issued_at"]),
		ExpiresAt:    parseUnixNano(v["expires_at"]),
		RevokeReason: v["revoke_reason"],
	}
	if raw, ok := v["revoked_at"]; ok {
		t := parseUnixNano(raw)
		tok.RevokedAt = &t
	}
	return tok
}

func unixNano(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseUnixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
