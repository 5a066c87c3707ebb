package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var createCredentialScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "digest", ARGV[1], "created_at", ARGV[2], "updated_at", ARGV[2])
return 1
`)

// Returns -1 when missing, 0 on digest mismatch, 1 when swapped.
var swapCredentialScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "digest")
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "digest", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// RedisRepository stores each credential as a hash under "<prefix>:cred:<identity>".
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "cl"
	}
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisRepository) key(identityID string) string {
	return r.prefix + ":cred:" + identityID
}

func (r *RedisRepository) Get(ctx context.Context, identityID string) (Credential, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key(identityID)).Result()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) == 0 || vals["digest"] == "" {
		return Credential{}, ErrNotFound
	}
	return Credential{
		IdentityID: identityID,
		Digest:     vals["digest"],
		CreatedAt:  parseUnixNano(vals["created_at"]),
		UpdatedAt:  parseUnixNano(vals["updated_at"]),
	}, nil
}

func (r *RedisRepository) Create(ctx context.Context, c Credential) error {
	res, err := createCredentialScript.Run(ctx, r.rdb, []string{r.key(c.IdentityID)},
		c.Digest, strconv.FormatInt(c.CreatedAt.UnixNano(), 10)).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrExists
	}
	return nil
}

func (r *RedisRepository) Swap(ctx context.Context, identityID, expectedDigest, newDigest string, at time.Time) error {
	res, err := swapCredentialScript.Run(ctx, r.rdb, []string{r.key(identityID)},
		expectedDigest, newDigest, strconv.FormatInt(at.UnixNano(), 10)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrConflict
	default:
		return nil
	}
}

func parseUnixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
