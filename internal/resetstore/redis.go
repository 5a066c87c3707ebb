package resetstore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordVersionV1 = 1

// Redis stores reset records as compact binary values with a TTL.
type Redis struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
}

// NewRedis returns a Redis store. A record is deleted after maxAttempts
// mismatched secrets.
func NewRedis(redisClient redis.UniversalClient, prefix string, maxAttempts int) *Redis {
	if prefix == "" {
		prefix = "cl"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Redis{redis: redisClient, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *Redis) key(id string) string { return s.prefix + ":pwr:" + id }

func (s *Redis) Save(ctx context.Context, r Record, now time.Time) error {
	ttl := r.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return errors.New("reset record already expired")
	}
	encoded, err := encodeRecord(r)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(r.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) Consume(ctx context.Context, id string, hash [32]byte, now time.Time) (Record, error) {
	const maxRetries = 4
	key := s.key(id)

	del := func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		var matched Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			r, err := decodeRecord(id, data)
			if err != nil {
				return err
			}

			if !now.Before(r.ExpiresAt) {
				if err := del(tx); err != nil {
					return err
				}
				return ErrNotFound
			}

			if subtle.ConstantTimeCompare(r.SecretHash[:], hash[:]) != 1 {
				r.Attempts++
				if int(r.Attempts) >= s.maxAttempts {
					if err := del(tx); err != nil {
						return err
					}
					return ErrAttemptsExceeded
				}
				updated, err := encodeRecord(r)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, r.ExpiresAt.Sub(now))
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSecretMismatch
			}

			if err := del(tx); err != nil {
				return err
			}
			matched = r
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		switch {
		case err == nil:
			return matched, nil
		case errors.Is(err, redis.Nil):
			return Record{}, ErrNotFound
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrSecretMismatch), errors.Is(err, ErrAttemptsExceeded):
			return Record{}, err
		default:
			return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return Record{}, ErrNotFound
}

func encodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, r.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}
	if len(r.IdentityID) > 65535 {
		return nil, errors.New("reset record identity id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(r.IdentityID)
	buf.Write(r.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeRecord(id string, data []byte) (Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Record{}, err
	}
	if version != recordVersionV1 {
		return Record{}, errors.New("invalid reset record version")
	}

	r := Record{ID: id}
	var expires int64
	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &r.Attempts); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return Record{}, err
	}
	identity := make([]byte, idLen)
	if _, err := io.ReadFull(reader, identity); err != nil {
		return Record{}, err
	}
	if _, err := io.ReadFull(reader, r.SecretHash[:]); err != nil {
		return Record{}, err
	}
	r.IdentityID = string(identity)
	r.ExpiresAt = time.Unix(0, expires)
	return r, nil
}
