package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrMalformedDigest is returned when a stored digest cannot be parsed.
	ErrMalformedDigest = errors.New("password: malformed digest")
	// ErrUnsupportedDigest is returned for digests produced by another algorithm or version.
	ErrUnsupportedDigest = errors.New("password: unsupported digest")
)

// Hasher is the pluggable hash capability consumed by the credential store.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
}

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32 `yaml:"memory"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultConfig returns the production cost profile (64 MiB, t=3, p=2).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate rejects parameters below the supported floor.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

// Argon2 hashes and verifies passwords with Argon2id.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher bound to it.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh salted digest. Input bytes are used as given, with no
// Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest with the parameters embedded in it and compares
// in constant time.
func (a *Argon2) Verify(password, digest string) (bool, error) {
	d, err := parseDigest(digest)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

// NeedsUpgrade reports whether digest was produced with weaker parameters than
// the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(digest string) (bool, error) {
	d, err := parseDigest(digest)
	if err != nil {
		return false, err
	}
	return a.config.Memory > d.memory ||
		a.config.Time > d.time ||
		a.config.Parallelism > d.parallelism ||
		a.config.KeyLength != uint32(len(d.key)), nil
}

type digestParts struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parseDigest(encoded string) (digestParts, error) {
	var d digestParts

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return d, ErrMalformedDigest
	}
	if fields[1] != algorithmID || fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return d, ErrUnsupportedDigest
	}

	var seen uint8
	for _, kv := range strings.Split(fields[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return d, ErrMalformedDigest
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return d, ErrMalformedDigest
			}
			d.memory = uint32(v)
			seen |= 1
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return d, ErrMalformedDigest
			}
			d.time = uint32(v)
			seen |= 2
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return d, ErrMalformedDigest
			}
			d.parallelism = uint8(v)
			seen |= 4
		default:
			return d, ErrMalformedDigest
		}
	}
	if seen != 7 {
		return d, ErrMalformedDigest
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil || len(d.salt) < int(minSaltLength) {
		return d, ErrMalformedDigest
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil || len(d.key) == 0 {
		return d, ErrMalformedDigest
	}
	return d, nil
}
