package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// SigningMethod selects the access token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// ClaimsVersion is stamped into every access token as "ver".
const ClaimsVersion = 1

const minLookupSecret = 32

var (
	ErrAccessInvalid = errors.New("token: access token invalid")
	ErrAccessExpired = errors.New("token: access token expired")
)

// Config configures an Issuer. Key material is never read from config files.
type Config struct {
	AccessTTL     time.Duration     `yaml:"access_ttl"`
	RefreshTTL    time.Duration     `yaml:"refresh_ttl"`
	SigningMethod SigningMethod     `yaml:"signing_method"`
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	Leeway        time.Duration     `yaml:"leeway"`
	KeyID         string            `yaml:"key_id"`
	PrivateKey    []byte            `yaml:"-"`
	PublicKey     []byte            `yaml:"-"`
	VerifyKeys    map[string][]byte `yaml:"-"`
	// LookupSecret keys the refresh token index hash.
	LookupSecret []byte `yaml:"-"`
}

// AccessClaims is the fixed access token payload. The subject is the identity id.
type AccessClaims struct {
	Version   int               `json:"ver"`
	Role      string            `json:"role,omitempty"`
	SessionID string            `json:"sid,omitempty"`
	Ext       map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// IdentityID returns the subject claim.
func (c *AccessClaims) IdentityID() string { return c.Subject }

// AccessToken is a signed access token and the claims it asserts.
type AccessToken struct {
	Token      string
	IdentityID string
	Role       string
	SessionID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Issuer mints access tokens and refresh material. It is safe for concurrent use.
type Issuer struct {
	config    Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewIssuer validates cfg and resolves the signing keys.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: access and refresh TTL must be > 0")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("token: refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: leeway must be within [0, 2m]")
	}
	if len(cfg.LookupSecret) < minLookupSecret {
		return nil, fmt.Errorf("token: lookup secret must be >= %d bytes", minLookupSecret)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	iss := &Issuer{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("token: hs256 key must be >= 32 bytes")
		}
		iss.method = jwt.SigningMethodHS256
		iss.signKey = cfg.PrivateKey
		iss.verifyKey = cfg.PrivateKey
	case MethodEd25519, "":
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		iss.method = jwt.SigningMethodEdDSA
		iss.signKey = priv
		if len(cfg.PublicKey) > 0 {
			if iss.verifyKey, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		} else {
			iss.verifyKey = priv.Public()
		}
	default:
		return nil, fmt.Errorf("token: unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("token: verify key map contains empty kid")
		}
		if iss.method == jwt.SigningMethodEdDSA {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("token: verify key %q: %w", kid, err)
			}
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("token: KeyID is not present in VerifyKeys")
		}
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }

// IssueAccess signs a short-lived access token. ext carries optional claims and
// may be nil.
func (i *Issuer) IssueAccess(identityID, role, sessionID string, now time.Time, ext map[string]string) (AccessToken, error) {
	if identityID == "" {
		return AccessToken{}, errors.New("token: identity id required")
	}
	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(i.config.AccessTTL)

	claims := AccessClaims{
		Version:   ClaimsVersion,
		Role:      role,
		SessionID: sessionID,
		Ext:       ext,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
			Subject:   identityID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	tok := jwt.NewWithClaims(i.method, claims)
	if i.config.KeyID != "" {
		tok.Header["kid"] = i.config.KeyID
	}
	signed, err := tok.SignedString(i.signKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("token: sign access: %w", err)
	}

	return AccessToken{
		Token:      signed,
		IdentityID: identityID,
		Role:       role,
		SessionID:  sessionID,
		IssuedAt:   issued,
		ExpiresAt:  expires,
	}, nil
}

// ParseAccess verifies signature, algorithm, issuer, audience, kid and expiry
// as of now.
func (i *Issuer) ParseAccess(raw string, now time.Time) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if i.config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(i.config.Audience))
	}

	claims := &AccessClaims{}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, i.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessInvalid, err)
	}
	if !tok.Valid || claims.Version != ClaimsVersion || claims.Subject == "" {
		return nil, ErrAccessInvalid
	}
	return claims, nil
}

func (i *Issuer) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)

	if len(i.config.VerifyKeys) > 0 {
		key, ok := i.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		if i.method == jwt.SigningMethodHS256 {
			return key, nil
		}
		return parseEdPublicKey(key)
	}
	if i.config.KeyID != "" && kid != i.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return i.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
