package credlife

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/credlife/credential"
	"github.com/MrEthical07/credlife/gate"
	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/internal/audit"
	"github.com/MrEthical07/credlife/internal/rate"
	"github.com/MrEthical07/credlife/internal/resetstore"
	"github.com/MrEthical07/credlife/password"
	"github.com/MrEthical07/credlife/registry"
	"github.com/MrEthical07/credlife/token"
)

// PostgresDB is satisfied by *pgxpool.Pool.
type PostgresDB = registry.DB

// PostgresSchema creates the tables used by the Postgres backend.
const PostgresSchema = registry.PostgresSchema

// Builder assembles an Engine. It is meant to be configured once during
// initialization; Build may be called only once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	pg     PostgresDB

	identities identity.Provider
	mailer     Mailer
	auditSink  AuditSink
	logger     *slog.Logger
	clock      func() time.Time
	limiter    Limiter

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis selects Redis for sessions, credentials and reset tokens unless
// WithPostgres is also set; the rate limiter then still uses Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres selects PostgreSQL for sessions, credentials and reset
// tokens. The tables in PostgresSchema must exist.
func (b *Builder) WithPostgres(db PostgresDB) *Builder {
	b.pg = db
	return b
}

func (b *Builder) WithIdentityProvider(p identity.Provider) *Builder {
	b.identities = p
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the audit destination. Without one, events are written
// to the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now, mostly for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithLimiter replaces the built-in rate limiter.
func (b *Builder) WithLimiter(l Limiter) *Builder {
	b.limiter = l
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := b.config

	if b.redis == nil && b.pg == nil {
		return nil, errors.New("redis client or postgres pool required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, errors.New("identity provider required")
	}
	if cfg.PasswordReset.Enabled && b.mailer == nil {
		return nil, errors.New("PasswordReset requires a mailer")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	issuer, err := token.NewIssuer(cfg.Token)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	pool := password.NewPool(hasher, cfg.Password.PoolSize, cfg.Password.QueueTimeout)
	policy := password.All(
		password.Length(cfg.Password.MinLength, cfg.Password.MaxLength),
		password.Classes(cfg.Password.MinClasses),
	)

	g := gate.New(b.identities, cfg.Account.RequireVerifiedEmail)

	// -------- STORAGE --------
	var (
		store  registry.Store
		repo   credential.Repository
		resets resetstore.Store
	)
	if b.pg != nil {
		store = registry.NewPostgresStore(b.pg)
		repo = credential.NewPostgresRepository(b.pg)
		resets = resetstore.NewPostgres(b.pg)
	} else {
		prefix := cfg.Session.RedisPrefix
		store = registry.NewRedisStore(b.redis, prefix, cfg.Session.TokenRetention)
		repo = credential.NewRedisRepository(b.redis, prefix)
		resets = resetstore.NewRedis(b.redis, prefix, cfg.PasswordReset.MaxAttempts)
	}
	if !cfg.PasswordReset.Enabled {
		resets = nil
	}

	var regOpts []registry.Option
	if !cfg.Session.RevokeOnReuse {
		regOpts = append(regOpts, registry.KeepSessionOnReuse())
	}
	reg := registry.New(store, issuer, g, regOpts...)
	creds, err := credential.NewService(repo, pool, policy, reg, clock)
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMIT --------
	limiter := b.limiter
	if limiter == nil && cfg.RateLimit.Enabled {
		rcfg := rate.Config{
			MaxLoginFailures: cfg.RateLimit.MaxLoginFailures,
			LoginWindow:      cfg.RateLimit.LoginWindow,
			MaxResetRequests: cfg.RateLimit.MaxResetRequests,
			ResetWindow:      cfg.RateLimit.ResetWindow,
		}
		if b.redis != nil {
			limiter = rate.New(b.redis, cfg.Session.RedisPrefix, rcfg)
		} else {
			limiter = rate.NewLocal(rcfg)
		}
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, sink, logger)

	b.built = true

	return &Engine{
		config:      cfg,
		logger:      logger,
		now:         clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		identities:  b.identities,
		gate:        g,
		issuer:      issuer,
		credentials: creds,
		registry:    reg,
		resets:      resets,
		limiter:     limiter,
		mailer:      b.mailer,
		audit:       dispatcher,
		metrics:     NewMetrics(cfg.Metrics),
	}, nil
}
