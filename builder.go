package tierauth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tierauth/algorithm"
	"github.com/MrEthical07/tierauth/codec"
	internalaudit "github.com/MrEthical07/tierauth/internal/audit"
	"github.com/MrEthical07/tierauth/internal/rate"
	"github.com/MrEthical07/tierauth/jwt"
	"github.com/MrEthical07/tierauth/logging"
	"github.com/MrEthical07/tierauth/password"
	"github.com/MrEthical07/tierauth/policy"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once at Build so unknown-email logins spend the
// same argon2 time as real ones.
const dummyPassword = "tierauth-timing-equalizer"

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	stores Stores
	redis  redis.UniversalClient

	mailer    Mailer
	logger    *slog.Logger
	auditSink AuditSink
	catalog   *policy.Catalog
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStores sets the persistence layer. Every field is required.
func (b *Builder) WithStores(s Stores) *Builder {
	b.stores = s
	return b
}

// WithRedis enables the login throttle and tier request budgets. Without
// redis both are skipped.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCatalog replaces the built-in tier catalog. Every algorithm the
// catalog's registry names must have an implementation.
func (b *Builder) WithCatalog(c *policy.Catalog) *Builder {
	b.catalog = c
	return b
}

// WithClock overrides time.Now, mainly for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.stores.Accounts == nil ||
		b.stores.Subscriptions == nil ||
		b.stores.Services == nil ||
		b.stores.APIKeys == nil ||
		b.stores.Devices == nil {
		return nil, errors.New("all stores must be provided")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- CRYPTO --------
	c, err := codec.New(cfg.Crypto.KeyHex)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	issuer, err := jwt.NewIssuer(jwt.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Leeway:        cfg.JWT.Leeway,
		Issuer:        cfg.JWT.Issuer,
		Clock:         clock,
	}, c)
	if err != nil {
		return nil, err
	}

	// -------- POLICY --------
	catalog := b.catalog
	if catalog == nil {
		reg, err := DefaultRegistry()
		if err != nil {
			return nil, err
		}
		catalog, err = policy.DefaultCatalog(reg)
		if err != nil {
			return nil, err
		}
	}
	reg := catalog.Registry()
	for bit := 0; bit < reg.Count(); bit++ {
		name, _ := reg.Name(bit)
		if !algorithm.Known(name) {
			return nil, fmt.Errorf("catalog names algorithm %q with no implementation", name)
		}
	}

	// -------- RATE LIMITER --------
	var limiter *rate.Limiter
	if b.redis != nil {
		limiter = rate.New(b.redis, rate.Config{
			MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
			LoginCooldown:    cfg.Security.LoginCooldown,
		})
	}

	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = nopMailer{}
	}

	e := &Engine{
		config:    cfg,
		codec:     c,
		hasher:    hasher,
		dummyHash: dummyHash,
		issuer:    issuer,
		totp:      newTOTPManager(cfg.TOTP),
		resolver:  policy.NewResolver(catalog),
		limiter:   limiter,
		stores:    b.stores,
		mailer:    mailer,
		logger:    logging.Component(logger, "engine"),
		metrics:   NewMetrics(cfg.Metrics),
		clock:     clock,
		newID:     uuid.NewString,
	}
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return e, nil
}

// DefaultRegistry is a frozen registry of every implemented algorithm in
// stable order.
func DefaultRegistry() (*policy.Registry, error) {
	names := algorithm.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return policy.NewRegistry(out...)
}
