package tokengate

import (
	"errors"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/internal/otp"
	"github.com/tokengate/tokengate/internal/rate"
	"github.com/tokengate/tokengate/internal/tokenstore"
	"github.com/tokengate/tokengate/jwt"
)

// Builder assembles an Engine. Configure it during startup, call Build
// once, and share the resulting Engine across goroutines.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	creds  CredentialStore
	mailer Mailer
	sink   audit.Sink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration. Zero-valued fields are filled from
// the defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the token store, the challenge
// store, and the rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the durable account store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

// WithMailer sets the delivery channel for codes and reset links.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink overrides where security events are delivered. The default
// writes JSON lines to stderr when auditing is enabled.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

// Build validates the configuration, wires the internal stores, and returns
// a ready Engine. A Builder can build at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.creds == nil {
		return nil, errors.New("credential store is required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer is required")
	}

	cfg := mergeConfig(b.config)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	method := jwt.MethodEd25519
	if cfg.JWT.SigningMethod == "hs256" {
		method = jwt.MethodHS256
	}
	codec, err := jwt.NewManager(jwt.Config{
		SigningMethod: method,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		sink := b.sink
		if sink == nil {
			sink = audit.NewJSONWriterSink(os.Stderr)
		}
		dispatcher = audit.NewDispatcher(cfg.Audit.BufferSize, sink)
	}

	b.built = true
	return &Engine{
		config:     cfg,
		codec:      codec,
		tokens:     tokenstore.New(b.redis, cfg.Storage.RedisPrefix, cfg.Storage.Retention),
		challenges: otp.New(b.redis, cfg.Storage.RedisPrefix, cfg.Storage.Retention),
		limiter:    rate.New(b.redis, cfg.Storage.RedisPrefix),
		creds:      b.creds,
		mailer:     b.mailer,
		audit:      dispatcher,
	}, nil
}
