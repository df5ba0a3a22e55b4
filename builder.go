package gateward

import (
	"errors"

	"github.com/jellydator/ttlcache/v2"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by gateward APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	generator ChallengeGenerator
	notifier  NotificationSink
	grantor   AccessGrantor
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithChallengeGenerator describes the withchallengegenerator operation and its observable behavior.
//
// WithChallengeGenerator does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithChallengeGenerator(g ChallengeGenerator) *Builder {
	b.generator = g
	return b
}

// WithNotificationSink describes the withnotificationsink operation and its observable behavior.
//
// WithNotificationSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotificationSink(sink NotificationSink) *Builder {
	b.notifier = sink
	return b
}

// WithAccessGrantor describes the withaccessgrantor operation and its observable behavior.
//
// WithAccessGrantor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAccessGrantor(grantor AccessGrantor) *Builder {
	b.grantor = grantor
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.notifier == nil {
		return nil, errors.New("notification sink required")
	}
	if b.grantor == nil {
		return nil, errors.New("access grantor required")
	}

	generator := b.generator
	if generator == nil {
		generator = NewCaptchaGenerator(cfg.Challenge, cfg.Verification.SecretLength)
	}

	engine := &Engine{
		config:    cfg,
		sessions:  newVerificationSessionStore(b.redis, cfg.Store.RedisPrefix, cfg.Store.RetentionTTL),
		settings:  newSettingsStore(b.redis, cfg.Store.RedisPrefix),
		limiter:   newRequestLimiter(b.redis, cfg.Limiter, cfg.Store.RedisPrefix),
		generator: generator,
		notifier:  b.notifier,
		grantor:   b.grantor,
		timers:    make(map[string]*sessionTimers),
	}

	if cfg.Settings.CacheTTL > 0 {
		cache := ttlcache.NewCache()
		if err := cache.SetTTL(cfg.Settings.CacheTTL); err != nil {
			return nil, err
		}
		cache.SkipTTLExtensionOnHit(true)
		engine.settingsCache = cache
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.receipts = newReceiptIssuer(cfg.Receipt)

	b.built = true

	return engine, nil
}
