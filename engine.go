package gateward

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v2"
)

// Engine defines a public type used by gateward APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	sessions      *verificationSessionStore
	settings      *settingsStore
	settingsCache *ttlcache.Cache
	limiter       *requestLimiter
	generator     ChallengeGenerator
	notifier      NotificationSink
	grantor       AccessGrantor
	audit         *auditDispatcher
	metrics       *Metrics
	receipts      *receiptIssuer

	timersMu sync.Mutex
	timers   map[string]*sessionTimers
}

// Close describes the close operation and its observable behavior.
//
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.timersMu.Lock()
	for id, timers := range e.timers {
		timers.stop()
		delete(e.timers, id)
	}
	e.timersMu.Unlock()

	if e.settingsCache != nil {
		_ = e.settingsCache.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// withStoreRetry retries op with bounded exponential backoff, but only for
// backend connectivity failures. Logical outcomes (not found, mismatch,
// conflict) are terminal and returned immediately.
func (e *Engine) withStoreRetry(ctx context.Context, op func() error) error {
	retries := e.config.Store.MaxRetries
	if retries <= 0 {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	if e.config.Store.RetryBaseDelay > 0 {
		policy.InitialInterval = e.config.Store.RetryBaseDelay
	}

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, errSessionRedisUnavailable) || errors.Is(err, errSettingsRedisUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))
}

// Notification delivery is best-effort: the session transition is the source
// of truth and a failed send never rolls it back.

func (e *Engine) notifyChallenge(ctx context.Context, principalID string, image []byte) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.SendChallenge(ctx, principalID, image); err != nil {
		e.metricInc(MetricNotifyFailure)
		log.Print("gateward: challenge delivery failed")
	}
}

func (e *Engine) notifyReminder(ctx context.Context, principalID string, remaining time.Duration) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.SendReminder(ctx, principalID, remaining); err != nil {
		e.metricInc(MetricNotifyFailure)
		log.Print("gateward: reminder delivery failed")
	}
}

func (e *Engine) notifyOutcome(ctx context.Context, principalID string, notice OutcomeNotice) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.SendOutcome(ctx, principalID, notice); err != nil {
		e.metricInc(MetricNotifyFailure)
		log.Print("gateward: outcome delivery failed")
	}
}
