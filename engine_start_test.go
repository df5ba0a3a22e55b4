package gateward

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type mockNotificationSink struct {
	mu         sync.Mutex
	challenges int
	reminders  int
	outcomes   []OutcomeNotice
	fail       bool
}

func (m *mockNotificationSink) SendChallenge(_ context.Context, _ string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.challenges++
	return nil
}

func (m *mockNotificationSink) SendReminder(_ context.Context, _ string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.reminders++
	return nil
}

func (m *mockNotificationSink) SendOutcome(_ context.Context, _ string, notice OutcomeNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.outcomes = append(m.outcomes, notice)
	return nil
}

func (m *mockNotificationSink) challengeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenges
}

func (m *mockNotificationSink) reminderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reminders
}

func (m *mockNotificationSink) lastOutcome() (OutcomeNotice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) == 0 {
		return 0, false
	}
	return m.outcomes[len(m.outcomes)-1], true
}

type mockGrantor struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (m *mockGrantor) Grant(_ context.Context, _, _ string) error {
	m.calls.Add(1)
	if m.fail.Load() {
		return errors.New("grant backend down")
	}
	return nil
}

type staticGenerator struct {
	secret string
}

func (g staticGenerator) Generate(_ context.Context) (*Challenge, error) {
	return &Challenge{
		Secret: g.secret,
		Image:  []byte("png-bytes"),
	}, nil
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Store.MaxRetries = 0
	cfg.Limiter.EnableStartThrottle = false
	cfg.Limiter.EnableAnswerThrottle = false
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, cfg Config, sink NotificationSink, grantor AccessGrantor) *Engine {
	t.Helper()

	if sink == nil {
		sink = &mockNotificationSink{}
	}
	if grantor == nil {
		grantor = &mockGrantor{}
	}

	return &Engine{
		config:    cfg,
		sessions:  newVerificationSessionStore(rdb, cfg.Store.RedisPrefix, cfg.Store.RetentionTTL),
		settings:  newSettingsStore(rdb, cfg.Store.RedisPrefix),
		limiter:   newRequestLimiter(rdb, cfg.Limiter, cfg.Store.RedisPrefix),
		generator: staticGenerator{secret: "AB23CD"},
		notifier:  sink,
		grantor:   grantor,
		metrics:   NewMetrics(cfg.Metrics),
		receipts:  newReceiptIssuer(cfg.Receipt),
		timers:    make(map[string]*sessionTimers),
	}
}

func TestStartSessionCreatesPending(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	sink := &mockNotificationSink{}
	engine := newTestEngine(t, rdb, testConfig(), sink, nil)
	defer engine.Close()

	result, err := engine.StartSession(ctx, "member-1", "tenant-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("expected non-empty session id")
	}
	if result.Rotated {
		t.Fatal("first start must not be a rotation")
	}
	if len(result.Image) == 0 {
		t.Fatal("expected challenge image bytes")
	}

	session, err := engine.ActiveSession(ctx, "member-1")
	if err != nil {
		t.Fatalf("ActiveSession failed: %v", err)
	}
	if session.Status != StatusPending {
		t.Fatalf("expected pending session, got %s", session.Status)
	}
	if session.ID != result.SessionID {
		t.Fatalf("session id mismatch: %s vs %s", session.ID, result.SessionID)
	}
	if !session.ExpiresAt.Equal(result.ExpiresAt) {
		t.Fatalf("reported deadline must match the stored one: %v vs %v", result.ExpiresAt, session.ExpiresAt)
	}
	if sink.challengeCount() != 1 {
		t.Fatalf("expected 1 challenge delivery, got %d", sink.challengeCount())
	}
	if got := engine.metrics.Value(MetricSessionStarted); got != 1 {
		t.Fatalf("expected session started metric 1, got %d", got)
	}
}

func TestStartSessionRotatesSecretInPlace(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	first, err := engine.StartSession(ctx, "member-1", "tenant-1")
	if err != nil {
		t.Fatalf("first StartSession failed: %v", err)
	}

	second, err := engine.StartSession(ctx, "member-1", "tenant-1")
	if err != nil {
		t.Fatalf("second StartSession failed: %v", err)
	}
	if !second.Rotated {
		t.Fatal("expected second start to rotate")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("rotation must keep session identity: %s vs %s", first.SessionID, second.SessionID)
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("rotation must not extend deadline: %v vs %v", first.ExpiresAt, second.ExpiresAt)
	}
	if got := engine.metrics.Value(MetricSecretRotated); got != 1 {
		t.Fatalf("expected secret rotated metric 1, got %d", got)
	}
}

func TestStartSessionEmptyPrincipal(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	if _, err := engine.StartSession(context.Background(), "", "tenant-1"); !errors.Is(err, ErrPrincipalRequired) {
		t.Fatalf("expected ErrPrincipalRequired, got %v", err)
	}
}

func TestStartSessionRateLimited(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	cfg := testConfig()
	cfg.Limiter.EnableStartThrottle = true
	cfg.Limiter.MaxStartRequests = 2
	cfg.Limiter.StartWindow = time.Minute

	engine := newTestEngine(t, rdb, cfg, nil, nil)
	defer engine.Close()

	for i := 0; i < 2; i++ {
		if _, err := engine.StartSession(ctx, "member-1", "tenant-1"); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
	}

	if _, err := engine.StartSession(ctx, "member-1", "tenant-1"); !errors.Is(err, ErrStartRateLimited) {
		t.Fatalf("expected ErrStartRateLimited, got %v", err)
	}
	if got := engine.metrics.Value(MetricStartRateLimited); got != 1 {
		t.Fatalf("expected start rate limited metric 1, got %d", got)
	}
}

func TestStartSessionConcurrentSingleFlight(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*StartResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.StartSession(ctx, "member-1", "tenant-1")
		}(i)
	}
	wg.Wait()

	created := 0
	sessionID := ""
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if !results[i].Rotated {
			created++
		}
		if sessionID == "" {
			sessionID = results[i].SessionID
		} else if results[i].SessionID != sessionID {
			t.Fatalf("workers observed different sessions: %s vs %s", sessionID, results[i].SessionID)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one non-rotated create, got %d", created)
	}
}

func TestStartSessionStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	mr.Close()

	if _, err := engine.StartSession(context.Background(), "member-1", "tenant-1"); !errors.Is(err, ErrSessionStoreUnavailable) {
		t.Fatalf("expected ErrSessionStoreUnavailable, got %v", err)
	}
}
