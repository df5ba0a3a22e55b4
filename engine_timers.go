package gateward

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"
)

type sessionTimers struct {
	reminder *time.Timer
	expiry   *time.Timer
}

func (t *sessionTimers) stop() {
	if t == nil {
		return
	}
	if t.reminder != nil {
		t.reminder.Stop()
	}
	if t.expiry != nil {
		t.expiry.Stop()
	}
}

// armTimers schedules the reminder and expiry callbacks for a session. Timers
// are keyed by session id, so a session replaced between callback scheduling
// and firing is detected by the store-side session id check, not here.
func (e *Engine) armTimers(sessionID, principalID, tenantID string, reminderIn, expiryIn time.Duration) {
	if expiryIn <= 0 {
		expiryIn = time.Millisecond
	}

	timers := &sessionTimers{}
	if reminderIn > 0 {
		timers.reminder = time.AfterFunc(reminderIn, func() {
			e.fireReminder(principalID, sessionID)
		})
	}
	timers.expiry = time.AfterFunc(expiryIn, func() {
		e.fireExpiry(principalID, tenantID, sessionID)
	})

	e.timersMu.Lock()
	if e.timers == nil {
		e.timers = make(map[string]*sessionTimers)
	}
	if previous, ok := e.timers[sessionID]; ok {
		previous.stop()
	}
	e.timers[sessionID] = timers
	e.timersMu.Unlock()
}

// cancelTimers stops and drops the timers for a resolved session. Safe to
// call for a session that never had timers armed in this process.
func (e *Engine) cancelTimers(sessionID string) {
	e.timersMu.Lock()
	timers, ok := e.timers[sessionID]
	if ok {
		delete(e.timers, sessionID)
	}
	e.timersMu.Unlock()

	timers.stop()
}

// fireReminder sends the mid-session nudge. It re-reads the pending session
// first: a session that was resolved or replaced since scheduling gets no
// reminder.
func (e *Engine) fireReminder(principalID, sessionID string) {
	ctx := context.Background()

	record, err := e.sessions.GetPending(ctx, principalID)
	if err != nil {
		return
	}
	if record.SessionID != sessionID || record.Status != StatusPending {
		return
	}

	remaining := time.Until(time.Unix(record.ExpiresAt, 0))
	if remaining <= 0 {
		return
	}

	e.notifyReminder(ctx, principalID, remaining)
	e.metricInc(MetricReminderSent)
	e.emitAudit(ctx, auditEventReminderSent, true, principalID, record.TenantID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"remaining_seconds": strconv.Itoa(int(remaining / time.Second)),
		}
	})
}

// fireExpiry applies the deadline. The store-side session id check makes the
// callback a no-op when the session was verified, cancelled, or replaced
// after this timer was armed.
func (e *Engine) fireExpiry(principalID, tenantID, sessionID string) {
	ctx := context.Background()

	record, err := e.sessions.Expire(ctx, principalID, sessionID)
	if err != nil {
		switch {
		case isSessionGone(err):
			e.cancelTimers(sessionID)
		default:
			log.Print("gateward: session expiry write failed")
		}
		return
	}

	e.cancelTimers(sessionID)
	e.metricInc(MetricSessionExpired)
	e.emitAudit(ctx, auditEventSessionExpired, false, principalID, record.TenantID, sessionID, nil, func() map[string]string {
		return map[string]string{"trigger": "deadline"}
	})
	e.notifyOutcome(ctx, principalID, NoticeExpired)
}

// RecoverPending re-derives timers for sessions that survived a process
// restart. Sessions already past their deadline are expired immediately;
// stale index entries whose pending key lapsed are dropped. Returns the
// number of sessions whose timers were re-armed.
func (e *Engine) RecoverPending(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	principals, err := e.sessions.PendingPrincipals(ctx)
	if err != nil {
		return 0, mapSessionStoreError(err)
	}

	recovered := 0
	for _, principalID := range principals {
		record, err := e.sessions.GetPending(ctx, principalID)
		if err != nil {
			if isSessionGone(err) {
				_ = e.sessions.ForgetPrincipal(ctx, principalID)
				continue
			}
			return recovered, mapSessionStoreError(err)
		}

		expiryIn := time.Until(time.Unix(record.ExpiresAt, 0))
		if expiryIn <= 0 {
			go e.fireExpiry(record.PrincipalID, record.TenantID, record.SessionID)
			continue
		}

		reminderIn := time.Until(time.Unix(record.ReminderAt, 0))
		e.armTimers(record.SessionID, record.PrincipalID, record.TenantID, reminderIn, expiryIn)
		recovered++

		e.metricInc(MetricSessionRecovered)
		e.emitAudit(ctx, auditEventSessionRecovered, true, record.PrincipalID, record.TenantID, record.SessionID, nil, nil)
	}

	return recovered, nil
}

func isSessionGone(err error) bool {
	return errors.Is(err, errSessionNotFound) || errors.Is(err, errSessionConflict)
}
