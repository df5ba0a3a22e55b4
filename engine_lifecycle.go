package gateward

import (
	"context"
	"errors"
	"time"
)

// CancelSession resolves the principal's Pending session as Cancelled, for
// operator action or the principal leaving the tenant before answering.
//
// CancelSession may return an error when input validation, dependency calls, or security checks fail.
// CancelSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CancelSession(ctx context.Context, principalID, reason string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if principalID == "" {
		return ErrPrincipalRequired
	}

	var record *sessionRecord
	err := e.withStoreRetry(ctx, func() error {
		var opErr error
		record, opErr = e.sessions.Cancel(ctx, principalID, "")
		return opErr
	})
	if err != nil {
		if errors.Is(err, errSessionNotFound) || errors.Is(err, errSessionConflict) {
			return ErrNoActiveSession
		}
		return mapSessionStoreError(err)
	}

	e.cancelTimers(record.SessionID)
	e.metricInc(MetricSessionCancelled)
	e.emitAudit(ctx, auditEventSessionCancelled, true, principalID, record.TenantID, record.SessionID, nil, func() map[string]string {
		if reason == "" {
			return nil
		}
		return map[string]string{"reason": reason}
	})
	e.notifyOutcome(ctx, principalID, NoticeCancelled)

	return nil
}

// ActiveSession returns the principal's current Pending session, or
// ErrNoActiveSession when none exists. Intended for status introspection; it
// never exposes the secret.
func (e *Engine) ActiveSession(ctx context.Context, principalID string) (*VerificationSession, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if principalID == "" {
		return nil, ErrPrincipalRequired
	}

	record, err := e.sessions.GetPending(ctx, principalID)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, mapSessionStoreError(err)
	}

	// The pending key outlives the deadline so the expiry transition can
	// archive it; a lapsed session is not active from the caller's view.
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrNoActiveSession
	}

	return record.toSession(), nil
}

// ArchivedSession returns a terminal session by id while it remains inside
// the retention window.
func (e *Engine) ArchivedSession(ctx context.Context, sessionID string) (*VerificationSession, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if sessionID == "" {
		return nil, ErrNoActiveSession
	}

	record, err := e.sessions.Archived(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, mapSessionStoreError(err)
	}

	return record.toSession(), nil
}
