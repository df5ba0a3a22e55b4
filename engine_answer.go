package gateward

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gateward/gateward/internal"
)

// SubmitAnswer checks a candidate answer against the principal's Pending
// session. Exactly one concurrent submission can win the Verified transition;
// the access grant fires once, after the transition is committed.
//
// SubmitAnswer may return an error when input validation, dependency calls, or security checks fail.
// SubmitAnswer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitAnswer(ctx context.Context, principalID, candidate string) (*SubmitResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	if e.metrics.LatencyEnabled() {
		started := time.Now()
		defer func() {
			e.metrics.Observe(MetricSubmitLatency, time.Since(started))
		}()
	}

	if principalID == "" {
		return nil, ErrPrincipalRequired
	}

	normalized := internal.NormalizeAnswer(candidate)
	if len(normalized) != e.config.Verification.SecretLength {
		e.emitAudit(ctx, auditEventVerifyRejected, false, principalID, "", "", ErrAnswerInvalid, nil)
		return nil, ErrAnswerInvalid
	}

	if e.limiter != nil {
		if err := e.limiter.CheckSubmit(ctx, principalID, clientIPFromContext(ctx)); err != nil {
			if errors.Is(err, errRequestRateLimited) {
				e.metricInc(MetricAnswerRateLimited)
				e.emitRateLimit(ctx, "answer", "", func() map[string]string {
					return map[string]string{"principal_id": principalID}
				})
				return nil, ErrAnswerRateLimited
			}
			log.Print("gateward: answer limiter unavailable")
		}
	}

	providedHash := internal.HashAnswer(normalized)

	var record *sessionRecord
	err := e.withStoreRetry(ctx, func() error {
		var opErr error
		record, opErr = e.sessions.Consume(ctx, principalID, providedHash, e.config.Verification.MaxAttempts)
		return opErr
	})

	switch {
	case err == nil:
		return e.finishVerified(ctx, record)

	case errors.Is(err, errSessionNotFound), errors.Is(err, errSessionConflict):
		e.metricInc(MetricVerifyNoSession)
		e.emitAudit(ctx, auditEventVerifyNoSession, false, principalID, "", "", ErrNoActiveSession, nil)
		return &SubmitResult{Outcome: OutcomeNoActiveSession}, nil

	case errors.Is(err, errSessionExpired):
		e.cancelTimers(record.SessionID)
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventSessionExpired, false, principalID, record.TenantID, record.SessionID, nil, func() map[string]string {
			return map[string]string{"trigger": "submission"}
		})
		e.notifyOutcome(ctx, principalID, NoticeExpired)
		return &SubmitResult{Outcome: OutcomeNoActiveSession, SessionID: record.SessionID}, nil

	case errors.Is(err, errAttemptsExceeded):
		e.cancelTimers(record.SessionID)
		e.metricInc(MetricAttemptsExceeded)
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventVerifyRejected, false, principalID, record.TenantID, record.SessionID, errAttemptsExceeded, func() map[string]string {
			return map[string]string{"attempts": strconv.Itoa(int(record.Attempts))}
		})
		e.notifyOutcome(ctx, principalID, NoticeRejected)
		return &SubmitResult{
			Outcome:   OutcomeRejected,
			SessionID: record.SessionID,
			Attempts:  int(record.Attempts),
		}, nil

	case errors.Is(err, errAnswerMismatch):
		e.metricInc(MetricVerifyRejected)
		e.emitAudit(ctx, auditEventVerifyRejected, false, principalID, record.TenantID, record.SessionID, nil, func() map[string]string {
			return map[string]string{"attempts": strconv.Itoa(int(record.Attempts))}
		})
		e.notifyOutcome(ctx, principalID, NoticeRejected)
		return &SubmitResult{
			Outcome:   OutcomeRejected,
			SessionID: record.SessionID,
			Attempts:  int(record.Attempts),
		}, nil

	default:
		mapped := mapSessionStoreError(err)
		e.emitAudit(ctx, auditEventVerifyRejected, false, principalID, "", "", ErrSessionStoreUnavailable, nil)
		return nil, mapped
	}
}

// finishVerified runs the post-transition side effects. The Verified state is
// already committed, so a failed grant or notification is reported but never
// rolls the outcome back.
func (e *Engine) finishVerified(ctx context.Context, record *sessionRecord) (*SubmitResult, error) {
	e.cancelTimers(record.SessionID)

	verifiedAt := time.Unix(record.VerifiedAt, 0)
	grantFailed := false

	if err := e.grantor.Grant(ctx, record.PrincipalID, record.TenantID); err != nil {
		grantFailed = true
		e.metricInc(MetricGrantFailure)
		log.Print("gateward: access grant failed after verification")
	}

	result := &SubmitResult{
		Outcome:    OutcomeVerified,
		SessionID:  record.SessionID,
		Attempts:   int(record.Attempts),
		VerifiedAt: verifiedAt,
	}

	if e.receipts != nil {
		receipt, err := e.receipts.Issue(record.SessionID, record.PrincipalID, record.TenantID, verifiedAt)
		if err != nil {
			log.Print("gateward: receipt issuance failed")
		} else {
			result.Receipt = receipt
		}
	}

	e.metricInc(MetricVerifySuccess)
	e.emitAudit(ctx, auditEventVerifySuccess, true, record.PrincipalID, record.TenantID, record.SessionID, nil, func() map[string]string {
		metadata := map[string]string{
			"attempts": strconv.Itoa(int(record.Attempts)),
		}
		if grantFailed {
			metadata["grant_failed"] = "true"
		}
		return metadata
	})
	e.notifyOutcome(ctx, record.PrincipalID, NoticeVerified)

	return result, nil
}
