package gateward

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSessionStarted     = "session_started"
	auditEventSecretRotated      = "secret_rotated"
	auditEventVerifySuccess      = "verify_success"
	auditEventVerifyRejected     = "verify_rejected"
	auditEventVerifyNoSession    = "verify_no_session"
	auditEventSessionExpired     = "session_expired"
	auditEventSessionCancelled   = "session_cancelled"
	auditEventReminderSent       = "reminder_sent"
	auditEventSessionRecovered   = "session_recovered"
	auditEventSettingsUpserted   = "settings_upserted"
	auditEventRateLimitTriggered = "rate_limit_triggered"
)

// AuditErrorCode defines a public type used by gateward APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrAnswerInvalid     AuditErrorCode = "answer_invalid"
	auditErrNoActiveSession   AuditErrorCode = "no_active_session"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrSettingsInvalid   AuditErrorCode = "settings_invalid"
	auditErrPrincipalRequired AuditErrorCode = "principal_required"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		TenantID:    tenantID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	tenantID string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", tenantID, "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAnswerInvalid):
		return auditErrAnswerInvalid
	case errors.Is(err, ErrNoActiveSession):
		return auditErrNoActiveSession
	case errors.Is(err, ErrStartRateLimited),
		errors.Is(err, ErrAnswerRateLimited):
		return auditErrRateLimited
	case errors.Is(err, errAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrSettingsInvalid):
		return auditErrSettingsInvalid
	case errors.Is(err, ErrPrincipalRequired):
		return auditErrPrincipalRequired
	case errors.Is(err, ErrSessionStoreUnavailable),
		errors.Is(err, ErrSettingsUnavailable),
		errors.Is(err, ErrChallengeUnavailable),
		errors.Is(err, ErrReceiptUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
