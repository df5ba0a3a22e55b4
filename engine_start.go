package gateward

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gateward/gateward/internal"
)

// StartSession opens a verification challenge for the principal. If a Pending
// session already exists, its secret is rotated in place and the original
// deadline is kept, so repeated starts never extend the time budget.
//
// StartSession may return an error when input validation, dependency calls, or security checks fail.
// StartSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) StartSession(ctx context.Context, principalID, tenantID string) (*StartResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if principalID == "" {
		return nil, ErrPrincipalRequired
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	if e.limiter != nil {
		if err := e.limiter.CheckStart(ctx, principalID, clientIPFromContext(ctx)); err != nil {
			if errors.Is(err, errRequestRateLimited) {
				e.metricInc(MetricStartRateLimited)
				e.emitRateLimit(ctx, "start", tenantID, func() map[string]string {
					return map[string]string{"principal_id": principalID}
				})
				return nil, ErrStartRateLimited
			}
			// Throttle backend failures fail open: the session store is the
			// authority, the limiter is only a shield in front of it.
			log.Print("gateward: start limiter unavailable")
		}
	}

	settings := e.resolveSettings(ctx, tenantID)

	challenge, err := e.generator.Generate(ctx)
	if err != nil {
		return nil, errors.Join(ErrChallengeUnavailable, err)
	}
	secretHash := internal.HashAnswer(internal.NormalizeAnswer(challenge.Secret))

	now := time.Now()
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	lead := time.Duration(settings.ReminderLeadSeconds) * time.Second
	expiresAt := now.Add(timeout)
	reminderAt := expiresAt.Add(-lead)

	record := &sessionRecord{
		SessionID:   uuid.NewString(),
		PrincipalID: principalID,
		TenantID:    tenantID,
		Status:      StatusPending,
		CreatedAt:   now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
		ReminderAt:  reminderAt.Unix(),
		SecretHash:  secretHash,
	}

	// Two rounds cover the create/rotate race: a rotation that observes the
	// pending key vanish falls back to creating a fresh session.
	for attempt := 0; attempt < 2; attempt++ {
		err = e.withStoreRetry(ctx, func() error {
			return e.sessions.CreatePending(ctx, record)
		})

		if err == nil {
			e.armTimers(record.SessionID, principalID, tenantID, time.Until(reminderAt), time.Until(expiresAt))
			e.metricInc(MetricSessionStarted)
			e.emitAudit(ctx, auditEventSessionStarted, true, principalID, tenantID, record.SessionID, nil, func() map[string]string {
				return map[string]string{
					"timeout_seconds": strconv.Itoa(settings.TimeoutSeconds),
				}
			})
			e.notifyChallenge(ctx, principalID, challenge.Image)

			return &StartResult{
				SessionID:   record.SessionID,
				PrincipalID: principalID,
				TenantID:    tenantID,
				Image:       challenge.Image,
				Rotated:     false,
				ExpiresAt:   time.Unix(record.ExpiresAt, 0),
			}, nil
		}

		if !errors.Is(err, errPendingExists) {
			return nil, mapSessionStoreError(err)
		}

		var rotated *sessionRecord
		rotateErr := e.withStoreRetry(ctx, func() error {
			var opErr error
			rotated, opErr = e.sessions.RotateSecret(ctx, principalID, secretHash)
			return opErr
		})

		if rotateErr == nil {
			e.metricInc(MetricSecretRotated)
			e.emitAudit(ctx, auditEventSecretRotated, true, principalID, rotated.TenantID, rotated.SessionID, nil, nil)
			e.notifyChallenge(ctx, principalID, challenge.Image)

			return &StartResult{
				SessionID:   rotated.SessionID,
				PrincipalID: principalID,
				TenantID:    rotated.TenantID,
				Image:       challenge.Image,
				Rotated:     true,
				ExpiresAt:   time.Unix(rotated.ExpiresAt, 0),
			}, nil
		}

		if !errors.Is(rotateErr, errSessionNotFound) {
			return nil, mapSessionStoreError(rotateErr)
		}
		// The pending session resolved between create and rotate; try a
		// fresh create on the next round.
	}

	return nil, errors.Join(ErrSessionStoreUnavailable, err)
}

func mapSessionStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSessionRedisUnavailable):
		return errors.Join(ErrSessionStoreUnavailable, err)
	default:
		return err
	}
}
