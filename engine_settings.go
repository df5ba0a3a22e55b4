package gateward

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/jellydator/ttlcache/v2"
)

// Settings returns the effective verification settings for a tenant. Tenants
// without a stored row get the engine defaults; reads are served from a short
// TTL cache when one is configured.
//
// Settings may return an error when input validation, dependency calls, or security checks fail.
// Settings does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Settings(ctx context.Context, tenantID string) (*VerificationSettings, error) {
	if e == nil || e.settings == nil {
		return nil, ErrEngineNotReady
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	if e.settingsCache != nil {
		if cached, err := e.settingsCache.Get(tenantID); err == nil {
			if settings, ok := cached.(VerificationSettings); ok {
				out := settings
				return &out, nil
			}
		} else if !errors.Is(err, ttlcache.ErrNotFound) {
			log.Print("gateward: settings cache read failed")
		}
	}

	stored, err := e.settings.Get(ctx, tenantID)
	switch {
	case err == nil:
		// Stored row wins.
	case errors.Is(err, errSettingsNotFound):
		defaults := e.defaultSettings(tenantID)
		stored = &defaults
	default:
		return nil, errors.Join(ErrSettingsUnavailable, err)
	}

	if e.settingsCache != nil {
		_ = e.settingsCache.Set(tenantID, *stored)
	}

	out := *stored
	return &out, nil
}

// UpsertSettings applies a partial configuration update for a tenant. The
// first write creates the row from defaults, later writes patch it in place.
// Bounds are checked against the merged result inside the store transaction,
// so a patch can never leave a tenant with an unreachable reminder or a
// sub-minimum timeout, even when patches race.
//
// UpsertSettings may return an error when input validation, dependency calls, or security checks fail.
// UpsertSettings does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) UpsertSettings(ctx context.Context, patch SettingsPatch) (*VerificationSettings, error) {
	if e == nil || e.settings == nil {
		return nil, ErrEngineNotReady
	}
	if patch.TenantID == "" {
		patch.TenantID = tenantIDFromContext(ctx)
	}

	updated, err := e.settings.Upsert(ctx, patch, e.defaultSettings(patch.TenantID), e.validateSettings)
	if err != nil {
		if errors.Is(err, ErrSettingsInvalid) {
			e.emitAudit(ctx, auditEventSettingsUpserted, false, "", patch.TenantID, "", err, nil)
			return nil, err
		}
		return nil, errors.Join(ErrSettingsUnavailable, err)
	}

	if e.settingsCache != nil {
		_ = e.settingsCache.Remove(patch.TenantID)
	}

	e.emitAudit(ctx, auditEventSettingsUpserted, true, "", patch.TenantID, "", nil, func() map[string]string {
		return map[string]string{
			"timeout_seconds":       strconv.Itoa(updated.TimeoutSeconds),
			"reminder_lead_seconds": strconv.Itoa(updated.ReminderLeadSeconds),
		}
	})

	out := *updated
	return &out, nil
}

func (e *Engine) defaultSettings(tenantID string) VerificationSettings {
	return VerificationSettings{
		TenantID:            tenantID,
		TimeoutSeconds:      int(e.config.Verification.DefaultTimeout.Seconds()),
		ReminderLeadSeconds: int(e.config.Verification.DefaultReminderLead.Seconds()),
	}
}

func (e *Engine) validateSettings(settings VerificationSettings) error {
	minTimeout := int(e.config.Settings.MinTimeout.Seconds())
	minLead := int(e.config.Settings.MinReminderLead.Seconds())

	if settings.TimeoutSeconds < minTimeout {
		return ErrSettingsInvalid
	}
	if settings.ReminderLeadSeconds < minLead {
		return ErrSettingsInvalid
	}
	if settings.ReminderLeadSeconds >= settings.TimeoutSeconds {
		return ErrSettingsInvalid
	}
	return nil
}

// resolveSettings is the read path used when opening a session: a settings
// backend failure degrades to defaults rather than blocking verification.
func (e *Engine) resolveSettings(ctx context.Context, tenantID string) VerificationSettings {
	settings, err := e.Settings(ctx, tenantID)
	if err != nil {
		log.Print("gateward: settings lookup failed, using defaults")
		return e.defaultSettings(tenantID)
	}
	return *settings
}
