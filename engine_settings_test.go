package gateward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v2"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestSettingsDefaultsWhenUnconfigured(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	settings, err := engine.Settings(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if settings.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %s", settings.TenantID)
	}
	if settings.TimeoutSeconds != 300 {
		t.Fatalf("expected default timeout 300, got %d", settings.TimeoutSeconds)
	}
	if settings.ReminderLeadSeconds != 60 {
		t.Fatalf("expected default reminder lead 60, got %d", settings.ReminderLeadSeconds)
	}
}

func TestUpsertSettingsCreateThenPatch(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	created, err := engine.UpsertSettings(ctx, SettingsPatch{
		TenantID:       "tenant-1",
		LogChannelRef:  strPtr("channel-42"),
		TimeoutSeconds: intPtr(600),
	})
	if err != nil {
		t.Fatalf("first UpsertSettings failed: %v", err)
	}
	if created.LogChannelRef != "channel-42" {
		t.Fatalf("expected log channel channel-42, got %s", created.LogChannelRef)
	}
	if created.TimeoutSeconds != 600 {
		t.Fatalf("expected timeout 600, got %d", created.TimeoutSeconds)
	}
	if created.ReminderLeadSeconds != 60 {
		t.Fatalf("expected untouched default lead 60, got %d", created.ReminderLeadSeconds)
	}

	// A later patch touches only named fields and keeps the rest.
	patched, err := engine.UpsertSettings(ctx, SettingsPatch{
		TenantID:       "tenant-1",
		GrantedRoleRef: strPtr("role-verified"),
	})
	if err != nil {
		t.Fatalf("second UpsertSettings failed: %v", err)
	}
	if patched.GrantedRoleRef != "role-verified" {
		t.Fatalf("expected granted role role-verified, got %s", patched.GrantedRoleRef)
	}
	if patched.LogChannelRef != "channel-42" {
		t.Fatalf("patch must keep log channel, got %s", patched.LogChannelRef)
	}
	if patched.TimeoutSeconds != 600 {
		t.Fatalf("patch must keep timeout 600, got %d", patched.TimeoutSeconds)
	}
}

func TestUpsertSettingsRejectsInvalidBounds(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	cases := []struct {
		name  string
		patch SettingsPatch
	}{
		{"timeout below minimum", SettingsPatch{TenantID: "tenant-1", TimeoutSeconds: intPtr(30)}},
		{"lead below minimum", SettingsPatch{TenantID: "tenant-1", ReminderLeadSeconds: intPtr(5)}},
		{"lead not below timeout", SettingsPatch{TenantID: "tenant-1", TimeoutSeconds: intPtr(120), ReminderLeadSeconds: intPtr(120)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.UpsertSettings(ctx, tc.patch); !errors.Is(err, ErrSettingsInvalid) {
				t.Fatalf("expected ErrSettingsInvalid, got %v", err)
			}
		})
	}
}

func TestUpsertSettingsBoundsCheckMergedState(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	if _, err := engine.UpsertSettings(ctx, SettingsPatch{
		TenantID:       "tenant-1",
		TimeoutSeconds: intPtr(120),
	}); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}

	// Lead of 150 is fine against the 300s default but not against the
	// stored 120s timeout.
	if _, err := engine.UpsertSettings(ctx, SettingsPatch{
		TenantID:            "tenant-1",
		ReminderLeadSeconds: intPtr(150),
	}); !errors.Is(err, ErrSettingsInvalid) {
		t.Fatalf("expected ErrSettingsInvalid against merged state, got %v", err)
	}
}

func TestUpsertSettingsConcurrentPatchesKeepBounds(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	if _, err := engine.UpsertSettings(ctx, SettingsPatch{TenantID: "tenant-1"}); err != nil {
		t.Fatalf("seed UpsertSettings failed: %v", err)
	}

	// Each patch is valid against the seeded 300/60 row, but their merge is
	// not. Whichever write commits second must observe the first inside the
	// transaction and be rejected.
	patches := []SettingsPatch{
		{TenantID: "tenant-1", TimeoutSeconds: intPtr(70)},
		{TenantID: "tenant-1", ReminderLeadSeconds: intPtr(250)},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(patches))
	for i, patch := range patches {
		wg.Add(1)
		go func(i int, patch SettingsPatch) {
			defer wg.Done()
			_, errs[i] = engine.UpsertSettings(ctx, patch)
		}(i, patch)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, ErrSettingsInvalid) {
			t.Fatalf("patch %d failed unexpectedly: %v", i, err)
		}
	}

	stored, err := engine.settings.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ReminderLeadSeconds >= stored.TimeoutSeconds {
		t.Fatalf("concurrent patches merged into invalid row: %+v", stored)
	}
}

func TestSettingsCacheInvalidatedOnUpsert(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	cache := ttlcache.NewCache()
	if err := cache.SetTTL(time.Minute); err != nil {
		t.Fatalf("SetTTL failed: %v", err)
	}
	cache.SkipTTLExtensionOnHit(true)
	engine.settingsCache = cache

	before, err := engine.Settings(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if before.TimeoutSeconds != 300 {
		t.Fatalf("expected default timeout before upsert, got %d", before.TimeoutSeconds)
	}

	if _, err := engine.UpsertSettings(ctx, SettingsPatch{
		TenantID:       "tenant-1",
		TimeoutSeconds: intPtr(600),
	}); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}

	after, err := engine.Settings(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if after.TimeoutSeconds != 600 {
		t.Fatalf("expected cache invalidated after upsert, got timeout %d", after.TimeoutSeconds)
	}
}

func TestStartSessionHonorsTenantTimeout(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, testConfig(), nil, nil)
	defer engine.Close()

	if _, err := engine.UpsertSettings(ctx, SettingsPatch{
		TenantID:       "tenant-1",
		TimeoutSeconds: intPtr(900),
	}); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}

	before := time.Now()
	result, err := engine.StartSession(ctx, "member-1", "tenant-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	got := result.ExpiresAt.Sub(before)
	if got < 895*time.Second || got > 905*time.Second {
		t.Fatalf("expected ~900s deadline from tenant settings, got %s", got)
	}
}
