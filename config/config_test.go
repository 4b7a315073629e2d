package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.Equal(t, "UTC", cfg.App.Timezone)
	assert.Equal(t, 3, cfg.Progression.MaxConflictRetries)
	assert.Equal(t, 2*time.Second, cfg.Progression.PersistTimeout)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.True(t, cfg.Redis.Disabled)
	assert.Empty(t, cfg.HTTP.AdminAPIKeys)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PROGRESSION_STORE", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/p.db")
	t.Setenv("APP_TIMEZONE", "America/Chicago")
	t.Setenv("PROGRESSION_PERSIST_TIMEOUT", "750ms")
	t.Setenv("HTTP_ADMIN_API_KEYS", " a , ,b ")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Kind)
	assert.Equal(t, "/tmp/p.db", cfg.Store.SQLitePath)
	assert.Equal(t, "America/Chicago", cfg.App.Timezone)
	assert.Equal(t, 750*time.Millisecond, cfg.Progression.PersistTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.HTTP.AdminAPIKeys)
	assert.Equal(t, 8080, cfg.HTTP.Port, "unparsable values fall back to the default")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	t.Setenv("PROGRESSION_STORE", "postgres")
	t.Setenv("PROGRESSION_CACHE_ENABLED", "true")
	t.Setenv("PROGRESSION_MAX_CONFLICT_RETRIES", "-1")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"APP_TIMEZONE",
		"DATABASE_URL is required",
		"PROGRESSION_CACHE_ENABLED requires Redis",
		"PROGRESSION_MAX_CONFLICT_RETRIES",
	} {
		assert.Contains(t, msg, want)
	}
	assert.Equal(t, 4, strings.Count(msg, "\n  - "))
}

func TestValidate_RejectsUnknownStoreAndMemoryInProduction(t *testing.T) {
	t.Setenv("PROGRESSION_STORE", "mongo")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "mongo"`)

	t.Setenv("PROGRESSION_STORE", "memory")
	t.Setenv("APP_ENV", "production")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")
}

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureDailyLogin, nil))
	assert.True(t, ff.IsEnabled(FeatureBatchAwards, nil))
	assert.False(t, ff.IsEnabled(FeatureEventFanout, nil))
	assert.False(t, ff.IsEnabled("no.such.feature", nil))
	assert.True(t, ff.IsEnabled(FeatureEventFanout, &FeatureContext{IsAdmin: true}))
}

func TestFeatureFlags_Environment(t *testing.T) {
	t.Setenv("FEATURE_PROGRESSION_DAILY_LOGIN", "false")
	t.Setenv("FEATURE_EVENTS_REDIS_FANOUT", "100")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureDailyLogin, nil))
	assert.True(t, ff.IsEnabled(FeatureEventFanout, nil))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureBatchAwards, 50))

	enabled := 0
	for i := 0; i < 1000; i++ {
		ctx := &FeatureContext{UserID: fmt.Sprintf("user-%d", i)}
		first := ff.IsEnabled(FeatureBatchAwards, ctx)
		assert.Equal(t, first, ff.IsEnabled(FeatureBatchAwards, ctx))
		if first {
			enabled++
		}
	}
	assert.Greater(t, enabled, 350)
	assert.Less(t, enabled, 650)

	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureBatchAwards, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
}

func TestFeatureFlags_UserOverride(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureDailyLogin))

	ff.SetUserOverride("u1", FeatureDailyLogin, true)
	assert.True(t, ff.IsEnabled(FeatureDailyLogin, &FeatureContext{UserID: "u1"}))
	assert.False(t, ff.IsEnabled(FeatureDailyLogin, &FeatureContext{UserID: "u2"}))

	ff.ClearUserOverrides("u1")
	assert.False(t, ff.IsEnabled(FeatureDailyLogin, &FeatureContext{UserID: "u1"}))
	assert.Equal(t, 0, ff.GetAllFeatures()[FeatureDailyLogin].RolloutPercent)
}
