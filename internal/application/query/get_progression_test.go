package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/memory"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

type failingRepo struct{}

func (failingRepo) Load(context.Context, shared.UserID) (*progression.UserProgression, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (failingRepo) Save(context.Context, *progression.UserProgression, int64) error {
	return errors.New("dial tcp: connection refused")
}

func (failingRepo) Delete(context.Context, shared.UserID) error {
	return errors.New("dial tcp: connection refused")
}

func TestGetProgression_MissingRecordIsZeroState(t *testing.T) {
	clock := timeutil.NewFixedClock(timeutil.MustParseDate("2026-05-10"))
	h := NewGetProgressionHandler(memory.NewStore(), nil, clock, 0, nil)

	dto, err := h.Handle(context.Background(), GetProgressionQuery{UserID: shared.GenerateUserID()})
	require.NoError(t, err)

	assert.True(t, dto.IsNew)
	assert.Equal(t, 0, dto.Experience)
	assert.Equal(t, progression.LevelSeed, dto.Tier.Level)
	assert.Equal(t, 100, dto.Tier.PointsToNext)
	assert.Equal(t, 0, dto.ProgressPercent)
	assert.Equal(t, "", dto.Streak.LastActivityDate)
	assert.Equal(t, 0, dto.Streak.DaysUntilBreak)
	assert.Empty(t, dto.Achievements)
	assert.Equal(t, "2026-05-10", dto.Today)
}

func TestGetProgression_StreakHints(t *testing.T) {
	store := memory.NewStore()
	clock := timeutil.NewFixedClock(timeutil.MustParseDate("2026-05-10"))
	h := NewGetProgressionHandler(store, nil, clock, 0, nil)
	ctx := context.Background()

	userID := shared.GenerateUserID()
	p := progression.NewUserProgression(userID, progression.LevelSprout)
	p.Experience = 200
	p.CurrentStreak = 4
	p.LongestStreak = 6
	p.LastActivityDate = timeutil.MustParseDate("2026-05-09")
	p.UnlockedAchievements = []progression.AchievementID{
		progression.AchievementGrowingRoots,
		progression.AchievementThreeDayStreak,
	}
	p.CompletedContent = []shared.ContentID{"a", "b"}
	require.NoError(t, store.Save(ctx, p, 0))

	tests := []struct {
		name      string
		today     string
		effective int
		broken    bool
		untilBrk  int
		active    bool
	}{
		{"active today", "2026-05-09", 4, false, 2, true},
		{"must act today", "2026-05-10", 4, false, 1, false},
		{"already broken", "2026-05-12", 0, true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Set(timeutil.MustParseDate(tt.today))

			dto, err := h.Handle(ctx, GetProgressionQuery{UserID: userID})
			require.NoError(t, err)

			assert.Equal(t, 4, dto.Streak.Stored)
			assert.Equal(t, tt.effective, dto.Streak.Effective)
			assert.Equal(t, tt.broken, dto.Streak.IsBroken)
			assert.Equal(t, tt.untilBrk, dto.Streak.DaysUntilBreak)
			assert.Equal(t, tt.active, dto.Streak.ActiveToday)
		})
	}

	dto, err := h.Handle(ctx, GetProgressionQuery{UserID: userID})
	require.NoError(t, err)
	assert.False(t, dto.IsNew)
	assert.Equal(t, int64(1), dto.Version)
	assert.Equal(t, 2, dto.CompletedContentCount)
	assert.Equal(t, 50, dto.ProgressPercent)
	require.Len(t, dto.Achievements, 2)
	assert.Equal(t, "Growing Roots", dto.Achievements[0].Name)
	assert.Equal(t, progression.AchievementThreeDayStreak, dto.Achievements[1].ID)
}

func TestGetProgression_Errors(t *testing.T) {
	clock := timeutil.NewFixedClock(timeutil.MustParseDate("2026-05-10"))

	_, err := NewGetProgressionHandler(memory.NewStore(), nil, clock, 0, nil).
		Handle(context.Background(), GetProgressionQuery{UserID: "not-a-uuid"})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = NewGetProgressionHandler(failingRepo{}, nil, clock, 0, nil).
		Handle(context.Background(), GetProgressionQuery{UserID: shared.GenerateUserID()})
	assert.ErrorIs(t, err, shared.ErrPersistenceUnavailable)
}

func TestGetCatalog(t *testing.T) {
	catalog := GetCatalog(nil)

	require.NotEmpty(t, catalog.Tiers)
	assert.Equal(t, progression.LevelSeed, catalog.Tiers[0].Level)
	assert.Len(t, catalog.Activities, 11)
	assert.Len(t, catalog.Achievements, 14)
	assert.Equal(t, 50, catalog.Milestones[7])
}
