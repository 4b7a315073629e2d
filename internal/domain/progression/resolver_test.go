package progression

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracegarden/community-hub/internal/domain/shared"
)

const testUser shared.UserID = "6f1c1d4e-2b8a-4c47-9a53-0d2f1e7b9c11"

func resolve(t *testing.T, r *Resolver, p *UserProgression, kind ActivityKind, today string) (*UserProgression, Delta) {
	t.Helper()
	next, delta, err := r.Resolve(p, NewActivity(kind), day(today))
	require.NoError(t, err)
	return next, delta
}

func TestResolve_CommunityScenario(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)

	// День 1: запись в дневнике
	p, delta := resolve(t, r, p, ActivityJournalEntryCreated, "2026-01-01")
	assert.Equal(t, 20, p.Experience.Int())
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, LevelSeed, p.Level)
	assert.Equal(t, []AchievementID{AchievementFirstJournalEntry}, delta.AchievementsUnlocked)
	assert.Equal(t, 20, delta.PointsAwarded)

	// День 2: ежедневный вход
	p, delta = resolve(t, r, p, ActivityDailyLogin, "2026-01-02")
	assert.Equal(t, 30, p.Experience.Int())
	assert.Equal(t, 2, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)
	assert.Empty(t, delta.AchievementsUnlocked)
	assert.Zero(t, delta.BonusPoints)

	// День 9: серия прервалась
	p, delta = resolve(t, r, p, ActivityDailyLogin, "2026-01-09")
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)
	assert.True(t, delta.StreakBroken)
	assert.Equal(t, 6, delta.DaysMissed)
	assert.Equal(t, 40, p.Experience.Int())
}

func TestResolve_DailyLoginMilestones(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)
	start := day("2026-03-01")

	var total int
	var unlocked []AchievementID
	for i := 0; i < 7; i++ {
		next, delta, err := r.Resolve(p, NewActivity(ActivityDailyLogin), start.AddDays(i))
		require.NoError(t, err)
		p = next
		total += delta.PointsAwarded
		unlocked = append(unlocked, delta.AchievementsUnlocked...)

		switch i + 1 {
		case 3:
			assert.Equal(t, 15, delta.BonusPoints)
			assert.Contains(t, delta.AchievementsUnlocked, AchievementThreeDayStreak)
		case 7:
			assert.Equal(t, 50, delta.BonusPoints)
			assert.Contains(t, delta.AchievementsUnlocked, AchievementSustainedFaithfulness)
		default:
			assert.Zero(t, delta.BonusPoints)
		}
	}

	assert.Equal(t, 7*10+15+50, total)
	assert.Equal(t, total, p.Experience.Int())
	assert.Equal(t, 7, p.CurrentStreak)
	assert.Contains(t, unlocked, AchievementGrowingRoots)
}

func TestResolve_SameDayLoginHasNoBonusOrStreakChange(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)

	p, _ = resolve(t, r, p, ActivityDailyLogin, "2026-03-01")
	p, _ = resolve(t, r, p, ActivityDailyLogin, "2026-03-02")
	p, d3 := resolve(t, r, p, ActivityDailyLogin, "2026-03-03")
	require.Equal(t, 15, d3.BonusPoints)

	again, delta := resolve(t, r, p, ActivityDailyLogin, "2026-03-03")
	assert.False(t, delta.StreakAdvanced)
	assert.Zero(t, delta.BonusPoints)
	assert.Equal(t, 3, again.CurrentStreak)
}

func TestResolve_ReversalFloorsAtZero(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)

	p, _ = resolve(t, r, p, ActivityCommentPosted, "2026-02-01")
	require.Equal(t, 5, p.Experience.Int())

	p, delta := resolve(t, r, p, ActivityContentUncompleted, "2026-02-01")
	assert.Equal(t, 0, p.Experience.Int())
	assert.Equal(t, -5, delta.PointsAwarded)
}

func TestResolve_ReversalDoesNotTouchStreak(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)
	p, _ = resolve(t, r, p, ActivityContentCompleted, "2026-02-01")

	p, delta := resolve(t, r, p, ActivityContentUncompleted, "2026-02-05")
	assert.False(t, delta.StreakAdvanced)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, "2026-02-01", p.LastActivityDate.String())
}

func TestResolve_EventRegistrationIsNotStreakQualifying(t *testing.T) {
	r := NewResolver()
	p, delta := resolve(t, r, r.Initial(testUser), ActivityEventRegistered, "2026-02-01")

	assert.Equal(t, 10, p.Experience.Int())
	assert.Equal(t, 0, p.CurrentStreak)
	assert.True(t, p.LastActivityDate.IsZero())
	assert.Equal(t, []AchievementID{AchievementEventGoer}, delta.AchievementsUnlocked)
}

func TestResolve_ContentIdempotence(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)
	lesson := Activity{Kind: ActivityContentCompleted, ContentID: "lesson-1"}

	p, delta, err := r.Resolve(p, lesson, day("2026-02-01"))
	require.NoError(t, err)
	assert.Equal(t, 25, delta.PointsAwarded)
	assert.True(t, p.HasCompleted("lesson-1"))

	p, delta, err = r.Resolve(p, lesson, day("2026-02-01"))
	require.NoError(t, err)
	assert.Zero(t, delta.PointsAwarded, "completing twice awards nothing")
	assert.Equal(t, 25, p.Experience.Int())

	undoOther := Activity{Kind: ActivityContentUncompleted, ContentID: "lesson-2"}
	p, delta, err = r.Resolve(p, undoOther, day("2026-02-01"))
	require.NoError(t, err)
	assert.Zero(t, delta.PointsAwarded, "reversing unknown content reverses nothing")

	undo := Activity{Kind: ActivityContentUncompleted, ContentID: "lesson-1"}
	p, delta, err = r.Resolve(p, undo, day("2026-02-01"))
	require.NoError(t, err)
	assert.Equal(t, -25, delta.PointsAwarded)
	assert.False(t, p.HasCompleted("lesson-1"))
	assert.Equal(t, 0, p.Experience.Int())
}

func TestResolve_ContentExplorer(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)

	var unlocked []AchievementID
	for i := 0; i < 10; i++ {
		a := Activity{Kind: ActivityContentCompleted, ContentID: shared.ContentID("c-" + string(rune('a'+i)))}
		next, delta, err := r.Resolve(p, a, day("2026-06-01"))
		require.NoError(t, err)
		p = next
		unlocked = append(unlocked, delta.AchievementsUnlocked...)
	}

	assert.Contains(t, unlocked, AchievementContentExplorer)
	assert.Len(t, p.CompletedContent, 10)
}

func TestResolve_LevelUp(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)

	p, delta := resolve(t, r, p, ActivityReadingPlanFinished, "2026-02-01")
	assert.True(t, delta.LeveledUp)
	assert.Equal(t, LevelSeed, delta.PreviousLevel)
	assert.Equal(t, LevelSprout, delta.NewLevel)
	assert.Equal(t, LevelSprout, p.Level)
	assert.Equal(t, []AchievementID{AchievementReadingPlanFinisher, AchievementGrowingRoots}, delta.AchievementsUnlocked)

	p, delta = resolve(t, r, p, ActivityContentUncompleted, "2026-02-01")
	assert.True(t, delta.LevelChanged)
	assert.False(t, delta.LeveledUp)
	assert.Equal(t, LevelSeed, p.Level)
	assert.True(t, p.HasAchievement(AchievementGrowingRoots), "achievements are never revoked")
}

func TestResolve_InvalidActivity(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)

	next, _, err := r.Resolve(p, NewActivity("levitated"), day("2026-02-01"))
	assert.Nil(t, next)
	assert.True(t, errors.Is(err, shared.ErrInvalidActivity))
	assert.True(t, shared.IsValidation(err))
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)
	p.CompletedContent = append(p.CompletedContent, "kept")

	_, _, err := r.Resolve(p, Activity{Kind: ActivityContentUncompleted, ContentID: "kept"}, day("2026-02-01"))
	require.NoError(t, err)

	_, _, err = r.Resolve(p, NewActivity(ActivityJournalEntryCreated), day("2026-02-01"))
	require.NoError(t, err)

	assert.Equal(t, 0, p.Experience.Int())
	assert.Empty(t, p.UnlockedAchievements)
	assert.Equal(t, []shared.ContentID{"kept"}, p.CompletedContent)
	assert.True(t, p.LastActivityDate.IsZero())
}

func TestResolve_Properties(t *testing.T) {
	r := NewResolver()
	kinds := make([]ActivityKind, 0)
	for _, spec := range AllActivitySpecs() {
		kinds = append(kinds, spec.Kind)
	}

	rng := rand.New(rand.NewSource(7))
	p := r.Initial(testUser)
	today := day("2026-01-01")

	for i := 0; i < 2000; i++ {
		today = today.AddDays(rng.Intn(3))
		prev := p

		a := NewActivity(kinds[rng.Intn(len(kinds))])
		if rng.Intn(2) == 0 {
			a.ContentID = shared.ContentID([]string{"x", "y", "z"}[rng.Intn(3)])
		}

		next, _, err := r.Resolve(p, a, today)
		require.NoError(t, err)
		p = next

		// опыт не отрицательный, уровень согласован с опытом
		require.GreaterOrEqual(t, p.Experience.Int(), 0)
		require.Equal(t, r.Tiers().TierFor(p.Experience.Int()).Level, p.Level)

		// лучшая серия не уменьшается и покрывает текущую
		require.GreaterOrEqual(t, p.LongestStreak, prev.LongestStreak)
		require.GreaterOrEqual(t, p.LongestStreak, p.CurrentStreak)

		// набор достижений только растёт
		for _, id := range prev.UnlockedAchievements {
			require.True(t, p.HasAchievement(id))
		}
		require.NoError(t, p.Validate(r.Tiers()))
	}
}

func TestResolve_DailyLoginIdempotentWithinDay(t *testing.T) {
	r := NewResolver()
	p := r.Initial(testUser)
	p, _ = resolve(t, r, p, ActivityDailyLogin, "2026-01-01")

	streakBefore := p.Streak()
	p2, delta := resolve(t, r, p, ActivityPrayedForPost, "2026-01-01")
	assert.Equal(t, streakBefore, p2.Streak())
	assert.False(t, delta.StreakAdvanced)
}
