package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDirectoryAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "progress.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestProgressionRepository_LoadMissing(t *testing.T) {
	repo := NewProgressionRepository(newTestDB(t))
	_, err := repo.Load(context.Background(), shared.GenerateUserID())
	assert.ErrorIs(t, err, shared.ErrProgressionNotFound)
}

func TestProgressionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressionRepository(newTestDB(t))
	userID := shared.GenerateUserID()

	p := progression.NewUserProgression(userID, progression.LevelSeed)
	p.Experience = 320
	p.Level = progression.LevelSapling
	p.CurrentStreak = 3
	p.LongestStreak = 4
	p.LastActivityDate = timeutil.MustParseDate("2026-03-09")
	p.UnlockedAchievements = []progression.AchievementID{
		progression.AchievementFirstComment,
		progression.AchievementThreeDayStreak,
	}
	p.CompletedContent = []shared.ContentID{"devotional-1", "devotional-2"}

	require.NoError(t, repo.Save(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)

	loaded, err := repo.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, loaded.UserID)
	assert.Equal(t, 320, loaded.Experience.Int())
	assert.Equal(t, progression.LevelSapling, loaded.Level)
	assert.Equal(t, 3, loaded.CurrentStreak)
	assert.Equal(t, 4, loaded.LongestStreak)
	assert.True(t, loaded.LastActivityDate.Equal(p.LastActivityDate))
	assert.Equal(t, p.UnlockedAchievements, loaded.UnlockedAchievements)
	assert.Equal(t, p.CompletedContent, loaded.CompletedContent)
	assert.Equal(t, int64(1), loaded.Version)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestProgressionRepository_NeverActiveUser(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressionRepository(newTestDB(t))
	userID := shared.GenerateUserID()

	require.NoError(t, repo.Save(ctx, progression.NewUserProgression(userID, progression.LevelSeed), 0))

	loaded, err := repo.Load(ctx, userID)
	require.NoError(t, err)
	assert.True(t, loaded.LastActivityDate.IsZero())
	assert.NotNil(t, loaded.UnlockedAchievements)
	assert.Empty(t, loaded.UnlockedAchievements)
	assert.NotNil(t, loaded.CompletedContent)
}

func TestProgressionRepository_VersionConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressionRepository(newTestDB(t))
	userID := shared.GenerateUserID()

	first := progression.NewUserProgression(userID, progression.LevelSeed)
	require.NoError(t, repo.Save(ctx, first, 0))

	dup := progression.NewUserProgression(userID, progression.LevelSeed)
	assert.ErrorIs(t, repo.Save(ctx, dup, 0), shared.ErrPersistenceConflict)

	next := first.Clone()
	next.Experience = 25
	require.NoError(t, repo.Save(ctx, next, 1))
	assert.Equal(t, int64(2), next.Version)

	stale := first.Clone()
	stale.Experience = 999
	assert.ErrorIs(t, repo.Save(ctx, stale, 1), shared.ErrPersistenceConflict)

	loaded, err := repo.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Experience.Int())
	assert.Equal(t, int64(2), loaded.Version)
}

func TestProgressionRepository_ConcurrentWritersSameVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressionRepository(newTestDB(t))
	userID := shared.GenerateUserID()
	require.NoError(t, repo.Save(ctx, progression.NewUserProgression(userID, progression.LevelSeed), 0))

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(points int) {
			defer wg.Done()
			p := progression.NewUserProgression(userID, progression.LevelSeed)
			p.Experience = shared.XP(points)
			if repo.Save(ctx, p, 1) == nil {
				accepted.Add(1)
			}
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestProgressionRepository_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressionRepository(newTestDB(t))

	low := progression.NewUserProgression(shared.GenerateUserID(), progression.LevelSeed)
	low.Experience = 10
	high := progression.NewUserProgression(shared.GenerateUserID(), progression.LevelSeed)
	high.Experience = 500
	require.NoError(t, repo.Save(ctx, low, 0))
	require.NoError(t, repo.Save(ctx, high, 0))

	ids, err := repo.ListUserIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{high.UserID, low.UserID}, ids)

	require.NoError(t, repo.Delete(ctx, low.UserID))
	assert.ErrorIs(t, repo.Delete(ctx, low.UserID), shared.ErrProgressionNotFound)

	ids, err = repo.ListUserIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{high.UserID}, ids)
}

func TestProgressionRepository_ClosedDatabaseIsUnavailable(t *testing.T) {
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	repo := NewProgressionRepository(db)
	require.NoError(t, db.Close())

	_, err = repo.Load(context.Background(), shared.GenerateUserID())
	assert.True(t, shared.IsUnavailable(err))
	assert.True(t, shared.IsUnavailable(repo.Ping(context.Background())))
}
