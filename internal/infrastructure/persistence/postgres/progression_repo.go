package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn Querier
}

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn Querier) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

var _ progression.Repository = (*ProgressionRepository)(nil)

const selectProgression = `
	SELECT user_id, experience, level, current_streak, longest_streak,
		   last_activity_date, unlocked_achievements, completed_content,
		   version, updated_at
	FROM user_progression
	WHERE user_id = $1
`

// Load returns the progression record for a user.
func (r *ProgressionRepository) Load(ctx context.Context, userID shared.UserID) (*progression.UserProgression, error) {
	row := r.conn.QueryRow(ctx, selectProgression, userID.String())
	p, err := scanProgression(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrProgressionNotFound
		}
		return nil, shared.Unavailable("Load", fmt.Errorf("failed to load progression: %w", err))
	}
	return p, nil
}

// Save writes the record if the stored version equals expectedVersion.
// expectedVersion 0 inserts; a concurrent insert for the same user is a conflict.
func (r *ProgressionRepository) Save(ctx context.Context, p *progression.UserProgression, expectedVersion int64) error {
	now := time.Now().UTC()
	achievements := achievementsToStrings(p.UnlockedAchievements)
	content := contentToStrings(p.CompletedContent)
	lastActivity := dateToNullable(p.LastActivityDate)

	var (
		affected int64
		err      error
	)

	if expectedVersion == 0 {
		query := `
			INSERT INTO user_progression (
				user_id, experience, level, current_streak, longest_streak,
				last_activity_date, unlocked_achievements, completed_content,
				version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
			ON CONFLICT (user_id) DO NOTHING
		`
		tag, execErr := r.conn.Exec(ctx, query,
			p.UserID.String(),
			p.Experience.Int(),
			string(p.Level),
			p.CurrentStreak,
			p.LongestStreak,
			lastActivity,
			achievements,
			content,
			now,
		)
		err = execErr
		affected = tag.RowsAffected()
	} else {
		query := `
			UPDATE user_progression SET
				experience = $1,
				level = $2,
				current_streak = $3,
				longest_streak = $4,
				last_activity_date = $5,
				unlocked_achievements = $6,
				completed_content = $7,
				version = version + 1,
				updated_at = $8
			WHERE user_id = $9 AND version = $10
		`
		tag, execErr := r.conn.Exec(ctx, query,
			p.Experience.Int(),
			string(p.Level),
			p.CurrentStreak,
			p.LongestStreak,
			lastActivity,
			achievements,
			content,
			now,
			p.UserID.String(),
			expectedVersion,
		)
		err = execErr
		affected = tag.RowsAffected()
	}

	if err != nil {
		if isWriteRace(err) {
			return shared.ErrPersistenceConflict
		}
		return shared.Unavailable("Save", fmt.Errorf("failed to save progression: %w", err))
	}
	if affected == 0 {
		return shared.ErrPersistenceConflict
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = now
	return nil
}

// Delete removes the progression record for a user.
func (r *ProgressionRepository) Delete(ctx context.Context, userID shared.UserID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM user_progression WHERE user_id = $1`, userID.String())
	if err != nil {
		return shared.Unavailable("Delete", fmt.Errorf("failed to delete progression: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProgressionNotFound
	}
	return nil
}

// ListUserIDs returns users ordered by experience, highest first.
func (r *ProgressionRepository) ListUserIDs(ctx context.Context, limit int) ([]shared.UserID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `
		SELECT user_id FROM user_progression
		ORDER BY experience DESC, user_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, shared.Unavailable("List", fmt.Errorf("failed to list progression: %w", err))
	}
	defer rows.Close()

	ids := make([]shared.UserID, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, shared.Unavailable("List", fmt.Errorf("failed to scan user id: %w", err))
		}
		ids = append(ids, shared.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Unavailable("List", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanProgression(row pgx.Row) (*progression.UserProgression, error) {
	var (
		userID       string
		experience   int
		level        string
		current      int
		longest      int
		lastActivity *time.Time
		achievements []string
		content      []string
		version      int64
		updatedAt    time.Time
	)

	if err := row.Scan(
		&userID,
		&experience,
		&level,
		&current,
		&longest,
		&lastActivity,
		&achievements,
		&content,
		&version,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	p := &progression.UserProgression{
		UserID:               shared.UserID(userID),
		Experience:           shared.XP(experience),
		Level:                progression.LevelName(level),
		CurrentStreak:        current,
		LongestStreak:        longest,
		UnlockedAchievements: make([]progression.AchievementID, 0, len(achievements)),
		CompletedContent:     make([]shared.ContentID, 0, len(content)),
		Version:              version,
		UpdatedAt:            updatedAt,
	}
	if lastActivity != nil {
		p.LastActivityDate = timeutil.DateOf(*lastActivity, time.UTC)
	}
	for _, a := range achievements {
		p.UnlockedAchievements = append(p.UnlockedAchievements, progression.AchievementID(a))
	}
	for _, c := range content {
		p.CompletedContent = append(p.CompletedContent, shared.ContentID(c))
	}
	return p, nil
}

func achievementsToStrings(ids []progression.AchievementID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func contentToStrings(ids []shared.ContentID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func dateToNullable(d timeutil.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}
