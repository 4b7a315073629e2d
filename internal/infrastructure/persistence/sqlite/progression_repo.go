package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ProgressionRepository implements progression.Repository on SQLite.
type ProgressionRepository struct {
	db  DBTX
	now func() time.Time
}

// NewProgressionRepository creates a repository over db.
func NewProgressionRepository(db DBTX) *ProgressionRepository {
	return &ProgressionRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var _ progression.Repository = (*ProgressionRepository)(nil)

// Load returns the progression record for a user.
func (r *ProgressionRepository) Load(ctx context.Context, userID shared.UserID) (*progression.UserProgression, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, experience, level, current_streak, longest_streak,
		       last_activity_date, unlocked_achievements, completed_content,
		       version, updated_at
		FROM user_progression
		WHERE user_id = ?`, userID.String())

	var (
		id, level, achievementsJSON, contentJSON, updatedAt string
		experience, current, longest                        int
		lastActivity                                        sql.NullString
		version                                             int64
	)
	err := row.Scan(&id, &experience, &level, &current, &longest,
		&lastActivity, &achievementsJSON, &contentJSON, &version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrProgressionNotFound
		}
		return nil, shared.Unavailable("Load", fmt.Errorf("loading progression: %w", err))
	}

	p := &progression.UserProgression{
		UserID:        shared.UserID(id),
		Experience:    shared.XP(experience),
		Level:         progression.LevelName(level),
		CurrentStreak: current,
		LongestStreak: longest,
		Version:       version,
	}
	if lastActivity.Valid && lastActivity.String != "" {
		d, err := timeutil.ParseDate(lastActivity.String)
		if err != nil {
			return nil, shared.Unavailable("Load", fmt.Errorf("decoding last_activity_date: %w", err))
		}
		p.LastActivityDate = d
	}
	if err := json.Unmarshal([]byte(achievementsJSON), &p.UnlockedAchievements); err != nil {
		return nil, shared.Unavailable("Load", fmt.Errorf("decoding unlocked_achievements: %w", err))
	}
	if err := json.Unmarshal([]byte(contentJSON), &p.CompletedContent); err != nil {
		return nil, shared.Unavailable("Load", fmt.Errorf("decoding completed_content: %w", err))
	}
	if p.UnlockedAchievements == nil {
		p.UnlockedAchievements = []progression.AchievementID{}
	}
	if p.CompletedContent == nil {
		p.CompletedContent = []shared.ContentID{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = ts
	}

	return p, nil
}

// Save writes the record if the stored version equals expectedVersion.
func (r *ProgressionRepository) Save(ctx context.Context, p *progression.UserProgression, expectedVersion int64) error {
	achievements, err := json.Marshal(nonNil(p.UnlockedAchievements))
	if err != nil {
		return fmt.Errorf("encoding unlocked_achievements: %w", err)
	}
	content, err := json.Marshal(nonNil(p.CompletedContent))
	if err != nil {
		return fmt.Errorf("encoding completed_content: %w", err)
	}

	var lastActivity any
	if !p.LastActivityDate.IsZero() {
		lastActivity = p.LastActivityDate.String()
	}

	now := r.now()
	stamp := now.Format(time.RFC3339Nano)

	var res sql.Result
	if expectedVersion == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO user_progression (
				user_id, experience, level, current_streak, longest_streak,
				last_activity_date, unlocked_achievements, completed_content,
				version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			p.UserID.String(), p.Experience.Int(), string(p.Level),
			p.CurrentStreak, p.LongestStreak, lastActivity,
			string(achievements), string(content), stamp, stamp)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE user_progression SET
				experience = ?, level = ?, current_streak = ?, longest_streak = ?,
				last_activity_date = ?, unlocked_achievements = ?, completed_content = ?,
				version = version + 1, updated_at = ?
			WHERE user_id = ? AND version = ?`,
			p.Experience.Int(), string(p.Level), p.CurrentStreak, p.LongestStreak,
			lastActivity, string(achievements), string(content), stamp,
			p.UserID.String(), expectedVersion)
	}
	if err != nil {
		if isConstraintError(err) {
			return shared.ErrPersistenceConflict
		}
		return shared.Unavailable("Save", fmt.Errorf("saving progression: %w", err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return shared.Unavailable("Save", fmt.Errorf("reading rows affected: %w", err))
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_progression WHERE user_id = ?`, userID.String())
	if err != nil {
		return shared.Unavailable("Delete", fmt.Errorf("deleting progression: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return shared.Unavailable("Delete", fmt.Errorf("reading rows affected: %w", err))
	}
	if affected == 0 {
		return shared.ErrProgressionNotFound
	}
	return nil
}

// Ping checks the database connection.
func (r *ProgressionRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return shared.Unavailable("Ping", err)
	}
	return nil
}

// ListUserIDs returns every stored user, ordered by experience descending.
func (r *ProgressionRepository) ListUserIDs(ctx context.Context, limit int) ([]shared.UserID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM user_progression
		ORDER BY experience DESC, user_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, shared.Unavailable("List", fmt.Errorf("listing progression: %w", err))
	}
	defer rows.Close()

	var ids []shared.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, shared.Unavailable("List", fmt.Errorf("scanning user id: %w", err))
		}
		ids = append(ids, shared.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Unavailable("List", err)
	}
	return ids, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isConstraintError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: user_progression.user_id")
}
