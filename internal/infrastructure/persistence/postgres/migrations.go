package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// ErrNoDownMigration is returned when the newest applied step cannot be undone.
var ErrNoDownMigration = errors.New("postgres: migration has no down step")

// Migration is one schema step. Up and Down run inside a transaction
// together with the bookkeeping row.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus pairs a known migration with when it was applied.
type MigrationStatus struct {
	Migration
	AppliedAt *time.Time
}

// Applied reports whether the step is in the schema.
func (s MigrationStatus) Applied() bool { return s.AppliedAt != nil }

// Beginner opens transactions; *DB and *pgxpool.Pool implement it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Querier
}

// Migrator applies the schema steps of this package.
type Migrator struct {
	db    Beginner
	steps []Migration
}

// NewMigrator uses the built-in schema steps.
func NewMigrator(db Beginner) *Migrator {
	return &Migrator{db: db, steps: schema()}
}

const (
	createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	selectApplied = `SELECT version, applied_at FROM schema_migrations`
)

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.db.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := m.db.Query(ctx, selectApplied)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Status lists every known step in version order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(m.steps))
	for _, step := range m.steps {
		st := MigrationStatus{Migration: step}
		if at, ok := applied[step.Version]; ok {
			at := at
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// Up applies every pending step and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, step := range m.steps {
		if _, ok := applied[step.Version]; ok {
			continue
		}
		err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, step.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, step.Version, step.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("migration %03d %s: %w", step.Version, step.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Down reverts up to n of the newest applied steps and returns how many ran.
func (m *Migrator) Down(ctx context.Context, n int) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	byVersion := make(map[int]Migration, len(m.steps))
	for _, step := range m.steps {
		byVersion[step.Version] = step
	}

	ran := 0
	for _, v := range versions {
		if ran == n {
			break
		}
		step, ok := byVersion[v]
		if !ok || step.Down == "" {
			return ran, fmt.Errorf("%w: %03d", ErrNoDownMigration, v)
		}
		err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, step.Down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, step.Version)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("revert %03d %s: %w", step.Version, step.Name, err)
		}
		ran++
	}
	return ran, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

func schema() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_user_progression",
			Up: `
-- One row per user; version is the optimistic concurrency token.
CREATE TABLE IF NOT EXISTS user_progression (
    user_id UUID PRIMARY KEY,
    experience INTEGER NOT NULL DEFAULT 0,
    level VARCHAR(30) NOT NULL,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    unlocked_achievements TEXT[] NOT NULL DEFAULT '{}',
    completed_content TEXT[] NOT NULL DEFAULT '{}',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_experience CHECK (experience >= 0),
    CONSTRAINT valid_streaks CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_version CHECK (version > 0)
);

CREATE INDEX IF NOT EXISTS idx_user_progression_level ON user_progression(level);
CREATE INDEX IF NOT EXISTS idx_user_progression_last_activity ON user_progression(last_activity_date);`,
			Down: `DROP TABLE IF EXISTS user_progression;`,
		},
		{
			Version: 2,
			Name:    "index_user_progression_experience",
			Up: `
CREATE INDEX IF NOT EXISTS idx_user_progression_experience
    ON user_progression(experience DESC, user_id);`,
			Down: `DROP INDEX IF EXISTS idx_user_progression_experience;`,
		},
	}
}
