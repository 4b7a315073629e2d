// Package progression содержит доменную модель прогресса пользователя:
// уровни, серии дней, достижения и чистый резолвер активностей.
package progression

import (
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS (Уровни роста)
// ══════════════════════════════════════════════════════════════════════════════

// LevelName - название уровня. Уровни именуются этапами роста растения.
type LevelName string

const (
	LevelSeed      LevelName = "seed"
	LevelSprout    LevelName = "sprout"
	LevelSapling   LevelName = "sapling"
	LevelBlossom   LevelName = "blossom"
	LevelFruitful  LevelName = "fruitful"
	LevelEvergreen LevelName = "evergreen"
)

// String возвращает строковое представление.
func (l LevelName) String() string {
	return string(l)
}

// TierRow - строка таблицы уровней.
type TierRow struct {
	// Level - название уровня.
	Level LevelName `json:"level"`

	// Threshold - минимальный опыт для уровня.
	Threshold int `json:"threshold"`

	// Next - следующий уровень. Для последней строки совпадает с Level.
	Next LevelName `json:"next"`
}

// TierInfo - результат поиска уровня по опыту.
type TierInfo struct {
	Level         LevelName `json:"level"`
	Next          LevelName `json:"next"`
	Threshold     int       `json:"threshold"`
	NextThreshold int       `json:"next_threshold"`
	PointsToNext  int       `json:"points_to_next"`
	Rank          int       `json:"rank"` // 0-based позиция в таблице
	IsTerminal    bool      `json:"is_terminal"`
}

// ProgressPercent возвращает процент пути до следующего уровня (0-100).
func (ti TierInfo) ProgressPercent() int {
	if ti.IsTerminal {
		return 100
	}
	span := ti.NextThreshold - ti.Threshold
	if span <= 0 {
		return 100
	}
	return ((span - ti.PointsToNext) * 100) / span
}

// ══════════════════════════════════════════════════════════════════════════════
// TIER TABLE
// ══════════════════════════════════════════════════════════════════════════════

// TierTable - упорядоченная по возрастанию порога таблица уровней.
// Неизменяемая после создания.
type TierTable struct {
	rows []TierRow
}

// NewTierTable создаёт таблицу и проверяет её корректность:
// первый порог равен 0, пороги строго возрастают, каждая строка ссылается
// на следующую, последняя - на саму себя.
func NewTierTable(rows []TierRow) (*TierTable, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("tier table: no rows")
	}
	if rows[0].Threshold != 0 {
		return nil, fmt.Errorf("tier table: first threshold must be 0, got %d", rows[0].Threshold)
	}

	seen := make(map[LevelName]bool, len(rows))
	for i, row := range rows {
		if row.Level == "" {
			return nil, fmt.Errorf("tier table: row %d has empty level", i)
		}
		if seen[row.Level] {
			return nil, fmt.Errorf("tier table: duplicate level %q", row.Level)
		}
		seen[row.Level] = true

		if i > 0 && row.Threshold <= rows[i-1].Threshold {
			return nil, fmt.Errorf("tier table: threshold of %q must exceed %q", row.Level, rows[i-1].Level)
		}

		last := i == len(rows)-1
		switch {
		case last && row.Next != row.Level:
			return nil, fmt.Errorf("tier table: terminal level %q must point to itself", row.Level)
		case !last && row.Next != rows[i+1].Level:
			return nil, fmt.Errorf("tier table: level %q must point to %q", row.Level, rows[i+1].Level)
		}
	}

	copied := make([]TierRow, len(rows))
	copy(copied, rows)
	return &TierTable{rows: copied}, nil
}

var defaultTierRows = []TierRow{
	{Level: LevelSeed, Threshold: 0, Next: LevelSprout},
	{Level: LevelSprout, Threshold: 100, Next: LevelSapling},
	{Level: LevelSapling, Threshold: 300, Next: LevelBlossom},
	{Level: LevelBlossom, Threshold: 700, Next: LevelFruitful},
	{Level: LevelFruitful, Threshold: 1500, Next: LevelEvergreen},
	{Level: LevelEvergreen, Threshold: 3000, Next: LevelEvergreen},
}

// DefaultTierTable возвращает стандартную таблицу уровней сообщества.
func DefaultTierTable() *TierTable {
	t, err := NewTierTable(defaultTierRows)
	if err != nil {
		panic(err)
	}
	return t
}

// TierFor находит уровень для заданного опыта: последнюю строку, чей порог <= опыта.
// Отрицательный опыт трактуется как 0.
func (t *TierTable) TierFor(experience int) TierInfo {
	if experience < 0 {
		experience = 0
	}

	idx := 0
	for i, row := range t.rows {
		if row.Threshold > experience {
			break
		}
		idx = i
	}

	row := t.rows[idx]
	info := TierInfo{
		Level:     row.Level,
		Next:      row.Next,
		Threshold: row.Threshold,
		Rank:      idx,
	}

	if idx == len(t.rows)-1 {
		info.IsTerminal = true
		info.NextThreshold = row.Threshold
		info.PointsToNext = 0
		return info
	}

	info.NextThreshold = t.rows[idx+1].Threshold
	info.PointsToNext = info.NextThreshold - experience
	return info
}

// RankOf возвращает позицию уровня в таблице или -1.
func (t *TierTable) RankOf(level LevelName) int {
	for i, row := range t.rows {
		if row.Level == level {
			return i
		}
	}
	return -1
}

// First возвращает начальный уровень.
func (t *TierTable) First() LevelName {
	return t.rows[0].Level
}

// Rows возвращает копию строк таблицы.
func (t *TierTable) Rows() []TierRow {
	out := make([]TierRow, len(t.rows))
	copy(out, t.rows)
	return out
}
