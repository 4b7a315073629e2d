package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor_DefaultTable(t *testing.T) {
	tiers := DefaultTierTable()

	tests := []struct {
		exp          int
		level        LevelName
		next         LevelName
		pointsToNext int
	}{
		{0, LevelSeed, LevelSprout, 100},
		{-40, LevelSeed, LevelSprout, 100},
		{99, LevelSeed, LevelSprout, 1},
		{100, LevelSprout, LevelSapling, 200},
		{299, LevelSprout, LevelSapling, 1},
		{300, LevelSapling, LevelBlossom, 400},
		{1499, LevelBlossom, LevelFruitful, 1},
		{1500, LevelFruitful, LevelEvergreen, 1500},
		{3000, LevelEvergreen, LevelEvergreen, 0},
		{99999, LevelEvergreen, LevelEvergreen, 0},
	}

	for _, tt := range tests {
		info := tiers.TierFor(tt.exp)
		assert.Equal(t, tt.level, info.Level, "exp=%d", tt.exp)
		assert.Equal(t, tt.next, info.Next, "exp=%d", tt.exp)
		assert.Equal(t, tt.pointsToNext, info.PointsToNext, "exp=%d", tt.exp)
	}
}

func TestTierFor_Terminal(t *testing.T) {
	info := DefaultTierTable().TierFor(5000)

	assert.True(t, info.IsTerminal)
	assert.Equal(t, 100, info.ProgressPercent())
	assert.Equal(t, 5, info.Rank)
}

func TestTierInfo_ProgressPercent(t *testing.T) {
	info := DefaultTierTable().TierFor(200) // sprout: 100..300
	assert.Equal(t, 50, info.ProgressPercent())
}

func TestNewTierTable_Validation(t *testing.T) {
	_, err := NewTierTable(nil)
	assert.Error(t, err)

	_, err = NewTierTable([]TierRow{{Level: "a", Threshold: 5, Next: "a"}})
	assert.Error(t, err, "first threshold must be zero")

	_, err = NewTierTable([]TierRow{
		{Level: "a", Threshold: 0, Next: "b"},
		{Level: "b", Threshold: 0, Next: "b"},
	})
	assert.Error(t, err, "thresholds must strictly increase")

	_, err = NewTierTable([]TierRow{
		{Level: "a", Threshold: 0, Next: "b"},
		{Level: "b", Threshold: 10, Next: "c"},
	})
	assert.Error(t, err, "terminal row must point to itself")

	table, err := NewTierTable([]TierRow{
		{Level: "a", Threshold: 0, Next: "b"},
		{Level: "b", Threshold: 10, Next: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, LevelName("a"), table.First())
	assert.Equal(t, 1, table.RankOf("b"))
	assert.Equal(t, -1, table.RankOf("zzz"))
	assert.Len(t, table.Rows(), 2)
}
