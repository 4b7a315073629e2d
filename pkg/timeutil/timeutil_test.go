package timeutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_UsesLocation(t *testing.T) {
	// 2026-03-01 20:30 UTC is already 2026-03-02 in Almaty (UTC+5).
	instant := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC)
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)

	assert.Equal(t, "2026-03-01", DateOf(instant, time.UTC).String())
	assert.Equal(t, "2026-03-02", DateOf(instant, almaty).String())
	assert.Equal(t, "2026-03-01", DateOf(instant, nil).String())
}

func TestDate_Arithmetic(t *testing.T) {
	d := MustParseDate("2026-02-27")

	assert.Equal(t, "2026-03-01", d.AddDays(2).String())
	assert.Equal(t, 2, d.DaysUntil(d.AddDays(2)))
	assert.Equal(t, -3, d.DaysUntil(d.AddDays(-3)))
	assert.True(t, d.AddDays(1).IsNextDayOf(d))
	assert.False(t, d.AddDays(2).IsNextDayOf(d))
	assert.False(t, d.IsNextDayOf(Date{}))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.True(t, d.Equal(NewDate(2026, time.February, 27)))
}

func TestDate_Zero(t *testing.T) {
	var d Date

	assert.True(t, d.IsZero())
	assert.Equal(t, "", d.String())
	assert.True(t, d.AddDays(5).IsZero())
	assert.True(t, d.Before(MustParseDate("1970-01-01")))

	parsed, err := ParseDate("  ")
	require.NoError(t, err)
	assert.True(t, parsed.IsZero())
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		Day Date `json:"day"`
	}

	data, err := json.Marshal(wrapper{Day: MustParseDate("2026-10-16")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2026-10-16"}`, string(data))

	var back wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"day":"2026-01-05"}`), &back))
	assert.Equal(t, "2026-01-05", back.Day.String())

	assert.Error(t, json.Unmarshal([]byte(`{"day":"05.01.2026"}`), &back))
}

func TestFixedClock(t *testing.T) {
	clock := NewFixedClock(MustParseDate("2026-01-01"))
	assert.Equal(t, "2026-01-01", clock.Today().String())

	clock.Advance(8)
	assert.Equal(t, "2026-01-09", clock.Today().String())
	assert.Equal(t, "2026-01-09", DateOf(clock.Now(), time.UTC).String())

	clock.Set(MustParseDate("2025-12-31"))
	assert.Equal(t, "2025-12-31", clock.Today().String())
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}
