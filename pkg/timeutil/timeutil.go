// Package timeutil provides calendar-date utilities for daily streak tracking.
// "Today" is always resolved in the community's configured timezone, and the
// resulting Date carries no clock or zone so that comparisons are exact.
package timeutil

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // zone database for minimal images
)

// DefaultTimezone is the timezone used when none is configured.
const DefaultTimezone = "UTC"

// FormatDate is the standard date format (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// ═══════════════════════════════════════════════════════════════════════════
// Date
// ═══════════════════════════════════════════════════════════════════════════

// Date is a calendar day without time-of-day or zone.
// The zero value means "never" and sorts before every real date.
type Date struct {
	t time.Time // always UTC midnight
}

// NewDate creates a Date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewDate(local.Year(), local.Month(), local.Day())
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the zero Date.
func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, nil
	}
	t, err := time.ParseInLocation(FormatDate, value, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("timeutil: parse date %q: %w", value, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is like ParseDate but panics on error. Intended for tests and constants.
func MustParseDate(value string) Date {
	d, err := ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Equal reports whether both dates denote the same day.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// DaysUntil returns the number of calendar days from d to other (negative if other is earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

// IsNextDayOf reports whether d is exactly one day after prev.
func (d Date) IsNextDayOf(prev Date) bool {
	if prev.IsZero() || d.IsZero() {
		return false
	}
	return prev.AddDays(1).Equal(d)
}

// Time returns the date as UTC midnight.
func (d Date) Time() time.Time {
	return d.t
}

// String returns the date in YYYY-MM-DD form, or an empty string for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(FormatDate)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(data []byte) error {
	parsed, err := ParseDate(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Clock
// ═══════════════════════════════════════════════════════════════════════════

// Clock supplies "now" and "today" in the community timezone.
type Clock interface {
	Now() time.Time
	Today() Date
}

// SystemClock reads the wall clock.
type SystemClock struct {
	Location *time.Location
}

// NewSystemClock creates a clock for the named IANA timezone.
func NewSystemClock(timezone string) (*SystemClock, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &SystemClock{Location: loc}, nil
}

// Now returns the current time in the clock's location.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.Location)
}

// Today returns the current calendar day in the clock's location.
func (c *SystemClock) Today() Date {
	return DateOf(time.Now(), c.Location)
}

// FixedClock always reports the same day. Used in tests and by the CLI --date flag.
type FixedClock struct {
	mu  sync.RWMutex
	day Date
}

// NewFixedClock creates a clock stuck at the given day.
func NewFixedClock(day Date) *FixedClock {
	return &FixedClock{day: day}
}

// Now returns noon UTC of the fixed day.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.day.Time().Add(12 * time.Hour)
}

// Today returns the fixed day.
func (c *FixedClock) Today() Date {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.day
}

// Set moves the clock to another day.
func (c *FixedClock) Set(day Date) {
	c.mu.Lock()
	c.day = day
	c.mu.Unlock()
}

// Advance moves the clock forward by n days.
func (c *FixedClock) Advance(n int) {
	c.mu.Lock()
	c.day = c.day.AddDays(n)
	c.mu.Unlock()
}

// LoadLocation resolves an IANA timezone name, defaulting to UTC when empty.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return loc, nil
}
