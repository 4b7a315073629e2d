// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents a unique platform user identifier (UUID format).
type UserID string

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	_, err := uuid.Parse(string(u))
	return err == nil
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID creates a new UserID with validation.
// The canonical lowercase hyphenated form is stored.
func NewUserID(id string) (UserID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", WrapError("shared", "NewUserID", ErrInvalidID, "invalid user ID format", err)
	}
	return UserID(parsed.String()), nil
}

// GenerateUserID returns a fresh random user ID.
func GenerateUserID() UserID {
	return UserID(uuid.NewString())
}

// ContentID identifies a catalog item (lesson, devotional, video) owned by the content collaborator.
type ContentID string

// String returns the string representation.
func (c ContentID) String() string {
	return string(c)
}

// IsEmpty checks if the ID is empty.
func (c ContentID) IsEmpty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points accumulated by a user.
type XP int

// MinXP is the floor for experience; reversals never push below it.
const MinXP XP = 0

// IsValid checks if the XP value is non-negative.
func (x XP) IsValid() bool {
	return x >= MinXP
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Add adds a signed amount of XP and returns the result, floored at MinXP.
func (x XP) Add(amount int) XP {
	result := XP(int(x) + amount)
	if result < MinXP {
		return MinXP
	}
	return result
}

// NewXP creates a new XP value with validation.
func NewXP(amount int) (XP, error) {
	if amount < int(MinXP) {
		return 0, ErrNegativeExperience
	}
	return XP(amount), nil
}
