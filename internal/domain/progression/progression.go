package progression

import (
	"time"

	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESSION (Агрегат прогресса)
// ══════════════════════════════════════════════════════════════════════════════

// UserProgression - полный прогресс пользователя. Единственная запись на пользователя,
// меняется только через Resolver.
type UserProgression struct {
	// UserID - идентификатор пользователя.
	UserID shared.UserID `json:"user_id"`

	// Experience - накопленный опыт, не меньше 0.
	Experience shared.XP `json:"experience"`

	// Level - текущий уровень, всегда соответствует Experience.
	Level LevelName `json:"level"`

	// CurrentStreak - текущая серия дней.
	CurrentStreak int `json:"current_streak"`

	// LongestStreak - лучшая серия дней.
	LongestStreak int `json:"longest_streak"`

	// LastActivityDate - дата последней засчитанной в серию активности.
	LastActivityDate timeutil.Date `json:"last_activity_date"`

	// UnlockedAchievements - полученные достижения в порядке получения.
	UnlockedAchievements []AchievementID `json:"unlocked_achievements"`

	// CompletedContent - пройденные материалы в порядке прохождения.
	CompletedContent []shared.ContentID `json:"completed_content"`

	// Version - токен оптимистичной блокировки. 0 - запись ещё не сохранена.
	Version int64 `json:"version"`

	// UpdatedAt - время последнего сохранения.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserProgression создаёт нулевое состояние для пользователя.
func NewUserProgression(userID shared.UserID, initialLevel LevelName) *UserProgression {
	return &UserProgression{
		UserID:               userID,
		Experience:           0,
		Level:                initialLevel,
		UnlockedAchievements: []AchievementID{},
		CompletedContent:     []shared.ContentID{},
	}
}

// Clone возвращает глубокую копию.
func (p *UserProgression) Clone() *UserProgression {
	c := *p
	c.UnlockedAchievements = append(make([]AchievementID, 0, len(p.UnlockedAchievements)), p.UnlockedAchievements...)
	c.CompletedContent = append(make([]shared.ContentID, 0, len(p.CompletedContent)), p.CompletedContent...)
	return &c
}

// Streak возвращает состояние серии.
func (p *UserProgression) Streak() StreakState {
	return StreakState{
		Current:      p.CurrentStreak,
		Longest:      p.LongestStreak,
		LastActivity: p.LastActivityDate,
	}
}

// applyStreak записывает состояние серии.
func (p *UserProgression) applyStreak(s StreakState) {
	p.CurrentStreak = s.Current
	p.LongestStreak = s.Longest
	p.LastActivityDate = s.LastActivity
}

// HasAchievement проверяет, получено ли достижение.
func (p *UserProgression) HasAchievement(id AchievementID) bool {
	for _, a := range p.UnlockedAchievements {
		if a == id {
			return true
		}
	}
	return false
}

// HasCompleted проверяет, пройден ли материал.
func (p *UserProgression) HasCompleted(id shared.ContentID) bool {
	for _, c := range p.CompletedContent {
		if c == id {
			return true
		}
	}
	return false
}

func (p *UserProgression) addCompleted(id shared.ContentID) {
	p.CompletedContent = append(p.CompletedContent, id)
}

func (p *UserProgression) removeCompleted(id shared.ContentID) {
	out := p.CompletedContent[:0]
	for _, c := range p.CompletedContent {
		if c != id {
			out = append(out, c)
		}
	}
	p.CompletedContent = out
}

// IsNew - запись ещё не сохранялась.
func (p *UserProgression) IsNew() bool {
	return p.Version == 0
}

// Validate проверяет инварианты агрегата.
func (p *UserProgression) Validate(tiers *TierTable) error {
	if !p.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !p.Experience.IsValid() {
		return shared.ErrNegativeExperience
	}
	if p.CurrentStreak < 0 || p.LongestStreak < p.CurrentStreak {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "longest streak must cover current streak")
	}
	if tiers != nil && tiers.TierFor(p.Experience.Int()).Level != p.Level {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "level does not match experience")
	}

	seen := make(map[AchievementID]bool, len(p.UnlockedAchievements))
	for _, a := range p.UnlockedAchievements {
		if seen[a] {
			return shared.NewDomainError("progression", "Validate", shared.ErrAlreadyExists, "duplicate achievement "+string(a))
		}
		seen[a] = true
	}
	return nil
}
