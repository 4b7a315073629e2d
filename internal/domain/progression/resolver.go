package progression

import (
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELTA (Результат применения активности)
// ══════════════════════════════════════════════════════════════════════════════

// Delta описывает, что изменила одна активность.
type Delta struct {
	// Activity - применённая активность.
	Activity ActivityKind `json:"activity"`

	// PointsAwarded - фактическое изменение опыта (с учётом бонуса и пола 0).
	PointsAwarded int `json:"points_awarded"`

	// BonusPoints - бонус за веху ежедневного входа (входит в PointsAwarded).
	BonusPoints int `json:"bonus_points"`

	// PreviousLevel / NewLevel - уровень до и после.
	PreviousLevel LevelName `json:"previous_level"`
	NewLevel      LevelName `json:"new_level"`

	// LeveledUp - уровень вырос.
	LeveledUp bool `json:"leveled_up"`

	// LevelChanged - уровень изменился (в т.ч. вниз после отмены).
	LevelChanged bool `json:"level_changed"`

	// AchievementsUnlocked - достижения, полученные этой активностью.
	AchievementsUnlocked []AchievementID `json:"achievements_unlocked"`

	// StreakAdvanced - активность засчитана в новый день серии.
	StreakAdvanced bool `json:"streak_advanced"`

	// StreakBroken - серия прервалась и началась заново.
	StreakBroken bool `json:"streak_broken"`

	// PreviousStreak - серия до активности.
	PreviousStreak int `json:"previous_streak"`

	// DaysMissed - пропущенных дней при прерывании серии.
	DaysMissed int `json:"days_missed,omitempty"`

	// IsNewRecord - текущая серия стала лучшей.
	IsNewRecord bool `json:"is_new_record"`
}

// IsNoop - активность ничего не изменила.
func (d Delta) IsNoop() bool {
	return d.PointsAwarded == 0 && !d.StreakAdvanced && len(d.AchievementsUnlocked) == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Resolver - чистая функция (состояние, активность, день) -> (новое состояние, дельта).
// Не обращается к часам, хранилищу или случайности. Безопасен для конкурентного использования.
type Resolver struct {
	tiers      *TierTable
	rules      *RuleSet
	milestones map[int]int
}

// ResolverOption настраивает резолвер.
type ResolverOption func(*Resolver)

// WithTierTable задаёт таблицу уровней.
func WithTierTable(t *TierTable) ResolverOption {
	return func(r *Resolver) {
		if t != nil {
			r.tiers = t
		}
	}
}

// WithRuleSet задаёт набор правил достижений.
func WithRuleSet(rs *RuleSet) ResolverOption {
	return func(r *Resolver) {
		if rs != nil {
			r.rules = rs
		}
	}
}

// WithLoginMilestones задаёт бонусы за вехи ежедневного входа.
func WithLoginMilestones(m map[int]int) ResolverOption {
	return func(r *Resolver) {
		copied := make(map[int]int, len(m))
		for day, bonus := range m {
			copied[day] = bonus
		}
		r.milestones = copied
	}
}

// NewResolver создаёт резолвер со стандартными таблицами.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		tiers: DefaultTierTable(),
		rules: DefaultRuleSet(),
	}
	WithLoginMilestones(DailyLoginMilestones)(r)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tiers возвращает таблицу уровней.
func (r *Resolver) Tiers() *TierTable {
	return r.tiers
}

// Rules возвращает набор правил.
func (r *Resolver) Rules() *RuleSet {
	return r.rules
}

// LoginMilestones возвращает копию бонусов за вехи ежедневного входа.
func (r *Resolver) LoginMilestones() map[int]int {
	out := make(map[int]int, len(r.milestones))
	for day, bonus := range r.milestones {
		out[day] = bonus
	}
	return out
}

// Initial возвращает нулевое состояние для нового пользователя.
func (r *Resolver) Initial(userID shared.UserID) *UserProgression {
	return NewUserProgression(userID, r.tiers.First())
}

// Resolve применяет активность к состоянию. Входное состояние не изменяется.
//
// Порядок: начисление -> опыт (пол 0) -> серия -> бонус вехи входа -> уровень ->
// достижения по новому состоянию.
func (r *Resolver) Resolve(state *UserProgression, activity Activity, today timeutil.Date) (*UserProgression, Delta, error) {
	spec, ok := activity.Kind.Spec()
	if !ok {
		return nil, Delta{}, activity.Validate()
	}

	next := state.Clone()
	delta := Delta{
		Activity:       activity.Kind,
		PreviousLevel:  state.Level,
		PreviousStreak: state.CurrentStreak,
	}

	// 1. Начисление с учётом идемпотентности по материалу
	points := spec.Points
	if activity.isContentScoped() {
		switch activity.Kind {
		case ActivityContentCompleted:
			if next.HasCompleted(activity.ContentID) {
				points = 0
			} else {
				next.addCompleted(activity.ContentID)
			}
		case ActivityContentUncompleted:
			if next.HasCompleted(activity.ContentID) {
				next.removeCompleted(activity.ContentID)
			} else {
				points = 0
			}
		}
	}

	startXP := state.Experience
	next.Experience = next.Experience.Add(points)

	// 2. Серия
	if spec.QualifiesForStreak {
		before := next.Streak()
		after := AdvanceStreak(before, today)
		next.applyStreak(after)

		if !after.LastActivity.Equal(before.LastActivity) {
			delta.StreakAdvanced = true
			delta.IsNewRecord = after.Current == after.Longest && after.Longest > before.Longest

			if !before.LastActivity.IsZero() && after.Current == 1 {
				delta.StreakBroken = true
				delta.DaysMissed = before.LastActivity.DaysUntil(today) - 1
			}
		}
	}

	// 3. Бонус за веху ежедневного входа
	if activity.Kind == ActivityDailyLogin && delta.StreakAdvanced {
		if bonus, ok := r.milestones[next.CurrentStreak]; ok {
			next.Experience = next.Experience.Add(bonus)
			delta.BonusPoints = bonus
		}
	}
	delta.PointsAwarded = next.Experience.Int() - startXP.Int()

	// 4. Уровень
	tier := r.tiers.TierFor(next.Experience.Int())
	next.Level = tier.Level
	delta.NewLevel = tier.Level
	delta.LevelChanged = next.Level != state.Level
	delta.LeveledUp = delta.LevelChanged && tier.Rank > r.tiers.RankOf(state.Level)

	// 5. Достижения
	unlocked := r.rules.Evaluate(next, activity.Kind)
	next.UnlockedAchievements = append(next.UnlockedAchievements, unlocked...)
	delta.AchievementsUnlocked = unlocked
	if delta.AchievementsUnlocked == nil {
		delta.AchievementsUnlocked = []AchievementID{}
	}

	return next, delta, nil
}
