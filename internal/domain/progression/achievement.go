package progression

import (
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS (Достижения)
// ══════════════════════════════════════════════════════════════════════════════

// AchievementID - идентификатор достижения.
type AchievementID string

const (
	AchievementFirstJournalEntry     AchievementID = "first_journal_entry"
	AchievementFirstTestimonial      AchievementID = "first_testimonial"
	AchievementFirstPrayerPost       AchievementID = "first_prayer_post"
	AchievementPrayerWarrior         AchievementID = "prayer_warrior"
	AchievementFirstComment          AchievementID = "first_comment"
	AchievementReadingPlanFinisher   AchievementID = "reading_plan_finisher"
	AchievementEventGoer             AchievementID = "event_goer"
	AchievementGrowingRoots          AchievementID = "growing_roots"
	AchievementDeeplyRooted          AchievementID = "deeply_rooted"
	AchievementEvergreenSoul         AchievementID = "evergreen_soul"
	AchievementThreeDayStreak        AchievementID = "three_day_streak"
	AchievementSustainedFaithfulness AchievementID = "sustained_faithfulness"
	AchievementMonthOfDevotion       AchievementID = "month_of_devotion"
	AchievementContentExplorer       AchievementID = "content_explorer"
)

// RuleKind - вид условия достижения.
type RuleKind string

const (
	// RuleExperienceThreshold - опыт >= порога.
	RuleExperienceThreshold RuleKind = "experience_threshold"
	// RuleStreakThreshold - текущая серия >= порога.
	RuleStreakThreshold RuleKind = "streak_threshold"
	// RuleActivityOccurred - текущая активность совпадает с триггером.
	RuleActivityOccurred RuleKind = "activity_occurred"
	// RuleContentCompletedCount - пройдено материалов >= порога.
	RuleContentCompletedCount RuleKind = "content_completed_count"
)

// AchievementRule - декларативное правило разблокировки.
type AchievementRule struct {
	ID        AchievementID `json:"id"`
	Kind      RuleKind      `json:"kind"`
	Threshold int           `json:"threshold,omitempty"`
	Trigger   ActivityKind  `json:"trigger,omitempty"`
}

// Satisfied проверяет условие на состоянии ПОСЛЕ применения активности.
func (r AchievementRule) Satisfied(state *UserProgression, kind ActivityKind) bool {
	switch r.Kind {
	case RuleExperienceThreshold:
		return state.Experience.Int() >= r.Threshold
	case RuleStreakThreshold:
		return state.CurrentStreak >= r.Threshold
	case RuleActivityOccurred:
		return kind == r.Trigger
	case RuleContentCompletedCount:
		return len(state.CompletedContent) >= r.Threshold
	default:
		return false
	}
}

func (r AchievementRule) validate() error {
	if r.ID == "" {
		return fmt.Errorf("achievement rule: empty id")
	}
	switch r.Kind {
	case RuleExperienceThreshold, RuleStreakThreshold, RuleContentCompletedCount:
		if r.Threshold <= 0 {
			return fmt.Errorf("achievement rule %q: threshold must be positive", r.ID)
		}
	case RuleActivityOccurred:
		if !r.Trigger.IsValid() {
			return fmt.Errorf("achievement rule %q: unknown trigger %q", r.ID, r.Trigger)
		}
	default:
		return fmt.Errorf("achievement rule %q: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RULE SET
// ══════════════════════════════════════════════════════════════════════════════

// RuleSet - упорядоченный набор правил. Порядок объявления = порядок разблокировки.
type RuleSet struct {
	rules []AchievementRule
}

// NewRuleSet создаёт набор правил; идентификаторы должны быть уникальны.
func NewRuleSet(rules ...AchievementRule) (*RuleSet, error) {
	seen := make(map[AchievementID]bool, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("achievement rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
	}

	copied := make([]AchievementRule, len(rules))
	copy(copied, rules)
	return &RuleSet{rules: copied}, nil
}

var defaultRules = []AchievementRule{
	{ID: AchievementFirstJournalEntry, Kind: RuleActivityOccurred, Trigger: ActivityJournalEntryCreated},
	{ID: AchievementFirstTestimonial, Kind: RuleActivityOccurred, Trigger: ActivityTestimonialPosted},
	{ID: AchievementFirstPrayerPost, Kind: RuleActivityOccurred, Trigger: ActivityPrayerPostCreated},
	{ID: AchievementPrayerWarrior, Kind: RuleActivityOccurred, Trigger: ActivityPrayedForPost},
	{ID: AchievementFirstComment, Kind: RuleActivityOccurred, Trigger: ActivityCommentPosted},
	{ID: AchievementReadingPlanFinisher, Kind: RuleActivityOccurred, Trigger: ActivityReadingPlanFinished},
	{ID: AchievementEventGoer, Kind: RuleActivityOccurred, Trigger: ActivityEventRegistered},
	{ID: AchievementGrowingRoots, Kind: RuleExperienceThreshold, Threshold: 100},
	{ID: AchievementDeeplyRooted, Kind: RuleExperienceThreshold, Threshold: 700},
	{ID: AchievementEvergreenSoul, Kind: RuleExperienceThreshold, Threshold: 3000},
	{ID: AchievementThreeDayStreak, Kind: RuleStreakThreshold, Threshold: 3},
	{ID: AchievementSustainedFaithfulness, Kind: RuleStreakThreshold, Threshold: 7},
	{ID: AchievementMonthOfDevotion, Kind: RuleStreakThreshold, Threshold: 30},
	{ID: AchievementContentExplorer, Kind: RuleContentCompletedCount, Threshold: 10},
}

// DefaultRuleSet возвращает стандартный набор правил.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(defaultRules...)
	if err != nil {
		panic(err)
	}
	return rs
}

// Evaluate возвращает достижения, которые разблокируются сейчас:
// условие выполнено и достижение ещё не получено. Порядок - порядок правил.
func (rs *RuleSet) Evaluate(state *UserProgression, kind ActivityKind) []AchievementID {
	var unlocked []AchievementID
	for _, r := range rs.rules {
		if state.HasAchievement(r.ID) {
			continue
		}
		if r.Satisfied(state, kind) {
			unlocked = append(unlocked, r.ID)
		}
	}
	return unlocked
}

// Rules возвращает копию правил.
func (rs *RuleSet) Rules() []AchievementRule {
	out := make([]AchievementRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Rule ищет правило по идентификатору.
func (rs *RuleSet) Rule(id AchievementID) (AchievementRule, bool) {
	for _, r := range rs.rules {
		if r.ID == id {
			return r, true
		}
	}
	return AchievementRule{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS (Отображение)
// ══════════════════════════════════════════════════════════════════════════════

// AchievementDefinition описывает достижение для отображения.
type AchievementDefinition struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Emoji       string        `json:"emoji"`
}

// GetAchievementDefinitions возвращает все определения достижений.
func GetAchievementDefinitions() []AchievementDefinition {
	return []AchievementDefinition{
		{AchievementFirstJournalEntry, "First Words", "Wrote your first journal entry", "📓"},
		{AchievementFirstTestimonial, "Bearing Witness", "Shared your first testimonial", "🕊️"},
		{AchievementFirstPrayerPost, "Open Heart", "Posted your first prayer request", "🙏"},
		{AchievementPrayerWarrior, "Prayer Warrior", "Prayed for someone on the prayer wall", "🛡️"},
		{AchievementFirstComment, "Encourager", "Left your first comment", "💬"},
		{AchievementReadingPlanFinisher, "Finisher", "Completed a reading plan", "📖"},
		{AchievementEventGoer, "Gathered", "Registered for an event", "📅"},
		{AchievementGrowingRoots, "Growing Roots", "Reached 100 experience", "🌱"},
		{AchievementDeeplyRooted, "Deeply Rooted", "Reached 700 experience", "🌳"},
		{AchievementEvergreenSoul, "Evergreen Soul", "Reached 3000 experience", "🌲"},
		{AchievementThreeDayStreak, "Kindling", "Active three days in a row", "🔥"},
		{AchievementSustainedFaithfulness, "Sustained Faithfulness", "Active seven days in a row", "✨"},
		{AchievementMonthOfDevotion, "Month of Devotion", "Active thirty days in a row", "👑"},
		{AchievementContentExplorer, "Explorer", "Completed ten pieces of content", "🧭"},
	}
}

// GetAchievementDefinition возвращает определение достижения по идентификатору.
func GetAchievementDefinition(id AchievementID) (AchievementDefinition, bool) {
	for _, def := range GetAchievementDefinitions() {
		if def.ID == id {
			return def, true
		}
	}
	return AchievementDefinition{}, false
}
