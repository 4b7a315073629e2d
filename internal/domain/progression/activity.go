package progression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gracegarden/community-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY KINDS (Виды активности)
// ══════════════════════════════════════════════════════════════════════════════

// ActivityKind - вид активности, за которую начисляется опыт. Закрытый список.
type ActivityKind string

const (
	ActivityContentCompleted        ActivityKind = "content_completed"
	ActivityContentUncompleted      ActivityKind = "content_uncompleted"
	ActivityJournalEntryCreated     ActivityKind = "journal_entry_created"
	ActivityTestimonialPosted       ActivityKind = "testimonial_posted"
	ActivityPrayerPostCreated       ActivityKind = "prayer_post_created"
	ActivityPrayedForPost           ActivityKind = "prayed_for_post"
	ActivityCommentPosted           ActivityKind = "comment_posted"
	ActivityReadingPlanDayCompleted ActivityKind = "reading_plan_day_completed"
	ActivityReadingPlanFinished     ActivityKind = "reading_plan_finished"
	ActivityEventRegistered         ActivityKind = "event_registered"
	ActivityDailyLogin              ActivityKind = "daily_login"
)

// String возвращает строковое представление.
func (k ActivityKind) String() string {
	return string(k)
}

// ActivitySpec описывает начисление за вид активности.
type ActivitySpec struct {
	Kind ActivityKind `json:"kind"`

	// Points - базовое начисление. Отрицательное для отмены.
	Points int `json:"points"`

	// QualifiesForStreak - засчитывается ли активность в серию дней.
	QualifiesForStreak bool `json:"qualifies_for_streak"`

	// Reverses - вид активности, который отменяется этой активностью.
	Reverses ActivityKind `json:"reverses,omitempty"`
}

// Таблица начислений. Регистрация на событие - административное действие,
// в серию не засчитывается; отмена прохождения тоже.
var activityTable = map[ActivityKind]ActivitySpec{
	ActivityContentCompleted:        {Kind: ActivityContentCompleted, Points: 25, QualifiesForStreak: true},
	ActivityContentUncompleted:      {Kind: ActivityContentUncompleted, Points: -25, Reverses: ActivityContentCompleted},
	ActivityJournalEntryCreated:     {Kind: ActivityJournalEntryCreated, Points: 20, QualifiesForStreak: true},
	ActivityTestimonialPosted:       {Kind: ActivityTestimonialPosted, Points: 30, QualifiesForStreak: true},
	ActivityPrayerPostCreated:       {Kind: ActivityPrayerPostCreated, Points: 15, QualifiesForStreak: true},
	ActivityPrayedForPost:           {Kind: ActivityPrayedForPost, Points: 10, QualifiesForStreak: true},
	ActivityCommentPosted:           {Kind: ActivityCommentPosted, Points: 5, QualifiesForStreak: true},
	ActivityReadingPlanDayCompleted: {Kind: ActivityReadingPlanDayCompleted, Points: 15, QualifiesForStreak: true},
	ActivityReadingPlanFinished:     {Kind: ActivityReadingPlanFinished, Points: 100, QualifiesForStreak: true},
	ActivityEventRegistered:         {Kind: ActivityEventRegistered, Points: 10},
	ActivityDailyLogin:              {Kind: ActivityDailyLogin, Points: 10, QualifiesForStreak: true},
}

// DailyLoginMilestones - бонус за ежедневный вход на N-й день серии.
var DailyLoginMilestones = map[int]int{
	3: 15,
	7: 50,
}

// IsValid проверяет, что вид активности известен.
func (k ActivityKind) IsValid() bool {
	_, ok := activityTable[k]
	return ok
}

// Spec возвращает описание начисления.
func (k ActivityKind) Spec() (ActivitySpec, bool) {
	spec, ok := activityTable[k]
	return spec, ok
}

// ParseActivityKind разбирает строку в ActivityKind.
func ParseActivityKind(s string) (ActivityKind, error) {
	kind := ActivityKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidActivity, s)
	}
	return kind, nil
}

// AllActivitySpecs возвращает таблицу начислений, отсортированную по виду.
func AllActivitySpecs() []ActivitySpec {
	out := make([]ActivitySpec, 0, len(activityTable))
	for _, spec := range activityTable {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// Activity - одна активность пользователя.
type Activity struct {
	// Kind - вид активности.
	Kind ActivityKind `json:"kind"`

	// ContentID - материал для content_completed / content_uncompleted (опционально).
	ContentID shared.ContentID `json:"content_id,omitempty"`
}

// NewActivity создаёт активность без привязки к материалу.
func NewActivity(kind ActivityKind) Activity {
	return Activity{Kind: kind}
}

// Validate проверяет активность.
func (a Activity) Validate() error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("%w: %q", shared.ErrInvalidActivity, a.Kind)
	}
	return nil
}

// isContentScoped - относится ли активность к конкретному материалу.
func (a Activity) isContentScoped() bool {
	return !a.ContentID.IsEmpty() &&
		(a.Kind == ActivityContentCompleted || a.Kind == ActivityContentUncompleted)
}
