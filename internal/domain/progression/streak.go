package progression

import (
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия активных дней)
// ══════════════════════════════════════════════════════════════════════════════

// StreakState - состояние серии активных дней.
type StreakState struct {
	// Current - текущая серия дней.
	Current int `json:"current"`

	// Longest - лучшая серия дней. Никогда не уменьшается.
	Longest int `json:"longest"`

	// LastActivity - дата последней засчитанной активности (нулевая = никогда).
	LastActivity timeutil.Date `json:"last_activity"`
}

// AdvanceStreak засчитывает активность за день today и возвращает новое состояние.
//
//   - тот же день: без изменений;
//   - следующий день: серия +1;
//   - пропуск или первая активность: серия = 1;
//   - today раньше последней активности: без изменений (часы не откатываем).
func AdvanceStreak(s StreakState, today timeutil.Date) StreakState {
	if !s.LastActivity.IsZero() && !today.After(s.LastActivity) {
		return s
	}

	next := s
	if today.IsNextDayOf(s.LastActivity) {
		next.Current = s.Current + 1
	} else {
		next.Current = 1
	}

	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	next.LastActivity = today
	return next
}

// IsBroken проверяет, сломана ли серия к дню today (пропущен хотя бы один день).
func (s StreakState) IsBroken(today timeutil.Date) bool {
	if s.LastActivity.IsZero() || s.Current == 0 {
		return false
	}
	return s.LastActivity.DaysUntil(today) > 1
}

// DaysUntilBreak возвращает количество дней до сброса серии.
// 2 - активность уже была сегодня, 1 - нужно быть активным сегодня, 0 - серия уже сброшена.
func (s StreakState) DaysUntilBreak(today timeutil.Date) int {
	if s.LastActivity.IsZero() || s.Current == 0 {
		return 0
	}

	switch diff := s.LastActivity.DaysUntil(today); {
	case diff <= 0:
		return 2
	case diff == 1:
		return 1
	default:
		return 0
	}
}

// Effective возвращает серию, которую видит пользователь сегодня:
// сломанная серия показывается как 0, хотя в хранилище остаётся прежней
// до следующей активности.
func (s StreakState) Effective(today timeutil.Date) int {
	if s.IsBroken(today) {
		return 0
	}
	return s.Current
}
