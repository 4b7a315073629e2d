package command

import (
	"context"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/logger"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY LOGIN COMMAND
// Засчитывает первый вход за день. Повторный вход в тот же день ничего не меняет.
// ══════════════════════════════════════════════════════════════════════════════

// DailyLoginCommand - вход пользователя.
type DailyLoginCommand struct {
	UserID        shared.UserID
	CorrelationID string
}

// DailyLoginResult - результат входа.
type DailyLoginResult struct {
	// Applied - вход засчитан (первый за день).
	Applied bool

	Progression *progression.UserProgression
	Delta       progression.Delta
	Tier        progression.TierInfo

	// Today - день входа в часовом поясе сообщества.
	Today timeutil.Date

	Attempts int
}

// DailyLoginHandler обрабатывает DailyLoginCommand.
type DailyLoginHandler struct {
	cycle     *cycle
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// NewDailyLoginHandler создаёт обработчик.
func NewDailyLoginHandler(deps Deps, cfg Config) *DailyLoginHandler {
	c := newCycle(deps, cfg)
	return &DailyLoginHandler{
		cycle:     c,
		publisher: deps.Publisher,
		logger:    c.logger.With(logger.Component("daily_login")),
	}
}

// Handle засчитывает вход. Проверка "уже был сегодня" выполняется внутри
// сериализованного цикла, поэтому параллельные входы не дают двойного начисления.
func (h *DailyLoginHandler) Handle(ctx context.Context, cmd DailyLoginCommand) (*DailyLoginResult, error) {
	if !cmd.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}

	login := progression.NewActivity(progression.ActivityDailyLogin)
	out, err := h.cycle.run(ctx, cmd.UserID, func(state *progression.UserProgression, today timeutil.Date) (*progression.UserProgression, progression.Delta, bool, error) {
		if AlreadyActiveToday(state, today) {
			return nil, progression.Delta{}, false, nil
		}
		next, delta, err := h.cycle.resolver.Resolve(state, login, today)
		if err != nil {
			return nil, progression.Delta{}, false, err
		}
		return next, delta, true, nil
	})
	if err != nil {
		h.logger.Error("daily login failed", logger.UserID(cmd.UserID.String()), logger.Err(err))
		return nil, err
	}

	result := &DailyLoginResult{
		Applied:     out.applied,
		Progression: out.state,
		Delta:       out.delta,
		Tier:        h.cycle.tier(out.state),
		Today:       out.today,
		Attempts:    out.attempts,
	}

	if !out.applied {
		h.logger.Debug("daily login already credited",
			logger.UserID(cmd.UserID.String()),
			logger.String("date", out.today.String()),
		)
		result.Delta = progression.Delta{
			Activity:             progression.ActivityDailyLogin,
			PreviousLevel:        out.state.Level,
			NewLevel:             out.state.Level,
			PreviousStreak:       out.state.CurrentStreak,
			AchievementsUnlocked: []progression.AchievementID{},
		}
		return result, nil
	}

	publishDelta(h.publisher, h.logger, out.state, out.delta, "", out.today, cmd.CorrelationID)

	h.logger.Info("daily login credited",
		logger.UserID(cmd.UserID.String()),
		logger.Int("streak", out.state.CurrentStreak),
		logger.XPAmount(out.delta.PointsAwarded),
	)

	return result, nil
}

// AlreadyActiveToday - вход за today уже засчитан: последняя активность
// приходится на today или на более поздний день (сдвиг часов, смена пояса).
func AlreadyActiveToday(state *progression.UserProgression, today timeutil.Date) bool {
	return !state.LastActivityDate.IsZero() && !today.After(state.LastActivityDate)
}
