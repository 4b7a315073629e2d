package command

import (
	"context"
	"fmt"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/logger"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ACTIVITY COMMAND
// Начисляет активность пользователю: опыт, серия, уровень, достижения.
// ══════════════════════════════════════════════════════════════════════════════

// AwardActivityCommand - данные для начисления активности.
type AwardActivityCommand struct {
	// UserID - идентификатор пользователя.
	UserID shared.UserID

	// Activity - вид активности.
	Activity progression.ActivityKind

	// ContentID - материал для content_completed / content_uncompleted (необязательно).
	ContentID shared.ContentID

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c AwardActivityCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !c.Activity.IsValid() {
		return shared.WrapError("progression", "Award", shared.ErrInvalidActivity,
			fmt.Sprintf("unknown activity kind %q", c.Activity), nil)
	}
	return nil
}

// AwardResult - результат начисления.
type AwardResult struct {
	// Progression - состояние после записи.
	Progression *progression.UserProgression

	// Delta - что изменила активность.
	Delta progression.Delta

	// Tier - уровень и прогресс до следующего.
	Tier progression.TierInfo

	// Attempts - число циклов чтение-запись (больше 1 при конфликтах).
	Attempts int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardActivityHandler обрабатывает AwardActivityCommand.
type AwardActivityHandler struct {
	cycle     *cycle
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// NewAwardActivityHandler создаёт обработчик.
func NewAwardActivityHandler(deps Deps, cfg Config) *AwardActivityHandler {
	c := newCycle(deps, cfg)
	return &AwardActivityHandler{
		cycle:     c,
		publisher: deps.Publisher,
		logger:    c.logger.With(logger.Component("award_activity")),
	}
}

// Handle начисляет активность.
func (h *AwardActivityHandler) Handle(ctx context.Context, cmd AwardActivityCommand) (*AwardResult, error) {
	if err := cmd.Validate(); err != nil {
		h.logger.Error("rejected activity",
			logger.UserID(cmd.UserID.String()),
			logger.ActivityKind(string(cmd.Activity)),
			logger.Err(err),
		)
		return nil, err
	}

	activity := progression.Activity{Kind: cmd.Activity, ContentID: cmd.ContentID}
	out, err := h.cycle.run(ctx, cmd.UserID, func(state *progression.UserProgression, today timeutil.Date) (*progression.UserProgression, progression.Delta, bool, error) {
		next, delta, err := h.cycle.resolver.Resolve(state, activity, today)
		if err != nil {
			return nil, progression.Delta{}, false, err
		}
		return next, delta, true, nil
	})
	if err != nil {
		h.logger.Error("award failed",
			logger.UserID(cmd.UserID.String()),
			logger.ActivityKind(string(cmd.Activity)),
			logger.Err(err),
		)
		return nil, err
	}

	publishDelta(h.publisher, h.logger, out.state, out.delta, cmd.ContentID, out.today, cmd.CorrelationID)

	h.logger.Info("activity awarded",
		logger.UserID(cmd.UserID.String()),
		logger.ActivityKind(string(cmd.Activity)),
		logger.XPAmount(out.delta.PointsAwarded),
		logger.LevelName(string(out.state.Level)),
		logger.Attempt(out.attempts),
	)

	return &AwardResult{
		Progression: out.state,
		Delta:       out.delta,
		Tier:        h.cycle.tier(out.state),
		Attempts:    out.attempts,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH AWARD COMMAND
// Для импорта накопленных активностей одним вызовом.
// ══════════════════════════════════════════════════════════════════════════════

// AwardBatchCommand - несколько начислений.
type AwardBatchCommand struct {
	Activities    []AwardActivityCommand
	CorrelationID string
}

// AwardBatchResult - итог пакетного начисления.
type AwardBatchResult struct {
	TotalCount   int
	SuccessCount int
	FailedCount  int
	Results      []*AwardResult
	Errors       map[string]error
}

// AwardBatchHandler применяет команды по очереди и собирает ошибки по элементам.
type AwardBatchHandler struct {
	handler *AwardActivityHandler
}

// NewAwardBatchHandler создаёт обработчик пакета.
func NewAwardBatchHandler(handler *AwardActivityHandler) *AwardBatchHandler {
	return &AwardBatchHandler{handler: handler}
}

// Handle выполняет пакет. Ошибка отдельного элемента не прерывает пакет.
func (h *AwardBatchHandler) Handle(ctx context.Context, cmd AwardBatchCommand) (*AwardBatchResult, error) {
	result := &AwardBatchResult{
		TotalCount: len(cmd.Activities),
		Results:    make([]*AwardResult, 0, len(cmd.Activities)),
		Errors:     make(map[string]error),
	}

	for i, item := range cmd.Activities {
		if err := ctx.Err(); err != nil {
			return result, shared.Unavailable("AwardBatch", err)
		}
		if item.CorrelationID == "" {
			item.CorrelationID = cmd.CorrelationID
		}

		res, err := h.handler.Handle(ctx, item)
		if err != nil {
			result.FailedCount++
			result.Errors[fmt.Sprintf("%d:%s", i, item.UserID)] = err
			continue
		}

		result.SuccessCount++
		result.Results = append(result.Results, res)
	}

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// deltaEvents строит доменные события по результату записи.
func deltaEvents(state *progression.UserProgression, delta progression.Delta, contentID shared.ContentID, today timeutil.Date, correlationID string) []shared.Event {
	userID := state.UserID.String()
	events := make([]shared.Event, 0, 4+len(delta.AchievementsUnlocked))

	if delta.PointsAwarded != 0 {
		e := shared.NewXPGainedEvent(userID, delta.PointsAwarded, state.Experience.Int(), string(delta.Activity), contentID.String())
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, e)
	}

	if delta.LeveledUp {
		e := shared.NewLevelUpEvent(userID, string(delta.PreviousLevel), string(delta.NewLevel), state.Experience.Int())
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, e)
	}

	for _, id := range delta.AchievementsUnlocked {
		e := shared.NewAchievementUnlockedEvent(userID, string(id), string(delta.Activity))
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, e)
	}

	if delta.StreakBroken {
		e := shared.NewDailyStreakBrokenEvent(userID, delta.PreviousStreak, delta.DaysMissed)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, e)
	}

	if delta.StreakAdvanced {
		e := shared.NewDailyStreakUpdatedEvent(userID, state.CurrentStreak, state.LongestStreak, delta.IsNewRecord)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, e)
	}

	if delta.Activity == progression.ActivityDailyLogin {
		e := shared.NewDailyLoginRegisteredEvent(userID, today.String(), state.CurrentStreak, delta.BonusPoints)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, e)
	}

	return events
}

// publishDelta публикует события. Ошибки публикации не отменяют сохранённую запись.
func publishDelta(pub shared.EventPublisher, log *logger.Logger, state *progression.UserProgression, delta progression.Delta, contentID shared.ContentID, today timeutil.Date, correlationID string) {
	if pub == nil {
		return
	}
	for _, event := range deltaEvents(state, delta, contentID, today, correlationID) {
		if err := pub.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.UserID(state.UserID.String()),
				logger.Err(err),
			)
		}
	}
}
