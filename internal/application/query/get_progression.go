// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/logger"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESSION QUERY
// Возвращает прогресс пользователя для профиля: уровень, путь до следующего,
// серию с подсказкой "успей сегодня" и полученные достижения.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionQuery - параметры запроса.
type GetProgressionQuery struct {
	UserID shared.UserID
}

// Validate проверяет запрос.
func (q GetProgressionQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// StreakDTO - серия с точки зрения сегодняшнего дня.
type StreakDTO struct {
	// Stored - серия, записанная в хранилище.
	Stored int `json:"stored"`

	// Effective - серия, которую видит пользователь (0, если уже прервана).
	Effective int `json:"effective"`

	Longest int `json:"longest"`

	// LastActivityDate - пустая строка, если активности ещё не было.
	LastActivityDate string `json:"last_activity_date"`

	// ActiveToday - сегодня уже была засчитанная активность.
	ActiveToday bool `json:"active_today"`

	// IsBroken - пропущен хотя бы один день.
	IsBroken bool `json:"is_broken"`

	// DaysUntilBreak: 2 - сегодня уже активен, 1 - нужно успеть сегодня, 0 - серия сброшена.
	DaysUntilBreak int `json:"days_until_break"`
}

// ProgressionDTO - прогресс для отображения.
type ProgressionDTO struct {
	UserID          string               `json:"user_id"`
	Experience      int                  `json:"experience"`
	Tier            progression.TierInfo `json:"tier"`
	ProgressPercent int                  `json:"progress_percent"`
	Streak          StreakDTO            `json:"streak"`

	// Achievements - полученные достижения в порядке получения.
	Achievements []progression.AchievementDefinition `json:"achievements"`

	CompletedContentCount int   `json:"completed_content_count"`
	Version               int64 `json:"version"`

	// IsNew - у пользователя ещё нет сохранённой записи.
	IsNew bool `json:"is_new"`

	Today     string    `json:"today"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// GetProgressionHandler обрабатывает GetProgressionQuery.
type GetProgressionHandler struct {
	repo     progression.Repository
	resolver *progression.Resolver
	clock    timeutil.Clock
	timeout  time.Duration
	logger   *logger.Logger
}

// NewGetProgressionHandler создаёт обработчик. timeout <= 0 - без собственного таймаута.
func NewGetProgressionHandler(
	repo progression.Repository,
	resolver *progression.Resolver,
	clock timeutil.Clock,
	timeout time.Duration,
	log *logger.Logger,
) *GetProgressionHandler {
	if resolver == nil {
		resolver = progression.NewResolver()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressionHandler{
		repo:     repo,
		resolver: resolver,
		clock:    clock,
		timeout:  timeout,
		logger:   log.With(logger.Component("get_progression")),
	}
}

// Handle выполняет запрос. Отсутствие записи - не ошибка: возвращается нулевое состояние.
func (h *GetProgressionHandler) Handle(ctx context.Context, q GetProgressionQuery) (*ProgressionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	p, err := h.repo.Load(ctx, q.UserID)
	switch {
	case err == nil:
	case shared.IsNotFound(err):
		p = h.resolver.Initial(q.UserID)
	default:
		h.logger.Error("failed to load progression", logger.UserID(q.UserID.String()), logger.Err(err))
		return nil, shared.Unavailable("Load", err)
	}

	return h.toDTO(p, h.clock.Today()), nil
}

func (h *GetProgressionHandler) toDTO(p *progression.UserProgression, today timeutil.Date) *ProgressionDTO {
	tier := h.resolver.Tiers().TierFor(p.Experience.Int())
	streak := p.Streak()

	achievements := make([]progression.AchievementDefinition, 0, len(p.UnlockedAchievements))
	for _, id := range p.UnlockedAchievements {
		def, ok := progression.GetAchievementDefinition(id)
		if !ok {
			def = progression.AchievementDefinition{ID: id, Name: string(id)}
		}
		achievements = append(achievements, def)
	}

	return &ProgressionDTO{
		UserID:          p.UserID.String(),
		Experience:      p.Experience.Int(),
		Tier:            tier,
		ProgressPercent: tier.ProgressPercent(),
		Streak: StreakDTO{
			Stored:           streak.Current,
			Effective:        streak.Effective(today),
			Longest:          streak.Longest,
			LastActivityDate: streak.LastActivity.String(),
			ActiveToday:      !streak.LastActivity.IsZero() && streak.LastActivity.Equal(today),
			IsBroken:         streak.IsBroken(today),
			DaysUntilBreak:   streak.DaysUntilBreak(today),
		},
		Achievements:          achievements,
		CompletedContentCount: len(p.CompletedContent),
		Version:               p.Version,
		IsNew:                 p.IsNew(),
		Today:                 today.String(),
		UpdatedAt:             p.UpdatedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG QUERIES
// Справочники: таблица уровней, начисления и достижения.
// ══════════════════════════════════════════════════════════════════════════════

// CatalogDTO - справочная информация для клиентов.
type CatalogDTO struct {
	Tiers        []progression.TierRow               `json:"tiers"`
	Activities   []progression.ActivitySpec          `json:"activities"`
	Achievements []progression.AchievementDefinition `json:"achievements"`
	Milestones   map[int]int                         `json:"daily_login_milestones"`
}

// GetCatalog возвращает справочник для резолвера.
func GetCatalog(resolver *progression.Resolver) CatalogDTO {
	if resolver == nil {
		resolver = progression.NewResolver()
	}
	return CatalogDTO{
		Tiers:        resolver.Tiers().Rows(),
		Activities:   progression.AllActivitySpecs(),
		Achievements: progression.GetAchievementDefinitions(),
		Milestones:   resolver.LoginMilestones(),
	}
}
