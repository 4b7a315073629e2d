package progression

import (
	"context"

	"github.com/gracegarden/community-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем прогресса.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище записей прогресса с оптимистичной блокировкой.
type Repository interface {
	// Load возвращает прогресс пользователя.
	// Возвращает shared.ErrProgressionNotFound, если записи нет.
	Load(ctx context.Context, userID shared.UserID) (*UserProgression, error)

	// Save сохраняет прогресс, если версия в хранилище равна expectedVersion
	// (0 - записи ещё нет, выполняется вставка). При успехе p.Version = expectedVersion+1.
	// Возвращает shared.ErrPersistenceConflict, если версия не совпала.
	Save(ctx context.Context, p *UserProgression, expectedVersion int64) error

	// Delete удаляет прогресс вместе с учётной записью пользователя.
	// Возвращает shared.ErrProgressionNotFound, если записи нет.
	Delete(ctx context.Context, userID shared.UserID) error
}

// Locker сериализует циклы чтение-изменение-запись одного пользователя.
type Locker interface {
	// Lock блокирует пользователя до вызова unlock или отмены ctx.
	Lock(ctx context.Context, userID shared.UserID) (unlock func(), err error)
}

// HealthChecker - хранилище, умеющее сообщать о своей доступности.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
