// Package memory provides in-process implementations of the progression
// store and per-user locker. They back the server in development mode and
// are the reference behaviour for the SQL stores in tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
)

// ErrStoreRequired is returned when a method is called on a nil store.
var ErrStoreRequired = errors.New("memory: store is required")

// Store keeps progression records in a map guarded by a mutex.
// Records are cloned on the way in and out, so callers never share state.
type Store struct {
	mu      sync.Mutex
	records map[shared.UserID]*progression.UserProgression
	now     func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[shared.UserID]*progression.UserProgression),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ progression.Repository    = (*Store)(nil)
	_ progression.HealthChecker = (*Store)(nil)
)

// Load returns a copy of the stored record.
func (s *Store) Load(ctx context.Context, userID shared.UserID) (*progression.UserProgression, error) {
	if err := s.check(ctx, "Load"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[userID]
	if !ok {
		return nil, shared.ErrProgressionNotFound
	}
	return p.Clone(), nil
}

// Save stores a copy of p when the stored version equals expectedVersion.
func (s *Store) Save(ctx context.Context, p *progression.UserProgression, expectedVersion int64) error {
	if err := s.check(ctx, "Save"); err != nil {
		return err
	}
	if p == nil {
		return shared.ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[p.UserID]
	switch {
	case expectedVersion == 0 && exists:
		return shared.ErrPersistenceConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return shared.ErrPersistenceConflict
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = s.now()
	s.records[p.UserID] = p.Clone()
	return nil
}

// Delete removes the stored record.
func (s *Store) Delete(ctx context.Context, userID shared.UserID) error {
	if err := s.check(ctx, "Delete"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; !ok {
		return shared.ErrProgressionNotFound
	}
	delete(s.records, userID)
	return nil
}

// Ping always succeeds for a live store.
func (s *Store) Ping(ctx context.Context) error {
	return s.check(ctx, "Ping")
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) check(ctx context.Context, op string) error {
	if s == nil {
		return shared.Unavailable(op, ErrStoreRequired)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return shared.Unavailable(op, err)
		}
	}
	return nil
}
