package memory

import (
	"context"
	"sync"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
)

// KeyedLocker serialises work per user inside one process.
// Entries are reference counted and removed once nobody holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[shared.UserID]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[shared.UserID]*slot)}
}

var _ progression.Locker = (*KeyedLocker)(nil)

// Lock blocks until the user's slot is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, userID shared.UserID) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[userID]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[userID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, s)
		return nil, shared.Unavailable("Lock", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			l.release(userID, s)
		})
	}, nil
}

// Active returns the number of users with a held or awaited lock.
func (l *KeyedLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *KeyedLocker) release(userID shared.UserID, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, userID)
	}
}
