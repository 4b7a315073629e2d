// Package circuitbreaker stops request handlers from queueing on a
// progression store that keeps failing.
//
// A breaker starts closed. After Settings.TripAfter consecutive counted
// failures it opens and rejects calls for Settings.Cooldown. The first call
// after the cooldown runs as a trial (half-open); RecoverAfter successful
// trials close the breaker again, a failed trial reopens it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrOpen is returned without calling fn while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTrialBusy is returned while the half-open trial slots are taken.
	ErrTrialBusy = errors.New("circuit breaker trial call in flight")
)

// IsRejection reports whether err came from the breaker rather than from fn.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrTrialBusy)
}

// Transition describes a state change.
type Transition struct {
	Breaker string
	From    State
	To      State
	At      time.Time
}

// Settings configure a CircuitBreaker. Zero values take the defaults below.
type Settings struct {
	Name string

	TripAfter    int           // consecutive failures that open the breaker (5)
	RecoverAfter int           // successful trials that close it (1)
	Cooldown     time.Duration // time spent open before a trial call (10s)
	Trials       int           // concurrent calls allowed while half-open (1)

	// Counts decides which errors are failures. Nil counts every error.
	Counts func(error) bool
	// OnTransition is called under the breaker lock; keep it short.
	OnTransition func(Transition)
	// Now is the time source, time.Now when nil.
	Now func() time.Time
}

func (s *Settings) applyDefaults() {
	if s.TripAfter <= 0 {
		s.TripAfter = 5
	}
	if s.RecoverAfter <= 0 {
		s.RecoverAfter = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 10 * time.Second
	}
	if s.Trials <= 0 {
		s.Trials = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// Snapshot is a point-in-time view for health checks and logs.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	cfg Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inTrial   int
	openedAt  time.Time
}

// New returns a closed breaker.
func New(cfg Settings) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker rejects it, then records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(err, trial)
	return err
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false, ErrOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inTrial >= cb.cfg.Trials {
			return false, ErrTrialBusy
		}
		cb.inTrial++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.inTrial > 0 {
		cb.inTrial--
	}

	failed := err != nil
	if failed && cb.cfg.Counts != nil {
		failed = cb.cfg.Counts(err)
	}

	if !failed {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.RecoverAfter {
				cb.moveTo(StateClosed)
			}
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.cfg.TripAfter) {
		cb.moveTo(StateOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	now := cb.cfg.Now()

	cb.state = to
	cb.successes = 0
	cb.inTrial = 0
	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.failures = 0
		cb.openedAt = time.Time{}
	}

	if cb.cfg.OnTransition != nil {
		cb.cfg.OnTransition(Transition{Breaker: cb.cfg.Name, From: from, To: to, At: now})
	}
}

// State returns the current state without advancing an expired cooldown.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether calls are currently being rejected outright.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Name of the guarded dependency.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Snapshot returns the current state and failure streak.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                cb.cfg.Name,
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		OpenedAt:            cb.openedAt,
	}
}

// StoreBreaker guards the progression store. counts must return false for
// version conflicts so contention never trips the breaker.
func StoreBreaker(counts func(error) bool, onTransition func(Transition)) *CircuitBreaker {
	return New(Settings{
		Name:         "progression-store",
		TripAfter:    5,
		RecoverAfter: 1,
		Cooldown:     10 * time.Second,
		Counts:       counts,
		OnTransition: onTransition,
	})
}
