// Package poll holds the timer and ordering primitives shared by every
// refresher: a Session owns at most one scheduled tick, and a Sequencer
// decides which of several overlapping responses may be applied.
package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrSessionClosed = errors.New("poll session closed")
	ErrNotScheduled  = errors.New("poll session has no pending tick")
)

var sessionIDs atomic.Uint64

// Session owns at most one pending timer. Close releases it and wakes any
// waiter; a closed session never delivers another tick.
type Session struct {
	id    uint64
	clock clockwork.Clock

	mu      sync.Mutex
	timer   clockwork.Timer
	tick    <-chan time.Time
	rearmed chan struct{}
	closed  bool
	done    chan struct{}
}

// NewSession returns an open session with nothing scheduled.
func NewSession(clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		id:      sessionIDs.Add(1),
		clock:   clock,
		rearmed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID is unique per process. Ticks carry it so stale ones can be recognised.
func (s *Session) ID() uint64 {
	return s.id
}

// Schedule arms the tick d from now, replacing any pending one.
func (s *Session) Schedule(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.timer != nil {
		s.timer.Stop()
		close(s.rearmed)
		s.rearmed = make(chan struct{})
	}
	s.timer = s.clock.NewTimer(d)
	s.tick = s.timer.Chan()
	return nil
}

// Wait blocks until the pending tick fires. A reschedule while waiting moves
// the wait to the new tick.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrSessionClosed
		}
		if s.timer == nil {
			s.mu.Unlock()
			return ErrNotScheduled
		}
		tick, rearmed := s.tick, s.rearmed
		s.mu.Unlock()

		select {
		case <-tick:
			s.mu.Lock()
			if s.tick == tick {
				s.timer = nil
				s.tick = nil
			}
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrSessionClosed
			}
			return nil
		case <-rearmed:
		case <-s.done:
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop drops the pending tick without closing the session. A blocked waiter
// returns ErrNotScheduled.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.tick = nil
	close(s.rearmed)
	s.rearmed = make(chan struct{})
	return true
}

// Pending reports whether a tick is armed and not yet delivered.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.timer != nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.tick = nil
	}
	close(s.done)
}
