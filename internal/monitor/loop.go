package monitor

import (
	"time"

	"github.com/jonboulle/clockwork"

	"bookwatch-tui/internal/poll"
)

const DefaultInterval = 10 * time.Second

// Settings are the user-controlled refresh knobs, owned by the caller and
// handed to each refresher.
type Settings struct {
	AutoRefresh bool
	Interval    time.Duration
}

func (s Settings) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

// Outcome reports what a resolved fetch did. When Scheduled is set the caller
// must wait on the refresher's current session for the next tick.
type Outcome struct {
	Applied   bool
	Scheduled bool
}

// TickOutcome reports what an accepted tick asks of the caller: Fetch issues
// a request, Scheduled means the following tick is armed and needs a waiter.
type TickOutcome struct {
	Fetch     bool
	Scheduled bool
}

// loop is the schedule/tick bookkeeping shared by every refresher.
type loop struct {
	clock   clockwork.Clock
	session *poll.Session
	seq     poll.Sequencer
}

func newLoop(clock clockwork.Clock) loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return loop{clock: clock, session: poll.NewSession(clock)}
}

// reopen tears down the current session before creating its replacement.
func (l *loop) reopen() {
	l.session.Close()
	l.session = poll.NewSession(l.clock)
}

// schedule arms a tick unless one is already pending.
func (l *loop) schedule(d time.Duration) bool {
	if l.session.Pending() {
		return false
	}
	return l.session.Schedule(d) == nil
}

func (l *loop) current(sessionID uint64) bool {
	return !l.session.Closed() && l.session.ID() == sessionID
}
