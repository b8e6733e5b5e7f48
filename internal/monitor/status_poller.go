package monitor

import (
	"github.com/jonboulle/clockwork"

	"bookwatch-tui/internal/poll"
	"bookwatch-tui/internal/service"
)

type PollState int

const (
	StateIdle PollState = iota
	StateFetching
	StateReady
	StateFailed
	StateCancelled
)

func (s PollState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StatusPoller is the polling state machine for one job. It performs no I/O:
// callers issue fetches numbered by Begin and report them back via Resolve.
type StatusPoller struct {
	jobID    string
	settings Settings
	loop     loop

	state   PollState
	status  *service.JobStatus
	err     error
	waiting bool
}

func NewStatusPoller(jobID string, settings Settings, clock clockwork.Clock) *StatusPoller {
	return &StatusPoller{
		jobID:    jobID,
		settings: settings,
		loop:     newLoop(clock),
	}
}

func (p *StatusPoller) JobID() string {
	return p.jobID
}

func (p *StatusPoller) State() PollState {
	return p.state
}

func (p *StatusPoller) Settings() Settings {
	return p.settings
}

// Status is the last applied snapshot. A failed fetch never clears it.
func (p *StatusPoller) Status() *service.JobStatus {
	return p.status
}

// Err is the failure of the newest fetch, cleared by the next success.
func (p *StatusPoller) Err() error {
	return p.err
}

func (p *StatusPoller) Session() *poll.Session {
	return p.loop.session
}

// Begin issues a fetch. It returns false once the poller is cancelled.
func (p *StatusPoller) Begin() (uint64, bool) {
	if p.state == StateCancelled {
		return 0, false
	}
	p.waiting = true
	p.state = StateFetching
	return p.loop.seq.Next(), true
}

// Resolve applies the result of fetch seq. Snapshots older than the newest
// applied one are dropped. Only the newest issued fetch keeps the poller in
// StateFetching, so an abandoned request cannot pin it there.
func (p *StatusPoller) Resolve(seq uint64, status *service.JobStatus, err error) Outcome {
	if seq == p.loop.seq.Latest() {
		p.waiting = false
	}
	if p.state == StateCancelled {
		return Outcome{}
	}

	var out Outcome
	if err != nil {
		if !p.loop.seq.Current(seq) {
			p.settle()
			return out
		}
		p.err = err
		out.Applied = true
	} else {
		if status == nil || !p.loop.seq.Accept(seq) {
			p.settle()
			return out
		}
		p.status = status
		p.err = nil
		out.Applied = true
	}
	p.settle()

	if p.status.Complete() {
		p.loop.session.Stop()
		return out
	}
	if p.wantsTicks() {
		out.Scheduled = p.loop.schedule(p.settings.interval())
	}
	return out
}

// settle derives the state from what is known and what is outstanding.
func (p *StatusPoller) settle() {
	switch {
	case p.waiting:
		p.state = StateFetching
	case p.err != nil:
		p.state = StateFailed
	case p.status != nil:
		p.state = StateReady
	default:
		p.state = StateIdle
	}
}

// Configure swaps the settings. The old session is closed before a new one is
// opened, so a pending tick of the old settings can never fire.
func (p *StatusPoller) Configure(settings Settings) bool {
	if p.state == StateCancelled {
		return false
	}
	p.settings = settings
	p.loop.reopen()
	if !p.wantsTicks() || p.status.Complete() {
		return false
	}
	return p.loop.schedule(p.settings.interval())
}

// Tick handles a tick from sessionID. An accepted tick arms the next one
// straight away, so a fetch that never returns cannot stall polling.
func (p *StatusPoller) Tick(sessionID uint64) TickOutcome {
	if p.state == StateCancelled || !p.wantsTicks() || !p.loop.current(sessionID) {
		return TickOutcome{}
	}
	out := TickOutcome{Fetch: true}
	if !p.status.Complete() {
		out.Scheduled = p.loop.schedule(p.settings.interval())
	}
	return out
}

// Cancel is terminal: the session closes and every later result is ignored.
func (p *StatusPoller) Cancel() {
	p.state = StateCancelled
	p.loop.session.Close()
	p.loop.seq.Invalidate()
}

// Close releases the timer when the job is no longer watched. Unlike Cancel
// it says nothing about the job itself.
func (p *StatusPoller) Close() {
	p.loop.session.Close()
	p.loop.seq.Invalidate()
}

func (p *StatusPoller) wantsTicks() bool {
	return p.settings.AutoRefresh
}
