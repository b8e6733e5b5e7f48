package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"bookwatch-tui/internal/poll"
	"bookwatch-tui/internal/service"
)

func snapshot(progress float64) *service.JobStatus {
	return &service.JobStatus{ID: "job-1", ProgressPercentage: progress, CurrentStage: "fact_checking"}
}

// fireTick advances the clock by d and reports whether the session delivered
// a tick within that window.
func fireTick(t *testing.T, clock *clockwork.FakeClock, session *poll.Session, d time.Duration) bool {
	t.Helper()
	clock.Advance(d)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return session.Wait(ctx) == nil
}

func TestPollerInitialFetchWithoutAutoRefresh(t *testing.T) {
	t.Parallel()

	p := NewStatusPoller("job-1", Settings{Interval: 5 * time.Second}, clockwork.NewFakeClock())
	if p.State() != StateIdle {
		t.Fatalf("expected idle, got %s", p.State())
	}
	seq, ok := p.Begin()
	if !ok || p.State() != StateFetching {
		t.Fatalf("expected fetching after begin")
	}
	out := p.Resolve(seq, snapshot(20), nil)
	if !out.Applied || out.Scheduled {
		t.Fatalf("expected applied without schedule, got %+v", out)
	}
	if p.State() != StateReady || p.Status().ProgressPercentage != 20 {
		t.Fatalf("unexpected poller state %s %+v", p.State(), p.Status())
	}
	if p.Session().Pending() {
		t.Fatalf("expected no timer with auto-refresh off")
	}
}

func TestPollerSchedulesWhileIncomplete(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	out := p.Resolve(seq, snapshot(40), nil)
	if !out.Scheduled {
		t.Fatalf("expected next fetch scheduled")
	}
	session := p.Session()
	if fireTick(t, clock, session, 4*time.Second) {
		t.Fatalf("tick fired before the interval elapsed")
	}
	if !fireTick(t, clock, session, time.Second) {
		t.Fatalf("expected tick after the interval")
	}
	if tick := p.Tick(session.ID()); !tick.Fetch || !tick.Scheduled {
		t.Fatalf("expected tick accepted and the next one armed, got %+v", tick)
	}
}

func TestPollerCompleteJobNeverSchedules(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	if out := p.Resolve(seq, snapshot(100), nil); out.Scheduled {
		t.Fatalf("expected no schedule at 100%%")
	}
	if p.Configure(Settings{AutoRefresh: true, Interval: 10 * time.Second}) {
		t.Fatalf("expected enabling auto-refresh at 100%% to schedule nothing")
	}
	if fireTick(t, clock, p.Session(), time.Hour) {
		t.Fatalf("expected no tick for a finished job")
	}
}

func TestPollerCompletionStopsPendingTick(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	first, _ := p.Begin()
	p.Resolve(first, snapshot(90), nil)
	if !p.Session().Pending() {
		t.Fatalf("expected pending tick")
	}
	second, _ := p.Begin()
	p.Resolve(second, snapshot(100), nil)
	if p.Session().Pending() {
		t.Fatalf("expected completion to drop the pending tick")
	}
}

func TestPollerDisableCancelsPendingTimer(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	p.Resolve(seq, snapshot(10), nil)
	old := p.Session()

	if p.Configure(Settings{AutoRefresh: false, Interval: 5 * time.Second}) {
		t.Fatalf("expected nothing scheduled after disable")
	}
	if !old.Closed() || old.Pending() {
		t.Fatalf("expected previous session closed with no timer")
	}
	if p.Session() == old {
		t.Fatalf("expected a fresh session")
	}
	clock.Advance(time.Minute)
	if err := old.Wait(context.Background()); !errors.Is(err, poll.ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}
	if p.Tick(old.ID()).Fetch {
		t.Fatalf("expected tick from the old session ignored")
	}
	if p.Session().Pending() {
		t.Fatalf("expected no timer while disabled")
	}
}

func TestPollerIntervalChangeKeepsSingleTimer(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	p.Resolve(seq, snapshot(10), nil)
	old := p.Session()

	if !p.Configure(Settings{AutoRefresh: true, Interval: 30 * time.Second}) {
		t.Fatalf("expected rescheduled tick")
	}
	if !old.Closed() {
		t.Fatalf("expected old session closed before the new one was armed")
	}
	if fireTick(t, clock, p.Session(), 10*time.Second) {
		t.Fatalf("expected the old interval gone")
	}
	if !fireTick(t, clock, p.Session(), 20*time.Second) {
		t.Fatalf("expected tick at the new interval")
	}
}

func TestPollerNewestIssuedWins(t *testing.T) {
	t.Parallel()

	p := NewStatusPoller("job-1", Settings{}, clockwork.NewFakeClock())
	older, _ := p.Begin()
	newer, _ := p.Begin()

	if out := p.Resolve(newer, snapshot(60), nil); !out.Applied {
		t.Fatalf("expected newer snapshot applied")
	}
	if out := p.Resolve(older, snapshot(30), nil); out.Applied {
		t.Fatalf("expected older snapshot discarded")
	}
	if p.Status().ProgressPercentage != 60 {
		t.Fatalf("expected the later-issued snapshot shown, got %v", p.Status().ProgressPercentage)
	}
	if p.State() != StateReady {
		t.Fatalf("expected ready once nothing is in flight, got %s", p.State())
	}
}

func TestPollerFailureKeepsLastSnapshot(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	p.Resolve(seq, snapshot(25), nil)
	fireTick(t, clock, p.Session(), 5*time.Second)

	seq, _ = p.Begin()
	out := p.Resolve(seq, nil, errors.New("connection refused"))
	if !out.Applied || p.State() != StateFailed {
		t.Fatalf("expected failure recorded, got %+v state %s", out, p.State())
	}
	if p.Status() == nil || p.Status().ProgressPercentage != 25 {
		t.Fatalf("expected previous snapshot retained")
	}
	if !out.Scheduled {
		t.Fatalf("expected polling to continue at the next tick")
	}

	seq, _ = p.Begin()
	p.Resolve(seq, snapshot(30), nil)
	if p.Err() != nil || p.State() != StateReady {
		t.Fatalf("expected success to clear the error")
	}
}

func TestPollerCancelLeavesNoTimer(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)

	seq, _ := p.Begin()
	p.Resolve(seq, snapshot(50), nil)
	session := p.Session()
	inFlight, _ := p.Begin()

	p.Cancel()
	if p.State() != StateCancelled {
		t.Fatalf("expected cancelled state")
	}
	if fireTick(t, clock, session, time.Hour) {
		t.Fatalf("expected no tick after cancel")
	}
	if p.Tick(session.ID()).Fetch {
		t.Fatalf("expected ticks ignored after cancel")
	}
	if _, ok := p.Begin(); ok {
		t.Fatalf("expected no fetch after cancel")
	}
	if out := p.Resolve(inFlight, snapshot(60), nil); out.Applied || out.Scheduled {
		t.Fatalf("expected in-flight result ignored after cancel")
	}
	if p.Configure(Settings{AutoRefresh: true, Interval: time.Second}) {
		t.Fatalf("expected cancelled poller to stay terminal")
	}
}

func TestPollerDrivenBySimulatedTime(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 10 * time.Second}, clock)
	defer p.Close()

	progress := []float64{10, 40, 70, 100}
	fetches := 0
	fetch := func() {
		seq, ok := p.Begin()
		if !ok {
			t.Fatalf("unexpected refusal to fetch")
		}
		p.Resolve(seq, snapshot(progress[fetches]), nil)
		fetches++
	}

	fetch()
	for i := 0; i < 10; i++ {
		session := p.Session()
		if !fireTick(t, clock, session, 10*time.Second) {
			continue
		}
		if p.Tick(session.ID()).Fetch {
			fetch()
		}
	}
	if fetches != len(progress) {
		t.Fatalf("expected polling to stop at 100%%, got %d fetches", fetches)
	}
}

func TestPollerKeepsTickingPastAHungFetch(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	p.Resolve(seq, snapshot(20), nil)

	session := p.Session()
	if !fireTick(t, clock, session, 5*time.Second) {
		t.Fatalf("expected the first tick")
	}
	if !p.Tick(session.ID()).Fetch {
		t.Fatalf("expected the first tick accepted")
	}
	hung, _ := p.Begin()

	ticks := 0
	var latest uint64
	for i := 0; i < 10; i++ {
		if !fireTick(t, clock, session, 5*time.Second) {
			continue
		}
		if tick := p.Tick(session.ID()); tick.Fetch {
			ticks++
			latest, _ = p.Begin()
		}
	}
	if ticks != 10 {
		t.Fatalf("expected a tick every interval with a fetch outstanding, got %d", ticks)
	}

	if out := p.Resolve(latest, snapshot(60), nil); !out.Applied {
		t.Fatalf("expected the newest fetch applied")
	}
	if p.State() != StateReady {
		t.Fatalf("expected ready once the newest fetch resolved, got %s", p.State())
	}
	if out := p.Resolve(hung, snapshot(30), nil); out.Applied {
		t.Fatalf("expected the late result of the hung fetch dropped")
	}
	if p.Status().ProgressPercentage != 60 || p.State() != StateReady {
		t.Fatalf("unexpected poller %s %+v", p.State(), p.Status())
	}
}

func TestPollerTickDoesNotRearmAfterCompletion(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	p := NewStatusPoller("job-1", Settings{AutoRefresh: true, Interval: 5 * time.Second}, clock)
	defer p.Close()

	seq, _ := p.Begin()
	p.Resolve(seq, snapshot(90), nil)
	session := p.Session()
	if !fireTick(t, clock, session, 5*time.Second) {
		t.Fatalf("expected a tick")
	}
	seq, _ = p.Begin()
	p.Resolve(seq, snapshot(100), nil)
	if tick := p.Tick(session.ID()); tick.Scheduled {
		t.Fatalf("expected no tick armed for a finished job")
	}
	if session.Pending() {
		t.Fatalf("expected no pending tick")
	}
}
