package monitor

import (
	"time"

	"github.com/jonboulle/clockwork"

	"bookwatch-tui/internal/poll"
	"bookwatch-tui/internal/service"
)

// ListRefresher keeps the job list current. It has no stop condition: it
// polls for as long as auto-refresh stays on.
type ListRefresher struct {
	settings Settings
	loop     loop

	books  []service.BookSummary
	err    error
	loaded bool
}

func NewListRefresher(settings Settings, clock clockwork.Clock) *ListRefresher {
	return &ListRefresher{settings: settings, loop: newLoop(clock)}
}

func (r *ListRefresher) Settings() Settings {
	return r.settings
}

func (r *ListRefresher) Books() []service.BookSummary {
	return r.books
}

func (r *ListRefresher) Err() error {
	return r.err
}

func (r *ListRefresher) Loaded() bool {
	return r.loaded
}

func (r *ListRefresher) Session() *poll.Session {
	return r.loop.session
}

// Begin issues a fetch regardless of the auto-refresh setting.
func (r *ListRefresher) Begin() uint64 {
	return r.loop.seq.Next()
}

func (r *ListRefresher) Resolve(seq uint64, books []service.BookSummary, err error) Outcome {
	var out Outcome
	if err != nil {
		if r.loop.seq.Current(seq) {
			r.err = err
			out.Applied = true
		}
	} else if r.loop.seq.Accept(seq) {
		if books == nil {
			books = []service.BookSummary{}
		}
		r.books = books
		r.err = nil
		r.loaded = true
		out.Applied = true
	}
	if out.Applied && r.settings.AutoRefresh {
		out.Scheduled = r.loop.schedule(r.settings.interval())
	}
	return out
}

// Configure swaps the settings on a fresh session. Turning auto-refresh on
// asks for an immediate fetch as well as the next tick.
func (r *ListRefresher) Configure(settings Settings) TickOutcome {
	enabled := settings.AutoRefresh && !r.settings.AutoRefresh
	r.settings = settings
	r.loop.reopen()
	if !settings.AutoRefresh {
		return TickOutcome{}
	}
	return TickOutcome{Fetch: enabled, Scheduled: r.loop.schedule(settings.interval())}
}

// Tick arms the following tick before the caller fetches.
func (r *ListRefresher) Tick(sessionID uint64) TickOutcome {
	if !r.settings.AutoRefresh || !r.loop.current(sessionID) {
		return TickOutcome{}
	}
	return TickOutcome{Fetch: true, Scheduled: r.loop.schedule(r.settings.interval())}
}

func (r *ListRefresher) Close() {
	r.loop.session.Close()
}

// Find returns the listed entry for id.
func (r *ListRefresher) Find(id string) (service.BookSummary, bool) {
	for _, book := range r.books {
		if book.ID == id {
			return book, true
		}
	}
	return service.BookSummary{}, false
}

const DefaultHealthInterval = 5 * time.Second

// HealthRefresher polls backend health at a fixed interval while open.
type HealthRefresher struct {
	interval time.Duration
	loop     loop
	open     bool

	report *service.HealthReport
	err    error
}

func NewHealthRefresher(interval time.Duration, clock clockwork.Clock) *HealthRefresher {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	h := &HealthRefresher{interval: interval, loop: newLoop(clock)}
	h.loop.session.Close()
	return h
}

// Open starts a fresh session. The caller fetches immediately.
func (h *HealthRefresher) Open() {
	h.loop.reopen()
	h.open = true
}

func (h *HealthRefresher) Close() {
	h.open = false
	h.loop.session.Close()
}

func (h *HealthRefresher) IsOpen() bool {
	return h.open
}

func (h *HealthRefresher) Interval() time.Duration {
	return h.interval
}

func (h *HealthRefresher) Report() *service.HealthReport {
	return h.report
}

func (h *HealthRefresher) Err() error {
	return h.err
}

func (h *HealthRefresher) Session() *poll.Session {
	return h.loop.session
}

func (h *HealthRefresher) Begin() (uint64, bool) {
	if !h.open {
		return 0, false
	}
	return h.loop.seq.Next(), true
}

func (h *HealthRefresher) Resolve(seq uint64, report *service.HealthReport, err error) Outcome {
	if !h.open {
		return Outcome{}
	}
	var out Outcome
	if err != nil {
		if h.loop.seq.Current(seq) {
			h.err = err
			out.Applied = true
		}
	} else if report != nil && h.loop.seq.Accept(seq) {
		h.report = report
		h.err = nil
		out.Applied = true
	}
	if out.Applied {
		out.Scheduled = h.loop.schedule(h.interval)
	}
	return out
}

func (h *HealthRefresher) Tick(sessionID uint64) TickOutcome {
	if !h.open || !h.loop.current(sessionID) {
		return TickOutcome{}
	}
	return TickOutcome{Fetch: true, Scheduled: h.loop.schedule(h.interval)}
}
