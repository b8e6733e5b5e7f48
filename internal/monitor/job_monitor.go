package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"bookwatch-tui/internal/normalize"
	"bookwatch-tui/internal/service"
)

// MaxVisibleErrors bounds how many job errors are surfaced.
const MaxVisibleErrors = 3

type Backend interface {
	GetStatus(ctx context.Context, jobID string) (*service.JobStatus, error)
	CancelBook(ctx context.Context, jobID string) error
	ViewBook(ctx context.Context, jobID string) (*service.BookContent, error)
	Download(ctx context.Context, jobID, format string, w io.Writer) (int64, error)
}

// Downloads persists a payload under its final name only once write succeeds.
type Downloads interface {
	SaveDownload(jobID, format string, write func(io.Writer) error) (string, error)
}

// JobMonitor pairs a StatusPoller with the job-scoped actions. Methods that
// talk to the backend touch no monitor state, so they may run off the UI
// goroutine; the Apply/Set methods must be called by the state owner.
type JobMonitor struct {
	poller    *StatusPoller
	backend   Backend
	downloads Downloads
	clock     clockwork.Clock
	pipeline  *normalize.Pipeline
	log       logrus.FieldLogger

	content *service.BookContent
}

type JobMonitorOptions struct {
	Settings  Settings
	Clock     clockwork.Clock
	Downloads Downloads
	Logger    logrus.FieldLogger
	Pipeline  *normalize.Pipeline
}

func NewJobMonitor(jobID string, backend Backend, opts JobMonitorOptions) *JobMonitor {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = normalize.Default()
	}
	log := opts.Logger
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logger
	}
	return &JobMonitor{
		poller:    NewStatusPoller(jobID, opts.Settings, clock),
		backend:   backend,
		downloads: opts.Downloads,
		clock:     clock,
		pipeline:  pipeline,
		log:       log.WithField("job_id", jobID),
	}
}

func (m *JobMonitor) JobID() string {
	return m.poller.JobID()
}

func (m *JobMonitor) Poller() *StatusPoller {
	return m.poller
}

func (m *JobMonitor) FetchStatus(ctx context.Context) (*service.JobStatus, error) {
	status, err := m.backend.GetStatus(ctx, m.JobID())
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	return status, nil
}

// RequestCancel asks the backend to cancel the job. On success the owner
// calls MarkCancelled.
func (m *JobMonitor) RequestCancel(ctx context.Context) error {
	if err := m.backend.CancelBook(ctx, m.JobID()); err != nil {
		m.log.WithError(err).Warn("monitor.cancel.failed")
		return fmt.Errorf("cancel job: %w", err)
	}
	m.log.Info("monitor.cancel.accepted")
	return nil
}

func (m *JobMonitor) MarkCancelled() {
	m.poller.Cancel()
}

// FetchContent loads the book and returns a normalized copy.
func (m *JobMonitor) FetchContent(ctx context.Context) (*service.BookContent, error) {
	content, err := m.backend.ViewBook(ctx, m.JobID())
	if err != nil {
		m.log.WithError(err).Warn("monitor.view.failed")
		return nil, fmt.Errorf("view content: %w", err)
	}
	return NormalizeContent(content, m.pipeline), nil
}

func (m *JobMonitor) SetContent(content *service.BookContent) {
	if content != nil {
		m.content = content
	}
}

func (m *JobMonitor) Content() *service.BookContent {
	return m.content
}

// Download stores the rendered book through the Downloads sink.
func (m *JobMonitor) Download(ctx context.Context, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !service.SupportedFormat(format) {
		return "", fmt.Errorf("%w: %q", service.ErrUnsupportedFormat, format)
	}
	if m.downloads == nil {
		return "", fmt.Errorf("no download directory configured")
	}
	path, err := m.downloads.SaveDownload(m.JobID(), format, func(w io.Writer) error {
		_, err := m.backend.Download(ctx, m.JobID(), format, w)
		return err
	})
	if err != nil {
		m.log.WithError(err).WithField("format", format).Warn("monitor.download.failed")
		return "", fmt.Errorf("download %s: %w", format, err)
	}
	return path, nil
}

// Summary is everything the monitor view renders for one job at one moment.
type Summary struct {
	JobID     string
	Progress  string
	Completed string
	Elapsed   string
	ETA       string
	Current   string
	Badges    []StageBadge
	Errors    []service.StageError
}

// Summary derives display facts from the last snapshot. Elapsed time uses
// the monitor clock at the moment of the call.
func (m *JobMonitor) Summary() Summary {
	return Summarize(m.JobID(), m.poller.Status(), m.clock.Now())
}

func Summarize(jobID string, status *service.JobStatus, now time.Time) Summary {
	summary := Summary{
		JobID:     jobID,
		Progress:  "0.0%",
		Completed: fmt.Sprintf("%d/%d", CompletedCount(status), len(Stages)),
		Elapsed:   Elapsed(status, now),
		ETA:       ETALabel(status),
		Current:   "Unknown",
		Badges:    Badges(status),
		Errors:    RecentErrors(status, MaxVisibleErrors),
	}
	if status != nil {
		summary.Progress = FormatProgress(status.ProgressPercentage)
		summary.Current = StageLabel(status.CurrentStage)
	}
	return summary
}

func FormatProgress(progress float64) string {
	return fmt.Sprintf("%.1f%%", progress)
}

// Elapsed is now minus startedAt as HH:MM:SS, or N/A without a usable start.
func Elapsed(status *service.JobStatus, now time.Time) string {
	started, ok := status.StartedTime()
	if !ok {
		return "N/A"
	}
	return FormatElapsed(now.Sub(started))
}

func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func ETALabel(status *service.JobStatus) string {
	if status != nil && present(status.EstimatedCompletion) {
		return "Calculating..."
	}
	return "Soon!"
}

// present treats null, "", 0 and false as an absent estimate.
func present(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case float64:
		return v != 0
	case bool:
		return v
	default:
		return true
	}
}

// RecentErrors returns the last n errors in arrival order.
func RecentErrors(status *service.JobStatus, n int) []service.StageError {
	if status == nil || n <= 0 || len(status.Errors) == 0 {
		return nil
	}
	errs := status.Errors
	if len(errs) > n {
		errs = errs[len(errs)-n:]
	}
	return append([]service.StageError(nil), errs...)
}

// NormalizeContent returns a copy of content with Display filled in for every
// chapter. The input is left untouched.
func NormalizeContent(content *service.BookContent, pipeline *normalize.Pipeline) *service.BookContent {
	if content == nil {
		return nil
	}
	if pipeline == nil {
		pipeline = normalize.Default()
	}
	out := &service.BookContent{
		Project:  content.Project,
		Chapters: make([]service.ChapterContent, len(content.Chapters)),
	}
	for i, chapter := range content.Chapters {
		chapter.Display = pipeline.Run(chapter.RawOutput)
		out.Chapters[i] = chapter
	}
	return out
}
