package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bookwatch-tui/internal/config"
	"bookwatch-tui/internal/monitor"
	"bookwatch-tui/internal/poll"
	"bookwatch-tui/internal/service"
	"bookwatch-tui/internal/storage"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Backend is the slice of the book service the TUI talks to.
type Backend interface {
	monitor.Backend
	Health(ctx context.Context) (*service.HealthReport, error)
	ListBooks(ctx context.Context) ([]service.BookSummary, error)
	CreateBook(ctx context.Context, req service.CreateBookRequest) (string, error)
}

type viewMode int

const (
	viewWelcome viewMode = iota
	viewMonitor
	viewHealth
	viewCreate
	viewContent
)

func (v viewMode) String() string {
	switch v {
	case viewMonitor:
		return "monitor"
	case viewHealth:
		return "health"
	case viewCreate:
		return "create"
	case viewContent:
		return "content"
	default:
		return "welcome"
	}
}

type booksLoadedMsg struct {
	seq   uint64
	books []service.BookSummary
	err   error
}

type listTickMsg struct {
	sessionID uint64
}

type statusLoadedMsg struct {
	jobID  string
	seq    uint64
	status *service.JobStatus
	err    error
}

type statusTickMsg struct {
	jobID     string
	sessionID uint64
}

type healthLoadedMsg struct {
	seq    uint64
	report *service.HealthReport
	err    error
}

type healthTickMsg struct {
	sessionID uint64
}

type jobCreatedMsg struct {
	jobID string
	title string
	err   error
}

type jobCancelledMsg struct {
	jobID string
	err   error
}

type contentLoadedMsg struct {
	jobID   string
	content *service.BookContent
	err     error
}

type downloadDoneMsg struct {
	jobID  string
	format string
	path   string
	err    error
}

type snapshotSavedMsg struct {
	summary storage.ContentSummary
	err     error
}

type libraryExportedMsg struct {
	path string
	err  error
}

// SettingsChangedMsg carries reloaded settings into a running program.
type SettingsChangedMsg struct {
	Settings config.Settings
}

type ModelOptions struct {
	Refresh        monitor.Settings
	HealthInterval time.Duration
	BackendURL     string
	Clock          clockwork.Clock
	Activity       *service.ActivityHook
	Logger         logrus.FieldLogger
}

type Model struct {
	backend  Backend
	store    *storage.Store
	clock    clockwork.Clock
	log      logrus.FieldLogger
	activity *service.ActivityHook

	backendURL string
	settings   monitor.Settings

	ready  bool
	width  int
	height int

	mode     viewMode
	library  *monitor.ListRefresher
	cursor   int
	job      *monitor.JobMonitor
	health   *monitor.HealthRefresher
	form     createForm
	content  viewport.Model
	spinner  spinner.Model
	creating bool

	statusText string
	errorText  string
	showHelp   bool

	libraryW  int
	libraryH  int
	detailW   int
	detailH   int
	activityW int
	activityH int
}

func NewModel(backend Backend, store *storage.Store, opts ModelOptions) Model {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := opts.Logger
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logger
	}

	content := viewport.New(60, 16)
	content.SetContent("No content loaded.")

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(accentSecondary)

	return Model{
		backend:    backend,
		store:      store,
		clock:      clock,
		log:        log,
		activity:   opts.Activity,
		backendURL: opts.BackendURL,
		settings:   opts.Refresh,
		library:    monitor.NewListRefresher(opts.Refresh, clock),
		health:     monitor.NewHealthRefresher(opts.HealthInterval, clock),
		form:       newCreateForm(),
		content:    content,
		spinner:    spin,
		statusText: "Loading library...",
		showHelp:   true,
		libraryW:   40,
		libraryH:   18,
		detailW:    64,
		detailH:    18,
		activityW:  108,
		activityH:  6,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchBooksCmd(m.backend, m.library.Begin()),
	)
}

func fetchBooksCmd(backend Backend, seq uint64) tea.Cmd {
	return func() tea.Msg {
		books, err := backend.ListBooks(context.Background())
		return booksLoadedMsg{seq: seq, books: books, err: err}
	}
}

func fetchStatusCmd(job *monitor.JobMonitor, seq uint64) tea.Cmd {
	return func() tea.Msg {
		status, err := job.FetchStatus(context.Background())
		return statusLoadedMsg{jobID: job.JobID(), seq: seq, status: status, err: err}
	}
}

func fetchHealthCmd(backend Backend, seq uint64) tea.Cmd {
	return func() tea.Msg {
		report, err := backend.Health(context.Background())
		return healthLoadedMsg{seq: seq, report: report, err: err}
	}
}

func createBookCmd(backend Backend, req service.CreateBookRequest) tea.Cmd {
	return func() tea.Msg {
		jobID, err := backend.CreateBook(context.Background(), req)
		return jobCreatedMsg{jobID: jobID, title: req.Title, err: err}
	}
}

func cancelJobCmd(job *monitor.JobMonitor) tea.Cmd {
	return func() tea.Msg {
		err := job.RequestCancel(context.Background())
		return jobCancelledMsg{jobID: job.JobID(), err: err}
	}
}

func fetchContentCmd(job *monitor.JobMonitor) tea.Cmd {
	return func() tea.Msg {
		content, err := job.FetchContent(context.Background())
		return contentLoadedMsg{jobID: job.JobID(), content: content, err: err}
	}
}

func downloadCmd(job *monitor.JobMonitor, format string) tea.Cmd {
	return func() tea.Msg {
		path, err := job.Download(context.Background(), format)
		return downloadDoneMsg{jobID: job.JobID(), format: format, path: path, err: err}
	}
}

func saveSnapshotCmd(store *storage.Store, jobID string, content *service.BookContent) tea.Cmd {
	return func() tea.Msg {
		summary, err := store.SaveContent(jobID, content)
		return snapshotSavedMsg{summary: summary, err: err}
	}
}

func exportLibraryCmd(store *storage.Store, books []service.BookSummary) tea.Cmd {
	rows := append([]service.BookSummary(nil), books...)
	return func() tea.Msg {
		path, err := store.ExportLibrary("", rows)
		return libraryExportedMsg{path: path, err: err}
	}
}

// waitTickCmd blocks on the session's pending tick. A closed or stopped
// session yields no message.
func waitTickCmd(session *poll.Session, wrap func(sessionID uint64) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		if err := session.Wait(context.Background()); err != nil {
			return nil
		}
		return wrap(session.ID())
	}
}

func (m *Model) waitList() tea.Cmd {
	return waitTickCmd(m.library.Session(), func(id uint64) tea.Msg {
		return listTickMsg{sessionID: id}
	})
}

func (m *Model) waitStatus() tea.Cmd {
	if m.job == nil {
		return nil
	}
	jobID := m.job.JobID()
	return waitTickCmd(m.job.Poller().Session(), func(id uint64) tea.Msg {
		return statusTickMsg{jobID: jobID, sessionID: id}
	})
}

func (m *Model) waitHealth() tea.Cmd {
	return waitTickCmd(m.health.Session(), func(id uint64) tea.Msg {
		return healthTickMsg{sessionID: id}
	})
}

func (m *Model) refreshLibrary() tea.Cmd {
	return fetchBooksCmd(m.backend, m.library.Begin())
}

func (m *Model) refreshStatus() tea.Cmd {
	if m.job == nil {
		return nil
	}
	seq, ok := m.job.Poller().Begin()
	if !ok {
		return nil
	}
	return fetchStatusCmd(m.job, seq)
}

func (m *Model) refreshHealth() tea.Cmd {
	seq, ok := m.health.Begin()
	if !ok {
		return nil
	}
	return fetchHealthCmd(m.backend, seq)
}

func (m *Model) downloads() monitor.Downloads {
	if m.store == nil {
		return nil
	}
	return m.store
}

// watch replaces the monitored job. The previous poller is closed first.
func (m *Model) watch(jobID string) tea.Cmd {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil
	}
	m.dropJob()
	m.job = monitor.NewJobMonitor(jobID, m.backend, monitor.JobMonitorOptions{
		Settings:  m.settings,
		Clock:     m.clock,
		Downloads: m.downloads(),
		Logger:    m.log,
	})
	m.setMode(viewMonitor)
	m.statusText = fmt.Sprintf("Monitoring job %s", shortJobID(jobID))
	m.log.WithField("job_id", jobID).Info("app.job.selected")
	return m.refreshStatus()
}

func (m *Model) dropJob() {
	if m.job != nil {
		m.job.Poller().Close()
		m.job = nil
	}
}

// setMode switches the right panel. Leaving the health view tears its
// session down.
func (m *Model) setMode(mode viewMode) {
	if m.mode == viewHealth && mode != viewHealth {
		m.health.Close()
	}
	if mode == viewCreate {
		m.form.focusField(m.form.focus)
	} else {
		m.form.blur()
	}
	m.mode = mode
}

// restingMode is where esc lands from the health and create views.
func (m *Model) restingMode() viewMode {
	if m.job != nil {
		return viewMonitor
	}
	return viewWelcome
}

// applySettings pushes the refresh settings into every live refresher.
func (m *Model) applySettings(settings monitor.Settings) tea.Cmd {
	m.settings = settings
	cmds := []tea.Cmd{}
	list := m.library.Configure(settings)
	if list.Scheduled {
		cmds = append(cmds, m.waitList())
	}
	if list.Fetch {
		cmds = append(cmds, m.refreshLibrary())
	}
	if m.job != nil && m.job.Poller().Configure(settings) {
		cmds = append(cmds, m.waitStatus())
	}
	return tea.Batch(cmds...)
}

func (m *Model) selectedBook() (service.BookSummary, bool) {
	books := m.library.Books()
	if len(books) == 0 {
		return service.BookSummary{}, false
	}
	m.cursor = clampInt(m.cursor, 0, len(books)-1)
	return books[m.cursor], true
}

func (m *Model) shutdown() {
	m.library.Close()
	m.health.Close()
	m.dropJob()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizePanels()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case booksLoadedMsg:
		out := m.library.Resolve(msg.seq, msg.books, msg.err)
		if out.Applied {
			if msg.err != nil {
				m.errorText = "Library refresh failed: " + msg.err.Error()
			} else {
				m.errorText = ""
				books := m.library.Books()
				m.cursor = clampInt(m.cursor, 0, maxInt(0, len(books)-1))
				if m.statusText == "Loading library..." {
					m.statusText = fmt.Sprintf("Library loaded: %d book(s)", len(books))
				}
			}
		}
		if out.Scheduled {
			return m, m.waitList()
		}
		return m, nil

	case listTickMsg:
		tick := m.library.Tick(msg.sessionID)
		if !tick.Fetch {
			return m, nil
		}
		if tick.Scheduled {
			return m, tea.Batch(m.refreshLibrary(), m.waitList())
		}
		return m, m.refreshLibrary()

	case statusLoadedMsg:
		if m.job == nil || m.job.JobID() != msg.jobID {
			return m, nil
		}
		out := m.job.Poller().Resolve(msg.seq, msg.status, msg.err)
		if out.Applied {
			if msg.err != nil {
				m.errorText = "Status refresh failed: " + msg.err.Error()
			} else {
				m.errorText = ""
				if msg.status.Complete() {
					m.statusText = fmt.Sprintf("Job %s complete", shortJobID(msg.jobID))
				}
			}
		}
		if out.Scheduled {
			return m, m.waitStatus()
		}
		return m, nil

	case statusTickMsg:
		if m.job == nil || m.job.JobID() != msg.jobID {
			return m, nil
		}
		tick := m.job.Poller().Tick(msg.sessionID)
		if !tick.Fetch {
			return m, nil
		}
		if tick.Scheduled {
			return m, tea.Batch(m.refreshStatus(), m.waitStatus())
		}
		return m, m.refreshStatus()

	case healthLoadedMsg:
		out := m.health.Resolve(msg.seq, msg.report, msg.err)
		if out.Applied && msg.err != nil {
			m.errorText = "Health check failed: " + msg.err.Error()
		} else if out.Applied {
			m.errorText = ""
		}
		if out.Scheduled {
			return m, m.waitHealth()
		}
		return m, nil

	case healthTickMsg:
		tick := m.health.Tick(msg.sessionID)
		if !tick.Fetch {
			return m, nil
		}
		if tick.Scheduled {
			return m, tea.Batch(m.refreshHealth(), m.waitHealth())
		}
		return m, m.refreshHealth()

	case jobCreatedMsg:
		m.creating = false
		if msg.err != nil {
			m.errorText = "Create failed: " + msg.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.form.reset()
		m.log.WithFields(logrus.Fields{"job_id": msg.jobID, "title": msg.title}).Info("app.job.created")
		cmd := m.watch(msg.jobID)
		m.statusText = fmt.Sprintf("Created %q as job %s", msg.title, shortJobID(msg.jobID))
		return m, tea.Batch(cmd, m.refreshLibrary())

	case jobCancelledMsg:
		if m.job == nil || m.job.JobID() != msg.jobID {
			return m, nil
		}
		if msg.err != nil {
			m.errorText = "Cancel failed: " + msg.err.Error()
			return m, nil
		}
		m.job.MarkCancelled()
		m.job = nil
		m.setMode(viewWelcome)
		m.errorText = ""
		m.statusText = fmt.Sprintf("Cancelled job %s", shortJobID(msg.jobID))
		return m, m.refreshLibrary()

	case contentLoadedMsg:
		if m.job == nil || m.job.JobID() != msg.jobID {
			return m, nil
		}
		if msg.err != nil {
			m.errorText = "Could not load content: " + msg.err.Error()
			return m, nil
		}
		m.job.SetContent(msg.content)
		m.content.SetContent(renderContent(m.job.Content(), m.content.Width))
		m.content.GotoTop()
		m.setMode(viewContent)
		m.errorText = ""
		m.statusText = fmt.Sprintf("Loaded %d chapter(s) of %s", len(msg.content.Chapters), shortJobID(msg.jobID))
		return m, nil

	case downloadDoneMsg:
		if msg.err != nil {
			m.errorText = fmt.Sprintf("Download %s failed: %s", msg.format, msg.err.Error())
			return m, nil
		}
		m.errorText = ""
		m.statusText = "Saved " + msg.path
		return m, nil

	case snapshotSavedMsg:
		if msg.err != nil {
			m.errorText = "Could not save snapshot: " + msg.err.Error()
			return m, nil
		}
		m.statusText = "Saved snapshot " + filepathBase(msg.summary.Directory)
		return m, nil

	case libraryExportedMsg:
		if msg.err != nil {
			m.errorText = "Export failed: " + msg.err.Error()
			return m, nil
		}
		m.statusText = "Exported library to " + msg.path
		return m, nil

	case SettingsChangedMsg:
		next := monitor.Settings{AutoRefresh: msg.Settings.AutoRefresh, Interval: msg.Settings.RefreshInterval}
		if next == m.settings {
			return m, nil
		}
		m.statusText = "Settings reloaded: " + describeSettings(next)
		return m, m.applySettings(next)

	case tea.KeyMsg:
		if m.mode == viewCreate {
			return m.updateForm(msg)
		}
		return m.updateKeys(msg)
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.shutdown()
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		m.resizePanels()
		return m, nil

	case "up", "k":
		if m.mode == viewContent {
			var cmd tea.Cmd
			m.content, cmd = m.content.Update(msg)
			return m, cmd
		}
		m.cursor = maxInt(0, m.cursor-1)
		return m, nil

	case "down", "j":
		if m.mode == viewContent {
			var cmd tea.Cmd
			m.content, cmd = m.content.Update(msg)
			return m, cmd
		}
		m.cursor = minInt(maxInt(0, len(m.library.Books())-1), m.cursor+1)
		return m, nil

	case "pgup", "pgdown":
		if m.mode == viewContent {
			var cmd tea.Cmd
			m.content, cmd = m.content.Update(msg)
			return m, cmd
		}
		return m, nil

	case "enter":
		book, ok := m.selectedBook()
		if !ok {
			m.errorText = "No book selected"
			return m, nil
		}
		return m, m.watch(book.ID)

	case "R":
		m.statusText = "Refreshing library..."
		return m, m.refreshLibrary()

	case "a":
		next := m.settings
		next.AutoRefresh = !next.AutoRefresh
		m.statusText = "Auto-refresh " + onOff(next.AutoRefresh)
		return m, m.applySettings(next)

	case "i":
		next := m.settings
		next.Interval = config.NextInterval(next.Interval)
		m.statusText = "Refresh interval " + next.Interval.String()
		return m, m.applySettings(next)

	case "h":
		if m.mode == viewHealth {
			return m, nil
		}
		m.setMode(viewHealth)
		m.health.Open()
		m.statusText = "Checking backend health..."
		return m, m.refreshHealth()

	case "n":
		m.setMode(viewCreate)
		m.errorText = ""
		m.statusText = "New book: tab next field | ctrl+s submit | esc close"
		return m, m.form.focusField(0)

	case "x":
		if m.store == nil {
			m.errorText = "No data directory configured"
			return m, nil
		}
		if !m.library.Loaded() {
			m.errorText = "Library not loaded yet"
			return m, nil
		}
		m.statusText = "Exporting library..."
		return m, exportLibraryCmd(m.store, m.library.Books())

	case "esc":
		switch m.mode {
		case viewContent:
			m.setMode(viewMonitor)
		case viewMonitor:
			m.dropJob()
			m.setMode(viewWelcome)
		default:
			m.setMode(m.restingMode())
		}
		m.errorText = ""
		return m, nil
	}

	if m.job == nil || (m.mode != viewMonitor && m.mode != viewContent) {
		return m, nil
	}
	return m.updateJobKeys(msg)
}

func (m Model) updateJobKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "r":
		m.statusText = "Refreshing status..."
		return m, m.refreshStatus()

	case "ctrl+x":
		m.statusText = fmt.Sprintf("Cancelling job %s...", shortJobID(m.job.JobID()))
		return m, cancelJobCmd(m.job)

	case "v":
		m.statusText = "Loading content..."
		return m, fetchContentCmd(m.job)

	case "1", "2", "3":
		format := service.DownloadFormats[int(msg.String()[0]-'1')]
		m.statusText = fmt.Sprintf("Downloading %s...", format)
		return m, downloadCmd(m.job, format)

	case "s":
		if m.mode != viewContent {
			return m, nil
		}
		if m.store == nil {
			m.errorText = "No data directory configured"
			return m, nil
		}
		content := m.job.Content()
		if content == nil {
			m.errorText = "No content to save"
			return m, nil
		}
		return m, saveSnapshotCmd(m.store, m.job.JobID(), content)
	}
	return m, nil
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.shutdown()
		return m, tea.Quit
	case "esc":
		m.setMode(m.restingMode())
		m.statusText = "Create cancelled"
		return m, nil
	case "tab":
		return m, m.form.focusField(m.form.focus + 1)
	case "shift+tab":
		return m, m.form.focusField(m.form.focus - 1)
	case "ctrl+s":
		if m.creating {
			return m, nil
		}
		req, err := m.form.request()
		if err == nil {
			req = req.Normalized()
			err = service.ValidateCreateRequest(req)
		}
		if err != nil {
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				m.errorText = err.Error()
			} else {
				m.errorText = "Invalid request: " + err.Error()
			}
			return m, nil
		}
		m.creating = true
		m.errorText = ""
		m.statusText = fmt.Sprintf("Submitting %q...", req.Title)
		return m, createBookCmd(m.backend, req)
	}

	var cmd tea.Cmd
	m.form, cmd = m.form.update(msg)
	return m, cmd
}

func describeSettings(s monitor.Settings) string {
	interval := s.Interval
	if interval <= 0 {
		interval = monitor.DefaultInterval
	}
	return fmt.Sprintf("auto-refresh %s, every %s", onOff(s.AutoRefresh), interval)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
