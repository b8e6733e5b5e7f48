package app

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"bookwatch-tui/internal/monitor"
	"bookwatch-tui/internal/service"

	"github.com/charmbracelet/lipgloss"
)

var (
	chromeBG        = lipgloss.Color("#05090C")
	panelBorder     = lipgloss.Color("#2D6A80")
	accentPrimary   = lipgloss.Color("#50E3C2")
	accentSecondary = lipgloss.Color("#F6AE2D")
	mutedText       = lipgloss.Color("#8CA1AE")
	warningText     = lipgloss.Color("#FF6B6B")
)

var (
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(accentPrimary)

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(warningText).
			Bold(true)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(accentPrimary).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	selectedLineStyle = lipgloss.NewStyle().
				Foreground(accentPrimary).
				Bold(true)

	goodStyle = lipgloss.NewStyle().
			Foreground(accentPrimary)
)

const (
	activityPanelHeight = 6
	minDetailHeight     = 6
)

func (m Model) View() string {
	if !m.ready {
		return "Booting bookwatch-tui..."
	}

	innerWidth := maxInt(40, m.width-2)
	innerHeight := maxInt(12, m.height-2)

	header := headerStyle.Render("Bookwatch") + subHeaderStyle.Render(" "+m.backendURL)

	statusPrefix := "*"
	if m.busy() {
		statusPrefix = m.spinner.View()
	}
	statusBody := strings.TrimSpace(m.statusText)
	if statusBody == "" {
		statusBody = "Ready"
	}
	statusLine := statusStyle.Render(statusPrefix + " " + statusBody)
	if strings.TrimSpace(m.errorText) != "" {
		statusLine = errorStyle.Render(m.errorText)
	}

	topRow := lipgloss.JoinHorizontal(lipgloss.Top,
		renderPanel(
			"Library",
			m.renderLibrary(m.libraryH-1),
			m.libraryW,
			m.libraryH,
			m.mode == viewWelcome,
		),
		renderPanel(
			m.detailTitle(),
			m.renderDetail(),
			m.detailW,
			m.detailH,
			m.mode != viewWelcome,
		),
	)
	activity := renderPanel(
		"Activity",
		m.renderActivity(m.activityH-1),
		m.activityW,
		m.activityH,
		false,
	)

	parts := []string{header, statusLine, topRow, activity}
	if m.showHelp {
		parts = append(parts, helpStyle.Render(m.helpLine()))
	}

	body := strings.Join(parts, "\n")
	body = fitTextHeight(body, innerHeight)
	return lipgloss.NewStyle().
		Background(chromeBG).
		Foreground(lipgloss.Color("#E8F0F2")).
		Width(innerWidth).
		Height(innerHeight).
		Padding(0, 1).
		Render(body)
}

func (m Model) busy() bool {
	if m.creating {
		return true
	}
	if m.job != nil && m.job.Poller().State() == monitor.StateFetching {
		return true
	}
	return !m.library.Loaded() && m.library.Err() == nil
}

func (m Model) helpLine() string {
	switch m.mode {
	case viewCreate:
		return "tab/shift+tab field | ctrl+s submit | esc close | ctrl+c quit"
	case viewMonitor:
		return "r refresh | ctrl+x cancel job | v view | 1 txt 2 md 3 json download | a auto | i interval | esc back | q quit"
	case viewContent:
		return "up/down scroll | s save snapshot | 1/2/3 download | esc back | q quit"
	default:
		return "up/down select | enter monitor | R refresh | a auto | i interval | h health | n new | x export | q quit"
	}
}

func renderPanel(title, body string, width, height int, focused bool) string {
	borderColor := panelBorder
	if focused {
		borderColor = accentSecondary
	}
	style := panelStyle.
		BorderForeground(borderColor).
		Width(width).
		Height(height)

	titleLine := panelTitleStyle.Render(title)
	return style.Render(titleLine + "\n" + fitTextHeight(body, maxInt(0, height-1)))
}

func (m *Model) resizePanels() {
	if m.width <= 0 || m.height <= 0 {
		return
	}

	usableW := maxInt(40, m.width-6)
	innerH := maxInt(12, m.height-2)
	verticalOverhead := 2
	if m.showHelp {
		verticalOverhead = 3
	}

	activityActual := activityPanelHeight + 2
	topActual := innerH - verticalOverhead - activityActual
	if topActual < minDetailHeight+2 {
		activityActual = maxInt(3, innerH-verticalOverhead-(minDetailHeight+2))
		topActual = maxInt(minDetailHeight+2, innerH-verticalOverhead-activityActual)
	}

	libraryW := int(math.Round(float64(usableW) * 0.36))
	libraryW = clampInt(libraryW, 24, maxInt(24, usableW-30))
	detailW := usableW - libraryW

	m.libraryW = maxInt(20, libraryW-2)
	m.libraryH = maxInt(2, topActual-2)
	m.detailW = maxInt(26, detailW-2)
	m.detailH = m.libraryH
	m.activityW = maxInt(40, usableW)
	m.activityH = maxInt(1, activityActual-2)

	m.content.Width = maxInt(20, m.detailW-2)
	m.content.Height = maxInt(1, m.detailH-1)
	if m.job != nil && m.job.Content() != nil {
		m.content.SetContent(renderContent(m.job.Content(), m.content.Width))
	}
}

func (m Model) renderLibrary(height int) string {
	lines := []string{mutedTextStyle(fmt.Sprintf("auto %s | every %s", onOff(m.settings.AutoRefresh), intervalLabel(m.settings)))}
	books := m.library.Books()
	switch {
	case !m.library.Loaded() && m.library.Err() != nil:
		lines = append(lines, "Backend unreachable.", mutedTextStyle("Press R to retry."))
	case !m.library.Loaded():
		lines = append(lines, mutedTextStyle("Loading..."))
	case len(books) == 0:
		lines = append(lines, "No books yet.", mutedTextStyle("Press n to create one."))
	}
	if len(books) == 0 {
		return strings.Join(lines, "\n")
	}

	rows := maxInt(1, height-1)
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := minInt(len(books), start+rows)
	width := maxInt(10, m.libraryW-16)
	for i := start; i < end; i++ {
		book := books[i]
		title := strings.TrimSpace(book.Title)
		if title == "" {
			title = shortJobID(book.ID)
		}
		line := fmt.Sprintf("%s %-*s %6s", listBadgeGlyph(monitor.BookBadge(book)), width, truncateText(title, width), monitor.FormatProgress(book.ProgressPercentage))
		if m.job != nil && m.job.JobID() == book.ID {
			line = strings.TrimRight(line, " ") + " *"
		}
		if i == m.cursor {
			line = selectedLineStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func listBadgeGlyph(badge monitor.ListBadge) string {
	switch badge {
	case monitor.ListDone:
		return goodStyle.Render("✓")
	case monitor.ListRunning:
		return statusStyle.Render("▶")
	default:
		return mutedTextStyle("·")
	}
}

func (m Model) detailTitle() string {
	switch m.mode {
	case viewMonitor:
		return "Job Monitor"
	case viewHealth:
		return "Backend Health"
	case viewCreate:
		return "New Book"
	case viewContent:
		return "Book Content"
	default:
		return "Welcome"
	}
}

func (m Model) renderDetail() string {
	switch m.mode {
	case viewMonitor:
		if m.job == nil {
			return renderWelcome()
		}
		return renderMonitor(m.job.Summary(), m.job.Poller())
	case viewHealth:
		return renderHealth(m.health.Report(), m.health.Err(), m.health.Interval())
	case viewCreate:
		return m.form.view()
	case viewContent:
		return m.content.View()
	default:
		return renderWelcome()
	}
}

func renderWelcome() string {
	return strings.Join([]string{
		"Watch book generation jobs as they run.",
		"",
		"enter  monitor the selected job",
		"n      start a new book",
		"h      check backend health",
		"R      refresh the library",
		"a / i  toggle auto-refresh / change interval",
		"x      export the library to xlsx",
	}, "\n")
}

func renderMonitor(summary monitor.Summary, poller *monitor.StatusPoller) string {
	lines := []string{
		fmt.Sprintf("Job       %s", summary.JobID),
		fmt.Sprintf("State     %s", poller.State()),
		fmt.Sprintf("Progress  %s   Stages %s", summary.Progress, summary.Completed),
		fmt.Sprintf("Elapsed   %s   ETA %s", summary.Elapsed, summary.ETA),
		fmt.Sprintf("Current   %s", summary.Current),
		"",
	}
	if poller.Status() == nil {
		lines = append(lines, mutedTextStyle("Waiting for the first status..."))
	}
	for _, stage := range summary.Badges {
		lines = append(lines, stageBadgeGlyph(stage.Badge)+" "+stage.Label)
	}
	if len(summary.Errors) > 0 {
		lines = append(lines, "", errorStyle.Render("Recent errors"))
		for _, e := range summary.Errors {
			lines = append(lines, fmt.Sprintf("  %s: %s", monitor.StageLabel(e.Stage), e.Message))
		}
	}
	if err := poller.Err(); err != nil {
		lines = append(lines, "", errorStyle.Render("Last refresh failed: "+err.Error()))
	}
	return strings.Join(lines, "\n")
}

func stageBadgeGlyph(badge monitor.Badge) string {
	switch badge {
	case monitor.BadgeCompleted:
		return goodStyle.Render("✓")
	case monitor.BadgeFailed:
		return errorStyle.Render("✗")
	case monitor.BadgeCurrent:
		return statusStyle.Render("▶")
	default:
		return mutedTextStyle("·")
	}
}

func renderHealth(report *service.HealthReport, err error, interval time.Duration) string {
	if report == nil {
		if err != nil {
			return errorStyle.Render("Health check failed: " + err.Error())
		}
		return mutedTextStyle("Checking...")
	}

	lines := []string{
		"Overall   " + statusBadge(report.Status, service.ServiceOK(report.Status)),
		"Version   " + safeText(report.Version),
		"Checked   " + trimTime(report.Timestamp),
		"",
		fmt.Sprintf("Database  %s (%s, connected=%t)", statusBadge(report.Database.Status, service.ServiceOK(report.Database.Status)), safeText(report.Database.Type), report.Database.Connected),
	}

	if len(report.Services) > 0 {
		lines = append(lines, "", "Services")
		for _, name := range sortedKeys(report.Services) {
			status := report.Services[name]
			lines = append(lines, fmt.Sprintf("  %-20s %s", name, statusBadge(status, service.ServiceOK(status))))
		}
	}

	agents := report.Agents
	lines = append(lines, "", fmt.Sprintf("Agents    %d total, %d active, %d idle, %d workflows", agents.Total, agents.Active, agents.Idle, agents.ActiveWorkflows))
	for _, name := range sortedKeys(agents.Agents) {
		status := agents.Agents[name]
		lines = append(lines, fmt.Sprintf("  %-20s %s", name, statusBadge(status, service.AgentOK(status))))
	}
	if err != nil {
		lines = append(lines, "", errorStyle.Render("Last check failed: "+err.Error()))
	}
	lines = append(lines, "", mutedTextStyle(fmt.Sprintf("refreshing every %s | esc close", interval)))
	return strings.Join(lines, "\n")
}

func statusBadge(status service.Status, ok bool) string {
	if ok {
		return goodStyle.Render(string(status))
	}
	if status == service.StatusUnknown {
		return mutedTextStyle(string(status))
	}
	return errorStyle.Render(string(status))
}

func sortedKeys(m service.StatusMap) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func renderContent(content *service.BookContent, width int) string {
	if content == nil {
		return "No content loaded."
	}
	title := strings.TrimSpace(content.Project.Title)
	if title == "" {
		title = "Untitled"
	}
	lines := []string{
		panelTitleStyle.Render(title),
		mutedTextStyle(fmt.Sprintf("%d chapter(s), %d words", len(content.Chapters), content.TotalWords())),
	}
	if len(content.Chapters) == 0 {
		lines = append(lines, "", "No chapters yet.")
	}
	for _, chapter := range content.Chapters {
		lines = append(lines, "", statusStyle.Render(fmt.Sprintf("Chapter %d: %s", chapter.Number, chapter.Title)))
		lines = append(lines, mutedTextStyle(fmt.Sprintf("%d words | %s", chapter.WordCount, safeText(chapter.Status))))
		lines = append(lines, lipgloss.NewStyle().Width(maxInt(20, width)).Render(chapter.Display))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderActivity(height int) string {
	if m.activity == nil {
		return mutedTextStyle("Activity log disabled.")
	}
	lines := m.activity.Lines()
	if len(lines) == 0 {
		return mutedTextStyle("No activity yet.")
	}
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	width := maxInt(10, m.activityW-2)
	for i, line := range lines {
		lines[i] = truncateText(line, width)
	}
	return strings.Join(lines, "\n")
}

func intervalLabel(s monitor.Settings) string {
	if s.Interval <= 0 {
		return monitor.DefaultInterval.String()
	}
	return s.Interval.String()
}

func mutedTextStyle(text string) string {
	return lipgloss.NewStyle().Foreground(mutedText).Render(text)
}

func fitTextHeight(text string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func truncateText(raw string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	runes := []rune(raw)
	if len(runes) <= maxLen {
		return raw
	}
	return string(runes[:maxLen-3]) + "..."
}

func shortJobID(jobID string) string {
	id := strings.TrimSpace(jobID)
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func trimTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "N/A"
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err == nil {
		return parsed.Local().Format("2006-01-02 15:04:05")
	}
	return raw
}

func safeText(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "unknown"
	}
	return raw
}

func filepathBase(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	parts := strings.Split(strings.ReplaceAll(path, "\\", "/"), "/")
	return parts[len(parts)-1]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
