package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const activityLimit = 600

// ActivityHook keeps the most recent formatted log lines in memory so the TUI
// can show them while the log file stays the full record.
type ActivityHook struct {
	mu     sync.Mutex
	lines  []string
	limit  int
	levels []logrus.Level
}

// NewActivityHook records entries at minLevel and above.
func NewActivityHook(minLevel logrus.Level) *ActivityHook {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}
	return &ActivityHook{limit: activityLimit, levels: levels}
}

func (h *ActivityHook) Levels() []logrus.Level {
	return h.levels
}

func (h *ActivityHook) Fire(entry *logrus.Entry) error {
	h.appendLog(formatEntry(entry))
	return nil
}

func (h *ActivityHook) appendLog(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
	if len(h.lines) > h.limit {
		h.lines = h.lines[len(h.lines)-h.limit:]
	}
}

func (h *ActivityHook) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func (h *ActivityHook) Logs() string {
	return strings.Join(h.Lines(), "\n")
}

func formatEntry(entry *logrus.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", entry.Time.Format("15:04:05"), strings.ToUpper(entry.Level.String()), entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key == "req_id" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, entry.Data[key])
	}
	return b.String()
}
