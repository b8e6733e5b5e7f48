package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"bookwatch-tui/internal/service"
)

// Store keeps everything the client writes locally: downloaded books, content
// snapshots and library exports.
type Store struct {
	rootDir      string
	snapshotsDir string
	downloadsDir string
	exportsDir   string
	clock        clockwork.Clock
	log          logrus.FieldLogger
}

type ContentSummary struct {
	JobID     string `json:"job_id"`
	SavedAt   string `json:"saved_at"`
	Title     string `json:"title"`
	Chapters  int    `json:"chapters"`
	Words     int    `json:"words"`
	Directory string `json:"directory"`
}

type ContentBundle struct {
	Summary ContentSummary       `json:"summary"`
	Content *service.BookContent `json:"content"`
}

type Option func(*Store)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStore(rootDir string, opts ...Option) (*Store, error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Store{
		rootDir:      rootDir,
		snapshotsDir: filepath.Join(rootDir, "snapshots"),
		downloadsDir: filepath.Join(rootDir, "downloads"),
		exportsDir:   filepath.Join(rootDir, "exports"),
		clock:        clockwork.NewRealClock(),
		log:          discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{s.snapshotsDir, s.downloadsDir, s.exportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) RootDir() string {
	return s.rootDir
}

func (s *Store) SnapshotsDir() string {
	return s.snapshotsDir
}

func (s *Store) DownloadsDir() string {
	return s.downloadsDir
}

func (s *Store) ExportsDir() string {
	return s.exportsDir
}

// DownloadName is book_<first 8 chars of id>.<format>.
func DownloadName(jobID, format string) string {
	return fmt.Sprintf("book_%s.%s", shortID(jobID), format)
}

// SaveDownload runs write against a temp file and renames it into place only
// when write succeeds, so a failed download never leaves a partial book.
func (s *Store) SaveDownload(jobID, format string, write func(io.Writer) error) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !service.SupportedFormat(format) {
		return "", fmt.Errorf("%w: %q", service.ErrUnsupportedFormat, format)
	}
	path := filepath.Join(s.downloadsDir, DownloadName(jobID, format))
	size, err := writeFileAtomic(path, 0o644, write)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"job_id": jobID,
		"format": format,
		"bytes":  size,
		"path":   path,
	}).Info("storage.download.saved")
	return path, nil
}

// SaveContent writes a snapshot of viewed content. Raw and display text are
// both kept.
func (s *Store) SaveContent(jobID string, content *service.BookContent) (ContentSummary, error) {
	if content == nil {
		return ContentSummary{}, fmt.Errorf("content is required")
	}
	if strings.TrimSpace(jobID) == "" {
		jobID = "unknown"
	}

	now := s.clock.Now().UTC()
	dirPath, err := s.newSnapshotDir(now, jobID)
	if err != nil {
		return ContentSummary{}, err
	}

	summary := ContentSummary{
		JobID:     jobID,
		SavedAt:   now.Format(time.RFC3339Nano),
		Title:     content.Project.Title,
		Chapters:  len(content.Chapters),
		Words:     content.TotalWords(),
		Directory: dirPath,
	}
	if err := writeJSON(filepath.Join(dirPath, "summary.json"), summary); err != nil {
		return ContentSummary{}, err
	}
	if err := writeJSON(filepath.Join(dirPath, "content.json"), content); err != nil {
		return ContentSummary{}, err
	}
	bundle := ContentBundle{Summary: summary, Content: content}
	if err := writeJSON(filepath.Join(dirPath, "bundle.json"), bundle); err != nil {
		return ContentSummary{}, err
	}
	s.log.WithFields(logrus.Fields{
		"job_id":   jobID,
		"chapters": summary.Chapters,
		"path":     dirPath,
	}).Info("storage.snapshot.saved")
	return summary, nil
}

func (s *Store) newSnapshotDir(now time.Time, jobID string) (string, error) {
	base := fmt.Sprintf("%s-%s", now.Format("20060102-150405"), shortID(jobID))
	name := base
	for i := 2; ; i++ {
		dirPath := filepath.Join(s.snapshotsDir, name)
		err := os.Mkdir(dirPath, 0o755)
		if err == nil {
			return dirPath, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create snapshot dir: %w", err)
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// List returns snapshot summaries, newest first.
func (s *Store) List(limit int) ([]ContentSummary, error) {
	entries, err := os.ReadDir(s.snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("read snapshots dir: %w", err)
	}

	summaries := make([]ContentSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var summary ContentSummary
		if err := readJSON(filepath.Join(s.snapshotsDir, entry.Name(), "summary.json"), &summary); err != nil {
			continue
		}
		if summary.Directory == "" {
			summary.Directory = filepath.Join(s.snapshotsDir, entry.Name())
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return savedAt(summaries[i]).After(savedAt(summaries[j]))
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *Store) LoadBundle(directory string) (*ContentBundle, error) {
	dir := strings.TrimSpace(directory)
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.snapshotsDir, dir)
	}

	var bundle ContentBundle
	if err := readJSON(filepath.Join(dir, "bundle.json"), &bundle); err == nil && bundle.Content != nil {
		if bundle.Summary.Directory == "" {
			bundle.Summary.Directory = dir
		}
		return &bundle, nil
	}

	var summary ContentSummary
	if err := readJSON(filepath.Join(dir, "summary.json"), &summary); err != nil {
		return nil, err
	}
	var content service.BookContent
	if err := readJSON(filepath.Join(dir, "content.json"), &content); err != nil {
		return nil, err
	}
	summary.Directory = dir
	return &ContentBundle{Summary: summary, Content: &content}, nil
}

func savedAt(summary ContentSummary) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, summary.SavedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(path string, value any) error {
	blob, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json for %s: %w", path, err)
	}
	_, err = writeFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(blob)
		return err
	})
	return err
}

func readJSON(path string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeFileAtomic fills a temp file next to path and renames it over path.
func writeFileAtomic(path string, perm os.FileMode, write func(io.Writer) error) (int64, error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	counter := &countingWriter{w: f}
	if err := write(counter); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("rename into %s: %w", path, err)
	}
	return counter.n, nil
}
