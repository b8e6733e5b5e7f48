package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xuri/excelize/v2"

	"bookwatch-tui/internal/service"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	store, err := NewStore(t.TempDir(), WithClock(clock))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, clock
}

func sampleContent() *service.BookContent {
	return &service.BookContent{
		Project: service.ProjectInfo{Title: "Go in Practice", Category: "technology"},
		Chapters: []service.ChapterContent{
			{Number: 1, Title: "Intro", RawOutput: `{"content": "Hello"}`, Display: "Hello", WordCount: 120},
			{Number: 2, Title: "More", RawOutput: "Body", Display: "Body", WordCount: 80},
		},
	}
}

func TestSaveDownloadNamesFileByShortID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	path, err := store.SaveDownload("0123456789abcdef", "md", func(w io.Writer) error {
		_, err := io.WriteString(w, "# Book\n")
		return err
	})
	if err != nil {
		t.Fatalf("save download: %v", err)
	}
	if filepath.Base(path) != "book_01234567.md" {
		t.Fatalf("unexpected file name %q", filepath.Base(path))
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(blob) != "# Book\n" {
		t.Fatalf("unexpected contents %q", blob)
	}
}

func TestSaveDownloadFailureLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.SaveDownload("job-1", "txt", func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("connection reset")
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	entries, err := os.ReadDir(store.DownloadsDir())
	if err != nil {
		t.Fatalf("read downloads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files after failed download, found %d", len(entries))
	}

	if _, err := store.SaveDownload("job-1", "pdf", func(io.Writer) error { return nil }); !errors.Is(err, service.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSnapshotsListNewestFirst(t *testing.T) {
	t.Parallel()

	store, clock := newTestStore(t)
	first, err := store.SaveContent("aaaaaaaa-1111", sampleContent())
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := store.SaveContent("aaaaaaaa-1111", sampleContent())
	if err != nil {
		t.Fatalf("save second in the same second: %v", err)
	}
	if first.Directory == second.Directory {
		t.Fatalf("expected distinct directories")
	}
	clock.Advance(time.Minute)
	third, err := store.SaveContent("bbbbbbbb-2222", sampleContent())
	if err != nil {
		t.Fatalf("save third: %v", err)
	}

	summaries, err := store.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 3 || summaries[0].Directory != third.Directory {
		t.Fatalf("expected newest first, got %+v", summaries)
	}
	if summaries[0].Words != 200 || summaries[0].Chapters != 2 || summaries[0].Title != "Go in Practice" {
		t.Fatalf("unexpected summary %+v", summaries[0])
	}

	limited, err := store.List(1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit honoured, got %d", len(limited))
	}
}

func TestLoadBundleKeepsRawAndDisplay(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	summary, err := store.SaveContent("job-1", sampleContent())
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	bundle, err := store.LoadBundle(filepath.Base(summary.Directory))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chapter := bundle.Content.Chapters[0]
	if chapter.RawOutput != `{"content": "Hello"}` || chapter.Display != "Hello" {
		t.Fatalf("unexpected chapter %+v", chapter)
	}

	if err := os.Remove(filepath.Join(summary.Directory, "bundle.json")); err != nil {
		t.Fatalf("remove bundle: %v", err)
	}
	bundle, err = store.LoadBundle(summary.Directory)
	if err != nil {
		t.Fatalf("load from parts: %v", err)
	}
	if bundle.Summary.JobID != "job-1" || len(bundle.Content.Chapters) != 2 {
		t.Fatalf("unexpected bundle %+v", bundle.Summary)
	}

	if _, err := store.LoadBundle(" "); err == nil {
		t.Fatalf("expected empty directory rejected")
	}
}

func TestExportLibraryWritesOneRowPerJob(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	books := []service.BookSummary{
		{ID: "job-1", Title: "First", Status: "completed", ProgressPercentage: 100},
		{ID: "job-2", Title: "Second", Status: "in_progress", ProgressPercentage: 42.5},
	}
	path, err := store.ExportLibrary("", books)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(path, store.ExportsDir()) || filepath.Ext(path) != ".xlsx" {
		t.Fatalf("unexpected export path %q", path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(LibrarySheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
	if rows[0][0] != "Job ID" || rows[2][1] != "Second" || rows[2][2] != "in_progress" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if got, _ := f.GetCellValue(LibrarySheet, "D3"); got != "42.5" {
		t.Fatalf("unexpected progress cell %q", got)
	}
}
