package storage

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"bookwatch-tui/internal/service"
)

const LibrarySheet = "Books"

var libraryHeaders = []string{"Job ID", "Title", "Status", "Progress (%)", "Exported At"}

// ExportLibrary writes one row per job to an xlsx workbook. An empty path
// picks a timestamped name in the exports directory.
func (s *Store) ExportLibrary(path string, books []service.BookSummary) (string, error) {
	now := s.clock.Now().UTC()
	if strings.TrimSpace(path) == "" {
		path = filepath.Join(s.exportsDir, fmt.Sprintf("library-%s.xlsx", now.Format("20060102-150405")))
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName("Sheet1", LibrarySheet); err != nil {
		return "", fmt.Errorf("name sheet: %w", err)
	}
	if index, err := f.GetSheetIndex(LibrarySheet); err == nil && index >= 0 {
		f.SetActiveSheet(index)
	}

	for i, header := range libraryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(LibrarySheet, cell, header)
	}

	exportedAt := now.Format("2006-01-02 15:04:05")
	for i, book := range books {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(LibrarySheet, cell, v)
		}
		write(1, book.ID)
		write(2, book.Title)
		write(3, book.Status)
		write(4, book.ProgressPercentage)
		write(5, exportedAt)
	}

	_ = f.SetColWidth(LibrarySheet, "A", "A", 38)
	_ = f.SetColWidth(LibrarySheet, "B", "B", 48)
	_ = f.SetColWidth(LibrarySheet, "C", "C", 14)
	_ = f.SetColWidth(LibrarySheet, "D", "D", 14)
	_ = f.SetColWidth(LibrarySheet, "E", "E", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("xlsx write: %w", err)
	}
	if _, err := writeFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := buf.WriteTo(w)
		return err
	}); err != nil {
		return "", err
	}

	s.log.WithFields(logrus.Fields{
		"rows": len(books),
		"path": path,
	}).Info("storage.export.saved")
	return path, nil
}
