package service

import (
	"sort"
	"strings"
	"time"
)

type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"error"`
}

// JobStatus is one complete snapshot of a job as reported by the backend.
// Snapshots replace each other wholesale; they are never merged.
type JobStatus struct {
	ID                  string       `json:"id,omitempty"`
	ProgressPercentage  float64      `json:"progress_percentage"`
	CurrentStage        string       `json:"current_stage"`
	CompletedStages     []string     `json:"completed_stages"`
	FailedStages        []string     `json:"failed_stages"`
	StartedAt           string       `json:"started_at"`
	EstimatedCompletion any          `json:"estimated_completion,omitempty"`
	Errors              []StageError `json:"errors"`
}

var startedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// StartedTime parses StartedAt. Timestamps without a zone are read as UTC.
func (s *JobStatus) StartedTime() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(s.StartedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range startedAtLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func (s *JobStatus) Complete() bool {
	return s != nil && s.ProgressPercentage >= 100
}

type BookSummary struct {
	ID                 string  `json:"id"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

type ProjectInfo struct {
	Title          string `json:"title"`
	Category       string `json:"category"`
	TargetAudience string `json:"target_audience"`
	WritingStyle   string `json:"writing_style"`
}

// ChapterContent keeps the backend text untouched in RawOutput. Display is
// filled in by the monitor from a normalized copy.
type ChapterContent struct {
	Number    int    `json:"chapter_number"`
	Title     string `json:"title"`
	RawOutput string `json:"raw_output"`
	Display   string `json:"display"`
	Status    string `json:"status"`
	WordCount int    `json:"word_count"`
}

type BookContent struct {
	Project  ProjectInfo      `json:"project"`
	Chapters []ChapterContent `json:"chapters"`
}

func (b *BookContent) TotalWords() int {
	if b == nil {
		return 0
	}
	total := 0
	for _, chapter := range b.Chapters {
		total += chapter.WordCount
	}
	return total
}

type chapterPayload struct {
	ChapterNumber int     `json:"chapter_number"`
	Title         string  `json:"title"`
	Content       *string `json:"content"`
	RawOutput     *string `json:"raw_output"`
	WordCount     float64 `json:"word_count"`
	Status        string  `json:"status"`
}

type viewPayload struct {
	Project  ProjectInfo      `json:"project"`
	Chapters []chapterPayload `json:"chapters"`
}

func (p viewPayload) toContent() *BookContent {
	chapters := make([]ChapterContent, 0, len(p.Chapters))
	for _, ch := range p.Chapters {
		raw := ""
		if ch.Content != nil && *ch.Content != "" {
			raw = *ch.Content
		} else if ch.RawOutput != nil {
			raw = *ch.RawOutput
		}
		chapters = append(chapters, ChapterContent{
			Number:    ch.ChapterNumber,
			Title:     ch.Title,
			RawOutput: raw,
			Status:    ch.Status,
			WordCount: int(ch.WordCount),
		})
	}
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].Number < chapters[j].Number
	})
	return &BookContent{Project: p.Project, Chapters: chapters}
}

type booksListResponse struct {
	Books []BookSummary `json:"books"`
}

type createBookResponse struct {
	ProjectID string `json:"project_id"`
}

type apiError struct {
	Error  string `json:"error"`
	Detail any    `json:"detail"`
}
