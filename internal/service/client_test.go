package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL + "/")
}

func TestGetStatusDecodesSnapshot(t *testing.T) {
	t.Parallel()

	var requestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/books/job-1/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		requestID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{
			"progress_percentage": 37.5,
			"current_stage": "fact_checking",
			"completed_stages": ["category_selection", "research_planning"],
			"failed_stages": [],
			"started_at": "2024-05-01T10:00:00",
			"estimated_completion": null,
			"errors": [{"stage": "illustration", "error": "boom"}],
			"extra": true
		}`))
	})

	status, err := client.GetStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.ID != "job-1" {
		t.Fatalf("expected id filled from request, got %q", status.ID)
	}
	if status.ProgressPercentage != 37.5 || status.CurrentStage != "fact_checking" {
		t.Fatalf("unexpected snapshot: %+v", status)
	}
	if len(status.Errors) != 1 || status.Errors[0].Message != "boom" {
		t.Fatalf("unexpected errors: %+v", status.Errors)
	}
	started, ok := status.StartedTime()
	if !ok || !started.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected started time: %v %v", started, ok)
	}
	if requestID == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestGetStatusRejectsSchemaViolation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"progress_percentage": "half", "completed_stages": "all"}`))
	})

	if _, err := client.GetStatus(context.Background(), "job-1"); err == nil {
		t.Fatalf("expected schema violation to be reported")
	}
}

func TestGetStatusNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "Project not found"}`))
	})

	_, err := client.GetStatus(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Project not found") {
		t.Fatalf("expected detail in error text, got %v", err)
	}
}

func TestGetStatusRequiresID(t *testing.T) {
	t.Parallel()

	client := NewClient("http://127.0.0.1:1")
	if _, err := client.GetStatus(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty id to fail")
	}
}

func TestListBooksEmptyCollection(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"books": null}`))
	})

	books, err := client.ListBooks(context.Background())
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if books == nil || len(books) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", books)
	}
}

func TestCreateBookValidationSendsNoRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	cases := []struct {
		name   string
		mutate func(*CreateBookRequest)
		field  string
	}{
		{name: "too few chapters", mutate: func(r *CreateBookRequest) { r.ChapterCount = 2 }, field: "chapter_count"},
		{name: "length off step", mutate: func(r *CreateBookRequest) { r.TargetLength = 5500 }, field: "target_length"},
		{name: "empty title", mutate: func(r *CreateBookRequest) { r.Title = "   " }, field: "title"},
		{name: "unknown format", mutate: func(r *CreateBookRequest) { r.OutputFormats = []string{"pdf"} }, field: "output_formats[0]"},
		{name: "unknown category", mutate: func(r *CreateBookRequest) { r.Category = "poetry" }, field: "category"},
	}
	for _, tc := range cases {
		req := NewCreateBookRequest("Go Patterns", "developers")
		tc.mutate(&req)
		_, err := client.CreateBook(context.Background(), req)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if _, ok := validationErr.Fields[tc.field]; !ok {
			t.Fatalf("%s: expected field %q in %v", tc.name, tc.field, validationErr.Fields)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no requests, got %d", calls.Load())
	}
}

func TestCreateBookSubmitsPayload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/books/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var got CreateBookRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if got.Title != "Go Patterns" || got.ChapterCount != 8 || got.TargetLength != 15000 {
			t.Errorf("unexpected payload: %+v", got)
		}
		_, _ = w.Write([]byte(`{"project_id": "abc123"}`))
	})

	id, err := client.CreateBook(context.Background(), NewCreateBookRequest(" Go Patterns ", "developers"))
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if id != "abc123" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestCreateBookRequiresProjectID(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"project_id": ""}`))
	})

	if _, err := client.CreateBook(context.Background(), NewCreateBookRequest("T", "A")); err == nil {
		t.Fatalf("expected missing project id to fail")
	}
}

func TestCancelBookUsesDelete(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/books/job-9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.CancelBook(context.Background(), "job-9"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestCancelBookSurfacesErrorBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": "already finished"}`))
	})

	err := client.CancelBook(context.Background(), "job-9")
	if err == nil || !strings.Contains(err.Error(), "already finished") {
		t.Fatalf("expected error body in message, got %v", err)
	}
}

func TestViewBookOrdersChaptersAndKeepsRawText(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"project": {"title": "Book", "category": "technology"},
			"chapters": [
				{"chapter_number": 2, "title": "Two", "content": "", "raw_output": "raw two", "word_count": 20},
				{"chapter_number": 1, "title": "One", "content": "{\"content\": \"one\"}", "word_count": 10}
			]
		}`))
	})

	content, err := client.ViewBook(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(content.Chapters) != 2 || content.Chapters[0].Number != 1 {
		t.Fatalf("expected chapters ordered by number, got %+v", content.Chapters)
	}
	if content.Chapters[0].RawOutput != `{"content": "one"}` {
		t.Fatalf("expected raw content untouched, got %q", content.Chapters[0].RawOutput)
	}
	if content.Chapters[1].RawOutput != "raw two" {
		t.Fatalf("expected raw_output fallback, got %q", content.Chapters[1].RawOutput)
	}
	if content.Chapters[0].Display != "" {
		t.Fatalf("expected display left for the monitor")
	}
	if content.TotalWords() != 30 {
		t.Fatalf("unexpected word total %d", content.TotalWords())
	}
}

func TestDownloadRejectsUnsupportedFormatWithoutRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	var buf bytes.Buffer
	_, err := client.Download(context.Background(), "job-1", "pdf", &buf)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no request")
	}
}

func TestDownloadStreamsBodyAndIgnoresErrorBodies(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/books/ok/download/md":
			_, _ = w.Write([]byte("# Title\n"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail": "render failed"}`))
		}
	})

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), "ok", "MD", &buf)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != int64(len("# Title\n")) || buf.String() != "# Title\n" {
		t.Fatalf("unexpected body %q (%d bytes)", buf.String(), n)
	}

	buf.Reset()
	if _, err := client.Download(context.Background(), "bad", "txt", &buf); err == nil {
		t.Fatalf("expected failure for non-2xx")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected error body never written, got %q", buf.String())
	}
}

func TestRequestTimeoutIsOptIn(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client.requestTimeout = 20 * time.Millisecond
	if _, err := client.ListBooks(context.Background()); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHealthDecodesTaggedStatuses(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": "healthy",
			"database": {"status": "Healthy", "type": "sqlite", "connected": true},
			"services": {"llm": {"status": "unhealthy"}, "search": "degraded", "cache": null},
			"agents": {
				"total_agents": 3, "active_agents": 1, "idle_agents": 2, "active_workflows": 1,
				"agents": {"writer": {"status": "idle"}, "editor": {"status": "healthy"}, "critic": {"status": 7}}
			},
			"version": "1.2.0"
		}`))
	})

	report, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !report.Healthy() || report.Database.Status != StatusHealthy {
		t.Fatalf("unexpected top-level status: %+v", report)
	}
	if report.Services["llm"] != StatusUnhealthy || report.Services["search"] != StatusUnknown || report.Services["cache"] != StatusUnknown {
		t.Fatalf("unexpected services: %+v", report.Services)
	}
	if !AgentOK(report.Agents.Agents["writer"]) || !AgentOK(report.Agents.Agents["editor"]) {
		t.Fatalf("expected idle and healthy agents to be OK: %+v", report.Agents.Agents)
	}
	if report.Agents.Agents["critic"] != StatusUnknown {
		t.Fatalf("expected malformed agent status to be unknown")
	}
	if ServiceOK(StatusIdle) {
		t.Fatalf("idle services do not count as OK")
	}
}

func TestActivityHookKeepsRecentLines(t *testing.T) {
	t.Parallel()

	hook := NewActivityHook(logrus.InfoLevel)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	logger.AddHook(hook)

	logger.Debug("hidden")
	for i := 0; i < activityLimit+5; i++ {
		logger.WithField("n", i).Info("tick")
	}

	lines := hook.Lines()
	if len(lines) != activityLimit {
		t.Fatalf("expected %d lines, got %d", activityLimit, len(lines))
	}
	if !strings.Contains(lines[0], "n=5") {
		t.Fatalf("expected oldest lines dropped, got %q", lines[0])
	}
	if strings.Contains(hook.Logs(), "hidden") {
		t.Fatalf("expected debug entries filtered")
	}
}
