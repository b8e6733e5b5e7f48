// Package monitor keeps the client-side view of remote jobs live: per-job
// status polling, the job list and backend health, plus the facts derived
// from a status snapshot for display.
package monitor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"bookwatch-tui/internal/service"
)

type Stage struct {
	ID    string
	Label string
}

// Stages is the fixed workflow order every job walks through.
var Stages = []Stage{
	{ID: "category_selection", Label: "Category Selection"},
	{ID: "research_planning", Label: "Research Planning"},
	{ID: "knowledge_acquisition", Label: "Knowledge Acquisition"},
	{ID: "fact_checking", Label: "Fact Checking"},
	{ID: "content_generation", Label: "Content Generation"},
	{ID: "illustration", Label: "Illustration"},
	{ID: "editing_qa", Label: "Editing & QA"},
	{ID: "publication", Label: "Publication"},
}

type Badge string

const (
	BadgeCompleted Badge = "completed"
	BadgeFailed    Badge = "failed"
	BadgeCurrent   Badge = "current"
	BadgePending   Badge = "pending"
)

type StageBadge struct {
	Stage
	Badge Badge
}

// Classify applies completed > failed > current > pending.
func Classify(stageID string, status *service.JobStatus) Badge {
	if status == nil {
		return BadgePending
	}
	if contains(status.CompletedStages, stageID) {
		return BadgeCompleted
	}
	if contains(status.FailedStages, stageID) {
		return BadgeFailed
	}
	if status.CurrentStage == stageID {
		return BadgeCurrent
	}
	return BadgePending
}

func Badges(status *service.JobStatus) []StageBadge {
	out := make([]StageBadge, 0, len(Stages))
	for _, stage := range Stages {
		out = append(out, StageBadge{Stage: stage, Badge: Classify(stage.ID, status)})
	}
	return out
}

// CompletedCount counts the fixed stages classified completed.
func CompletedCount(status *service.JobStatus) int {
	count := 0
	for _, stage := range Stages {
		if Classify(stage.ID, status) == BadgeCompleted {
			count++
		}
	}
	return count
}

func StageLabel(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "Unknown"
	}
	for _, stage := range Stages {
		if stage.ID == id {
			return stage.Label
		}
	}
	words := strings.Fields(strings.ReplaceAll(id, "_", " "))
	for i, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(first)) + word[size:]
	}
	return strings.Join(words, " ")
}

type ListBadge string

const (
	ListDone    ListBadge = "done"
	ListRunning ListBadge = "running"
	ListQueued  ListBadge = "queued"
)

func BookBadge(book service.BookSummary) ListBadge {
	switch {
	case book.ProgressPercentage >= 100:
		return ListDone
	case book.Status == "in_progress":
		return ListRunning
	default:
		return ListQueued
	}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
