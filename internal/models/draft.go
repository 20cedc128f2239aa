package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrPastDueDate     = errors.New("due date cannot be in the past")
	ErrEmptyTitle      = errors.New("title is required")
	ErrChecklistBounds = errors.New("checklist item index out of range")
)

// TaskDraft is the unsaved task collected from user input.
type TaskDraft struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Tags          []string        `json:"tags"`
	DueDate       *time.Time      `json:"dueDate"`
	Checklist     []ChecklistItem `json:"checklist"`
	Priority      string          `json:"priority"`
	EstimatedTime string          `json:"estimatedTime"`
}

func NewTaskDraft() TaskDraft {
	return TaskDraft{
		Tags:      []string{},
		Checklist: []ChecklistItem{},
	}
}

// ParseTags splits a comma-separated tag input. Entries are kept as typed:
// no trimming, no dedup, and an empty input yields a single empty tag.
func ParseTags(input string) []string {
	return strings.Split(input, ",")
}

func (d *TaskDraft) SetTags(input string) {
	d.Tags = ParseTags(input)
}

func (d *TaskDraft) AddChecklistItem(text string) {
	d.Checklist = append(d.Checklist, ChecklistItem{Text: text})
}

func (d *TaskDraft) SetChecklistText(index int, text string) error {
	if index < 0 || index >= len(d.Checklist) {
		return ErrChecklistBounds
	}
	d.Checklist[index].Text = text
	return nil
}

func (d *TaskDraft) ToggleChecklistItem(index int) error {
	if index < 0 || index >= len(d.Checklist) {
		return ErrChecklistBounds
	}
	d.Checklist[index].Checked = !d.Checklist[index].Checked
	return nil
}

// Validate checks the draft against the creation rules as of now.
// Titles are only enforced when requireTitle is set.
func (d TaskDraft) Validate(now time.Time, requireTitle bool) error {
	if requireTitle && strings.TrimSpace(d.Title) == "" {
		return ErrEmptyTitle
	}
	return ValidateDueDate(d.DueDate, now)
}
