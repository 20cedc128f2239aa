package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusOnProgress Status = "onProgress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOnProgress, StatusCompleted:
		return true
	}
	return false
}

type ChecklistItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

type Task struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"userId"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Tags          []string        `json:"tags"`
	DueDate       *time.Time      `json:"dueDate"`
	Checklist     []ChecklistItem `json:"checklist"`
	Priority      string          `json:"priority"`
	EstimatedTime string          `json:"estimatedTime"`
	Status        Status          `json:"status"`
	Completed     bool            `json:"completed"`
	TimeLeft      string          `json:"timeLeft"`
	Progress      float64         `json:"progress"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Complete moves the task to the completed column. Completing an already
// completed task leaves it unchanged.
func (t *Task) Complete() {
	t.Status = StatusCompleted
	t.Completed = true
}

func (t Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	c := t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Checklist != nil {
		c.Checklist = append([]ChecklistItem(nil), t.Checklist...)
	}
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return c
}

func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
