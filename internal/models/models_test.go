package models_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"taskboard/backend/internal/models"

	"github.com/gofrs/uuid"
)

var fixedNow = time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time {
	return &t
}

func TestTask_Complete(t *testing.T) {
	task := models.Task{
		ID:     uuid.Must(uuid.NewV4()),
		UserID: uuid.Must(uuid.NewV4()),
		Title:  "Test Task",
		Status: models.StatusPending,
	}

	task.Complete()
	if task.Status != models.StatusCompleted || !task.Completed {
		t.Fatalf("Expected completed task, got status=%s completed=%v", task.Status, task.Completed)
	}

	task.Complete()
	if task.Status != models.StatusCompleted || !task.Completed {
		t.Errorf("Expected second completion to keep task completed, got status=%s completed=%v", task.Status, task.Completed)
	}
}

func TestTask_CloneDoesNotShare(t *testing.T) {
	task := models.Task{
		Tags:      []string{"a"},
		Checklist: []models.ChecklistItem{{Text: "x"}},
		DueDate:   at(fixedNow),
	}

	c := task.Clone()
	c.Tags[0] = "b"
	c.Checklist[0].Checked = true
	*c.DueDate = fixedNow.Add(time.Hour)

	if task.Tags[0] != "a" || task.Checklist[0].Checked || !task.DueDate.Equal(fixedNow) {
		t.Errorf("Clone shares state with the original: %+v", task)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []models.Status{models.StatusPending, models.StatusOnProgress, models.StatusCompleted} {
		if !s.Valid() {
			t.Errorf("Expected %q to be valid", s)
		}
	}
	for _, s := range []models.Status{"", "in_progress", "cancelled"} {
		if s.Valid() {
			t.Errorf("Expected %q to be invalid", s)
		}
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"work", []string{"work"}},
		{"work,home", []string{"work", "home"}},
		{"a,,a", []string{"a", "", "a"}},
		{" a , b", []string{" a ", " b"}},
		{"", []string{""}},
	}

	for _, tt := range tests {
		got := models.ParseTags(tt.input)
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("ParseTags(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestTaskDraft_Checklist(t *testing.T) {
	draft := models.NewTaskDraft()
	draft.AddChecklistItem("")
	draft.AddChecklistItem("second")

	if len(draft.Checklist) != 2 {
		t.Fatalf("Expected 2 checklist items, got %d", len(draft.Checklist))
	}
	if draft.Checklist[0] != (models.ChecklistItem{Text: "", Checked: false}) {
		t.Errorf("Expected empty unchecked first item, got %+v", draft.Checklist[0])
	}

	if err := draft.SetChecklistText(0, "first"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := draft.ToggleChecklistItem(1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []models.ChecklistItem{{Text: "first"}, {Text: "second", Checked: true}}
	if !reflect.DeepEqual(draft.Checklist, expected) {
		t.Errorf("Expected checklist %+v, got %+v", expected, draft.Checklist)
	}

	if err := draft.SetChecklistText(2, "nope"); !errors.Is(err, models.ErrChecklistBounds) {
		t.Errorf("Expected ErrChecklistBounds, got %v", err)
	}
	if err := draft.ToggleChecklistItem(-1); !errors.Is(err, models.ErrChecklistBounds) {
		t.Errorf("Expected ErrChecklistBounds, got %v", err)
	}
}

func TestValidateDueDate(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)

	tests := []struct {
		name    string
		due     *time.Time
		wantErr bool
	}{
		{"no due date", nil, false},
		{"start of today", at(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)), false},
		{"earlier today", at(fixedNow.Add(-time.Hour)), false},
		{"tomorrow", at(fixedNow.Add(24 * time.Hour)), false},
		{"end of yesterday", at(time.Date(2026, 10, 16, 23, 59, 59, 0, time.UTC)), true},
		{"last year", at(fixedNow.AddDate(-1, 0, 0)), true},
		{"local date that is yesterday in UTC", at(time.Date(2026, 10, 17, 5, 0, 0, 0, tokyo)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := models.ValidateDueDate(tt.due, fixedNow)
			if tt.wantErr && !errors.Is(err, models.ErrPastDueDate) {
				t.Errorf("Expected ErrPastDueDate, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestTaskDraft_Validate(t *testing.T) {
	draft := models.NewTaskDraft()

	if err := draft.Validate(fixedNow, false); err != nil {
		t.Errorf("Expected empty title to be accepted by default, got %v", err)
	}
	if err := draft.Validate(fixedNow, true); !errors.Is(err, models.ErrEmptyTitle) {
		t.Errorf("Expected ErrEmptyTitle, got %v", err)
	}

	draft.Title = "Write report"
	draft.DueDate = at(fixedNow.AddDate(0, 0, -2))
	if err := draft.Validate(fixedNow, true); !errors.Is(err, models.ErrPastDueDate) {
		t.Errorf("Expected ErrPastDueDate, got %v", err)
	}
}

func TestCalculateTimeLeft(t *testing.T) {
	tests := []struct {
		name     string
		due      *time.Time
		expected string
	}{
		{"no due date", nil, ""},
		{"ninety minutes ahead", at(fixedNow.Add(90 * time.Minute)), "30 Min Left"},
		{"forty minutes ahead", at(fixedNow.Add(40 * time.Minute)), "40 Min Left"},
		{"two days and five minutes ahead", at(fixedNow.Add(48*time.Hour + 5*time.Minute)), "5 Min Left"},
		{"thirty seconds ago", at(fixedNow.Add(-30 * time.Second)), models.TimeLeftOverdue},
		{"ninety minutes ago", at(fixedNow.Add(-90 * time.Minute)), models.TimeLeftOverdue},
		{"exactly two hours ago", at(fixedNow.Add(-2 * time.Hour)), models.TimeLeftOverdue},
		{"due right now", at(fixedNow), "0 Min Left"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.CalculateTimeLeft(tt.due, fixedNow)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCalculateTimeLeft_MatchesModuloFormula(t *testing.T) {
	due := fixedNow.Add(90*time.Minute + 17*time.Second)
	diff := due.Sub(fixedNow).Milliseconds()
	minutes := (diff % 3600000) / 60000

	got := models.CalculateTimeLeft(&due, fixedNow)
	expected := models.TimeLeftLegacy.Calculate(&due, fixedNow)
	if got != expected || got != "30 Min Left" || minutes != 30 {
		t.Errorf("Expected 30 Min Left, got %q (mode %q, formula %d)", got, expected, minutes)
	}
}

func TestTimeLeftDuration(t *testing.T) {
	due := fixedNow.Add(2*time.Hour + 15*time.Minute)

	if got := models.TimeLeftDuration.Calculate(&due, fixedNow); got != "135 Min Left" {
		t.Errorf("Expected 135 Min Left, got %q", got)
	}
	past := fixedNow.Add(-2 * time.Hour)
	if got := models.TimeLeftDuration.Calculate(&past, fixedNow); got != models.TimeLeftOverdue {
		t.Errorf("Expected Overdue, got %q", got)
	}
	if got := models.TimeLeftDuration.Calculate(nil, fixedNow); got != "" {
		t.Errorf("Expected empty string, got %q", got)
	}
	if models.TimeLeftMode("hourly").Valid() {
		t.Error("Expected unknown mode to be invalid")
	}
}

func TestGroupByStatus(t *testing.T) {
	tasks := []models.Task{
		{Title: "a", Status: models.StatusPending},
		{Title: "b", Status: models.StatusOnProgress},
		{Title: "c", Status: models.StatusCompleted, Completed: true},
		{Title: "d", Status: models.StatusPending},
	}

	board := models.GroupByStatus(tasks)

	total := len(board.OnProgress) + len(board.Pending) + len(board.Completed)
	if total != len(tasks) {
		t.Fatalf("Expected %d tasks across columns, got %d", len(tasks), total)
	}

	for _, status := range []models.Status{models.StatusOnProgress, models.StatusPending, models.StatusCompleted} {
		for _, task := range board.Column(status) {
			if task.Status != status {
				t.Errorf("Task %q with status %s found in column %s", task.Title, task.Status, status)
			}
		}
	}

	if board.Pending[0].Title != "a" || board.Pending[1].Title != "d" {
		t.Errorf("Expected pending column to keep list order, got %+v", board.Pending)
	}
}

func TestGroupByStatus_Empty(t *testing.T) {
	board := models.GroupByStatus(nil)

	if board.OnProgress == nil || board.Pending == nil || board.Completed == nil {
		t.Error("Expected empty, non-nil columns")
	}
}
