package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"taskboard/backend/internal/docstore"
	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

var errInvalidDueDate = errors.New("due date must be YYYY-MM-DD or RFC 3339")

type TaskHandler struct {
	manager *services.LifecycleManager
}

func NewTaskHandler(manager *services.LifecycleManager) *TaskHandler {
	return &TaskHandler{manager: manager}
}

// CreateTaskRequest is the task form. Tags arrive as the raw comma-separated
// input; leaving them out means no tags.
type CreateTaskRequest struct {
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Tags          *string                `json:"tags"`
	DueDate       string                 `json:"dueDate"`
	Checklist     []models.ChecklistItem `json:"checklist"`
	Priority      string                 `json:"priority"`
	EstimatedTime string                 `json:"estimatedTime"`
}

type DueDateRequest struct {
	DueDate string `json:"dueDate"`
}

type ChecklistRequest struct {
	Draft models.TaskDraft `json:"draft"`
	Text  string           `json:"text" binding:"required"`
}

// parseDueDate accepts a calendar date or a full timestamp. An empty string
// means no due date.
func parseDueDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, errInvalidDueDate
	}
	return &t, nil
}

func (r CreateTaskRequest) draft() (models.TaskDraft, error) {
	due, err := parseDueDate(r.DueDate)
	if err != nil {
		return models.TaskDraft{}, err
	}

	draft := models.NewTaskDraft()
	draft.Title = r.Title
	draft.Description = r.Description
	if r.Tags != nil {
		draft.SetTags(*r.Tags)
	}
	draft.DueDate = due
	if r.Checklist != nil {
		draft.Checklist = r.Checklist
	}
	draft.Priority = r.Priority
	draft.EstimatedTime = r.EstimatedTime
	return draft, nil
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": services.MsgSignInRequired, "dueDateError": false})
		return uuid.Nil, false
	}
	return userID, true
}

func taskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id", "dueDateError": false})
		return uuid.Nil, false
	}
	return id, true
}

func (h *TaskHandler) respond(c *gin.Context, status int, userID uuid.UUID, extra gin.H) {
	view := h.manager.View(userID)
	body := gin.H{
		"tasks":        view.Tasks,
		"error":        view.Error,
		"dueDateError": view.DueDateError,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if _, err := h.manager.LoadTasks(c.Request.Context(), userID); err != nil {
		h.handleTaskError(c, userID, err)
		return
	}
	h.respond(c, http.StatusOK, userID, nil)
}

func (h *TaskHandler) GetBoard(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !h.manager.View(userID).Loaded {
		if _, err := h.manager.LoadTasks(c.Request.Context(), userID); err != nil {
			h.handleTaskError(c, userID, err)
			return
		}
	}

	view := h.manager.View(userID)
	c.JSON(http.StatusOK, gin.H{
		"board":        models.GroupByStatus(view.Tasks),
		"error":        view.Error,
		"dueDateError": view.DueDateError,
	})
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "dueDateError": false})
		return
	}
	draft, err := req.draft()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "dueDateError": false})
		return
	}

	task, err := h.manager.AddTask(c.Request.Context(), userID, draft)
	if err != nil {
		h.handleTaskError(c, userID, err)
		return
	}
	h.respond(c, http.StatusCreated, userID, gin.H{"task": task})
}

func (h *TaskHandler) CompleteTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := h.manager.FindTask(c.Request.Context(), userID, id)
	if err != nil {
		h.handleTaskError(c, userID, err)
		return
	}
	task, err = h.manager.CompleteTask(c.Request.Context(), userID, task)
	if err != nil {
		h.handleTaskError(c, userID, err)
		return
	}
	h.respond(c, http.StatusOK, userID, gin.H{"task": task})
}

func (h *TaskHandler) RescheduleTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	var req DueDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "dueDateError": false})
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "dueDateError": false})
		return
	}

	task, err := h.manager.RescheduleTask(c.Request.Context(), userID, id, due)
	if err != nil {
		h.handleTaskError(c, userID, err)
		return
	}
	h.respond(c, http.StatusOK, userID, gin.H{"task": task})
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	if err := h.manager.DeleteTask(c.Request.Context(), userID, id); err != nil {
		h.handleTaskError(c, userID, err)
		return
	}
	h.respond(c, http.StatusOK, userID, nil)
}

// AddChecklistItem appends an item to the posted draft and echoes it back.
func (h *TaskHandler) AddChecklistItem(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	var req ChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "dueDateError": false})
		return
	}
	if req.Draft.Tags == nil {
		req.Draft.Tags = []string{}
	}
	if req.Draft.Checklist == nil {
		req.Draft.Checklist = []models.ChecklistItem{}
	}

	h.manager.AddChecklistItem(&req.Draft, req.Text)
	c.JSON(http.StatusOK, gin.H{"draft": req.Draft})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForeignTask):
		return http.StatusForbidden
	case errors.Is(err, services.ErrTaskNotFound), errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	}

	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindFetch, services.KindAdd, services.KindDelete, services.KindUpdate:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleTaskError answers with the user's current view. The error field
// carries the lifecycle message, falling back to the view's own error.
func (h *TaskHandler) handleTaskError(c *gin.Context, userID uuid.UUID, err error) {
	view := h.manager.View(userID)

	message := "failed to process task request"
	var lifecycleErr *services.Error
	if errors.As(err, &lifecycleErr) {
		message = lifecycleErr.Message
	}

	c.JSON(statusFor(err), gin.H{
		"tasks":        view.Tasks,
		"error":        message,
		"dueDateError": view.DueDateError,
	})
}
