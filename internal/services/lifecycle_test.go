package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskboard/backend/internal/docstore"
	"taskboard/backend/internal/identity"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/repositories"
	"taskboard/backend/internal/services"
	"taskboard/backend/internal/testutil"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/suite"
)

var boardNow = time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []models.Task
	err   error
}

func (r *recordingScheduler) ScheduleReminder(ctx context.Context, task models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return r.err
}

type LifecycleManagerTestSuite struct {
	suite.Suite
	store     *testutil.FakeStore
	repo      *repositories.DocumentTaskRepository
	manager   *services.LifecycleManager
	reminders *recordingScheduler
	ctx       context.Context
	userID    uuid.UUID
}

func (suite *LifecycleManagerTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.store = testutil.NewFakeStore()
	suite.store.SetClock(func() time.Time { return boardNow })
	suite.repo = repositories.NewDocumentTaskRepository(suite.store)
	suite.manager = services.NewLifecycleManager(suite.repo, &services.ManagerConfig{
		TimeLeftMode: models.TimeLeftLegacy,
		Clock:        func() time.Time { return boardNow },
	})
	suite.reminders = &recordingScheduler{}
	suite.manager.SetReminderScheduler(suite.reminders)
	suite.userID = uuid.Must(uuid.NewV4())
}

func (suite *LifecycleManagerTestSuite) draft(title string, due *time.Time) models.TaskDraft {
	d := models.NewTaskDraft()
	d.Title = title
	d.DueDate = due
	return d
}

func at(t time.Time) *time.Time {
	return &t
}

func (suite *LifecycleManagerTestSuite) TestAddTask_PastDueDateRejected() {
	yesterday := boardNow.Add(-24 * time.Hour)

	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("late", &yesterday))

	suite.Require().Error(err)
	suite.Equal(services.KindValidation, services.KindOf(err))
	suite.ErrorIs(err, models.ErrPastDueDate)
	suite.Equal(0, suite.store.CallCount("set"))
	suite.Equal(0, suite.store.CallCount("query"))

	view := suite.manager.View(suite.userID)
	suite.True(view.DueDateError)
	suite.Empty(view.Tasks)
	suite.Nil(view.Error)
}

func (suite *LifecycleManagerTestSuite) TestAddTask_EarlierTodayIsAccepted() {
	midnight := models.StartOfUTCDay(boardNow)

	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("today", &midnight))

	suite.Require().NoError(err)
	suite.Equal(models.TimeLeftOverdue, task.TimeLeft)
	suite.Equal(models.StatusPending, task.Status)
}

func (suite *LifecycleManagerTestSuite) TestAddTask_PersistsAndReloads() {
	yesterday := boardNow.Add(-24 * time.Hour)
	_, _ = suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("late", &yesterday))

	d := suite.draft("groceries", at(boardNow.Add(90*time.Minute)))
	d.SetTags("home,errands")
	suite.manager.AddChecklistItem(&d, "a")
	suite.manager.AddChecklistItem(&d, "b")
	suite.Require().NoError(d.ToggleChecklistItem(1))

	task, err := suite.manager.AddTask(suite.ctx, suite.userID, d)
	suite.Require().NoError(err)

	suite.NotEqual(uuid.Nil, task.ID)
	suite.Equal(suite.userID, task.UserID)
	suite.Equal(models.StatusPending, task.Status)
	suite.False(task.Completed)
	suite.Zero(task.Progress)
	suite.Equal("30 Min Left", task.TimeLeft)
	suite.Equal([]string{"home", "errands"}, task.Tags)
	suite.Equal([]models.ChecklistItem{{Text: "a"}, {Text: "b", Checked: true}}, task.Checklist)
	suite.True(task.CreatedAt.Equal(boardNow), "createdAt comes from the store")

	suite.Equal(1, suite.store.CallCount("set"))
	suite.Equal(1, suite.store.CallCount("query"), "add reloads the full list")

	view := suite.manager.View(suite.userID)
	suite.False(view.DueDateError, "a successful add clears the due date error")
	suite.True(view.Loaded)
	suite.Require().Len(view.Tasks, 1)
	suite.Equal(task.ID, view.Tasks[0].ID)

	suite.Require().Len(suite.reminders.tasks, 1)
	suite.Equal(task.ID, suite.reminders.tasks[0].ID)
}

func (suite *LifecycleManagerTestSuite) TestAddTask_NoDueDate() {
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("someday", nil))

	suite.Require().NoError(err)
	suite.Nil(task.DueDate)
	suite.Equal("", task.TimeLeft)
	suite.Empty(suite.reminders.tasks)
}

func (suite *LifecycleManagerTestSuite) TestAddTask_StoreFailure() {
	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("first", nil))
	suite.Require().NoError(err)

	boom := errors.New("store down")
	suite.store.SetErr = boom
	_, err = suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("second", nil))

	suite.Equal(services.KindAdd, services.KindOf(err))
	suite.ErrorIs(err, boom)
	var opErr *repositories.OpError
	suite.Require().ErrorAs(err, &opErr)
	suite.Equal(repositories.OpAdd, opErr.Op)

	view := suite.manager.View(suite.userID)
	suite.Len(view.Tasks, 1, "list keeps its last known-good value")
	suite.Require().NotNil(view.Error)
	suite.Equal(services.MsgAddFailed, *view.Error)
}

func (suite *LifecycleManagerTestSuite) TestAddTask_RequireTitle() {
	strict := services.NewLifecycleManager(suite.repo, &services.ManagerConfig{
		RequireTitle: true,
		Clock:        func() time.Time { return boardNow },
	})

	_, err := strict.AddTask(suite.ctx, suite.userID, suite.draft("  ", nil))
	suite.ErrorIs(err, models.ErrEmptyTitle)
	suite.Equal(services.KindValidation, services.KindOf(err))

	_, err = suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("", nil))
	suite.NoError(err, "empty titles pass unless required")
}

func (suite *LifecycleManagerTestSuite) TestAddTask_DurationMode() {
	manager := services.NewLifecycleManager(suite.repo, &services.ManagerConfig{
		TimeLeftMode: models.TimeLeftDuration,
		Clock:        func() time.Time { return boardNow },
	})

	task, err := manager.AddTask(suite.ctx, suite.userID, suite.draft("later", at(boardNow.Add(2*time.Hour+15*time.Minute))))
	suite.Require().NoError(err)
	suite.Equal("135 Min Left", task.TimeLeft)
}

func (suite *LifecycleManagerTestSuite) TestLoadTasks_FailureKeepsList() {
	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("kept", nil))
	suite.Require().NoError(err)

	suite.store.QueryErr = errors.New("timeout")
	_, err = suite.manager.LoadTasks(suite.ctx, suite.userID)
	suite.Equal(services.KindFetch, services.KindOf(err))

	view := suite.manager.View(suite.userID)
	suite.Len(view.Tasks, 1)
	suite.Require().NotNil(view.Error)
	suite.Equal(services.MsgFetchFailed, *view.Error)

	suite.store.QueryErr = nil
	tasks, err := suite.manager.LoadTasks(suite.ctx, suite.userID)
	suite.Require().NoError(err)
	suite.Len(tasks, 1)
	suite.Nil(suite.manager.View(suite.userID).Error)
}

func (suite *LifecycleManagerTestSuite) TestLoadTasks_OnlyOwnUser() {
	other := uuid.Must(uuid.NewV4())
	_, err := suite.manager.AddTask(suite.ctx, other, suite.draft("theirs", nil))
	suite.Require().NoError(err)
	_, err = suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("mine", nil))
	suite.Require().NoError(err)

	tasks, err := suite.manager.LoadTasks(suite.ctx, suite.userID)
	suite.Require().NoError(err)
	suite.Require().Len(tasks, 1)
	suite.Equal("mine", tasks[0].Title)
}

func (suite *LifecycleManagerTestSuite) TestLoadTasks_ConcurrentCallsShareOneQuery() {
	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("shared", nil))
	suite.Require().NoError(err)
	before := suite.store.CallCount("query")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	suite.store.BeforeQuery = func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tasks, err := suite.manager.LoadTasks(suite.ctx, suite.userID)
			if err == nil {
				results[i] = len(tasks)
			}
		}(i)
	}

	<-entered
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	suite.Equal(before+1, suite.store.CallCount("query"))
	for i, n := range results {
		suite.Equal(1, n, "caller %d", i)
	}
}

func (suite *LifecycleManagerTestSuite) TestDeleteTask() {
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("doomed", nil))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.manager.DeleteTask(suite.ctx, suite.userID, task.ID))
	suite.Empty(suite.manager.Tasks(suite.userID), "delete reloads the list")

	suite.NoError(suite.manager.DeleteTask(suite.ctx, suite.userID, uuid.Must(uuid.NewV4())), "deleting an unknown id is a no-op")
}

func (suite *LifecycleManagerTestSuite) TestDeleteTask_StoreFailure() {
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("sticky", nil))
	suite.Require().NoError(err)

	suite.store.DeleteErr = errors.New("permission denied")
	err = suite.manager.DeleteTask(suite.ctx, suite.userID, task.ID)

	suite.Equal(services.KindDelete, services.KindOf(err))
	view := suite.manager.View(suite.userID)
	suite.Len(view.Tasks, 1)
	suite.Require().NotNil(view.Error)
	suite.Equal(services.MsgDeleteFailed, *view.Error)
}

func (suite *LifecycleManagerTestSuite) TestCompleteTask() {
	d := suite.draft("finish me", nil)
	suite.manager.AddChecklistItem(&d, "step")
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, d)
	suite.Require().NoError(err)

	done, err := suite.manager.CompleteTask(suite.ctx, suite.userID, task)
	suite.Require().NoError(err)
	suite.Equal(models.StatusCompleted, done.Status)
	suite.True(done.Completed)
	suite.Equal(task.Checklist, done.Checklist, "the whole task is written back")
	suite.True(done.CreatedAt.Equal(task.CreatedAt))

	again, err := suite.manager.CompleteTask(suite.ctx, suite.userID, done)
	suite.Require().NoError(err)
	suite.Equal(done, again, "completing twice leaves the same state")

	board := suite.manager.Board(suite.userID)
	suite.Len(board.Completed, 1)
	suite.Empty(board.Pending)
	suite.Empty(board.OnProgress)
}

func (suite *LifecycleManagerTestSuite) TestCompleteTask_Errors() {
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("gone", nil))
	suite.Require().NoError(err)

	_, err = suite.manager.CompleteTask(suite.ctx, uuid.Must(uuid.NewV4()), task)
	suite.ErrorIs(err, services.ErrForeignTask)

	suite.Require().NoError(suite.manager.DeleteTask(suite.ctx, suite.userID, task.ID))
	_, err = suite.manager.CompleteTask(suite.ctx, suite.userID, task)
	suite.Equal(services.KindUpdate, services.KindOf(err))
	suite.ErrorIs(err, docstore.ErrNotFound, "update never recreates a deleted task")
	suite.Equal(0, suite.store.Len(mustCollection(suite.userID)))

	view := suite.manager.View(suite.userID)
	suite.Require().NotNil(view.Error)
	suite.Equal(services.MsgCompleteFailed, *view.Error)
}

func (suite *LifecycleManagerTestSuite) TestRescheduleTask() {
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("move me", at(boardNow.Add(90*time.Minute))))
	suite.Require().NoError(err)

	moved, err := suite.manager.RescheduleTask(suite.ctx, suite.userID, task.ID, at(boardNow.Add(40*time.Minute)))
	suite.Require().NoError(err)
	suite.Equal("40 Min Left", moved.TimeLeft)
	suite.Equal(models.StatusPending, moved.Status)
	suite.Len(suite.reminders.tasks, 2)

	_, err = suite.manager.RescheduleTask(suite.ctx, suite.userID, task.ID, at(boardNow.Add(-48*time.Hour)))
	suite.ErrorIs(err, models.ErrPastDueDate)
	suite.True(suite.manager.View(suite.userID).DueDateError)

	cleared, err := suite.manager.RescheduleTask(suite.ctx, suite.userID, task.ID, nil)
	suite.Require().NoError(err)
	suite.Nil(cleared.DueDate)
	suite.Equal("", cleared.TimeLeft)
	suite.False(suite.manager.View(suite.userID).DueDateError)

	_, err = suite.manager.RescheduleTask(suite.ctx, suite.userID, uuid.Must(uuid.NewV4()), nil)
	suite.ErrorIs(err, docstore.ErrNotFound)
}

func (suite *LifecycleManagerTestSuite) TestReminderFailureDoesNotFailWrite() {
	suite.reminders.err = errors.New("redis down")

	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("remind", at(boardNow.Add(time.Hour))))
	suite.NoError(err)
	suite.Len(suite.manager.Tasks(suite.userID), 1)
}

func (suite *LifecycleManagerTestSuite) TestFindTask() {
	task, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("find me", nil))
	suite.Require().NoError(err)

	fresh := services.NewLifecycleManager(suite.repo, nil)
	found, err := fresh.FindTask(suite.ctx, suite.userID, task.ID)
	suite.Require().NoError(err)
	suite.Equal(task.ID, found.ID)

	_, err = fresh.FindTask(suite.ctx, suite.userID, uuid.Must(uuid.NewV4()))
	suite.ErrorIs(err, services.ErrTaskNotFound)
}

func (suite *LifecycleManagerTestSuite) TestNoIdentity() {
	_, err := suite.manager.LoadTasks(suite.ctx, uuid.Nil)
	suite.ErrorIs(err, services.ErrNoIdentity)
	suite.Equal(services.KindValidation, services.KindOf(err))
	_, err = suite.manager.AddTask(suite.ctx, uuid.Nil, suite.draft("x", nil))
	suite.ErrorIs(err, services.ErrNoIdentity)
	suite.ErrorIs(suite.manager.DeleteTask(suite.ctx, uuid.Nil, uuid.Must(uuid.NewV4())), services.ErrNoIdentity)
	_, err = suite.manager.CompleteTask(suite.ctx, uuid.Nil, models.Task{})
	suite.ErrorIs(err, services.ErrNoIdentity)
}

func (suite *LifecycleManagerTestSuite) TestFollowIdentityChanges() {
	alice := suite.userID
	bob := uuid.Must(uuid.NewV4())
	_, err := suite.manager.AddTask(suite.ctx, alice, suite.draft("alice's", nil))
	suite.Require().NoError(err)
	_, err = suite.manager.AddTask(suite.ctx, bob, suite.draft("bob's", nil))
	suite.Require().NoError(err)
	suite.manager.Forget(alice)
	suite.manager.Forget(bob)

	notifier := identity.NewNotifier()
	stop := suite.manager.Follow(suite.ctx, notifier)

	notifier.SignIn(alice)
	notifier.SignOut(alice)
	notifier.SignIn(bob)
	stop()

	suite.False(suite.manager.View(alice).Loaded, "sign-out drops the previous user's list")
	suite.Empty(suite.manager.Tasks(alice))

	bobView := suite.manager.View(bob)
	suite.True(bobView.Loaded)
	suite.Require().Len(bobView.Tasks, 1)
	suite.Equal("bob's", bobView.Tasks[0].Title)
}

func (suite *LifecycleManagerTestSuite) TestLoadTasks_AfterForgetFillsNewView() {
	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("survives sign-out", nil))
	suite.Require().NoError(err)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	suite.store.BeforeQuery = func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	first := make(chan error, 1)
	go func() {
		_, err := suite.manager.LoadTasks(suite.ctx, suite.userID)
		first <- err
	}()
	<-entered

	suite.manager.Forget(suite.userID)

	second := make(chan []models.Task, 1)
	go func() {
		tasks, _ := suite.manager.LoadTasks(suite.ctx, suite.userID)
		second <- tasks
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	suite.Require().NoError(<-first)
	tasks := <-second
	suite.Require().Len(tasks, 1)

	view := suite.manager.View(suite.userID)
	suite.True(view.Loaded)
	suite.Require().Len(view.Tasks, 1)
	suite.Equal("survives sign-out", view.Tasks[0].Title)
}

func (suite *LifecycleManagerTestSuite) TestForget_DiscardsRunningLoad() {
	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("stale", nil))
	suite.Require().NoError(err)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	suite.store.BeforeQuery = func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		suite.manager.LoadTasks(suite.ctx, suite.userID)
	}()
	<-entered
	suite.manager.Forget(suite.userID)
	close(release)
	<-done

	view := suite.manager.View(suite.userID)
	suite.False(view.Loaded, "a load from before sign-out must not refill the list")
	suite.Empty(view.Tasks)
}

func (suite *LifecycleManagerTestSuite) TestFollow_SlowStoreDoesNotBlockSignIn() {
	release := make(chan struct{})
	suite.store.BeforeQuery = func() { <-release }

	notifier := identity.NewNotifier()
	stop := suite.manager.Follow(suite.ctx, notifier)

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 100; i++ {
			notifier.SignIn(uuid.Must(uuid.NewV4()))
		}
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		suite.Fail("sign-ins waited on the store")
	}
	close(release)
	<-published
	stop()
}

func (suite *LifecycleManagerTestSuite) TestOperationsClearStaleError() {
	_, err := suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("kept", nil))
	suite.Require().NoError(err)

	suite.store.QueryErr = errors.New("timeout")
	_, err = suite.manager.LoadTasks(suite.ctx, suite.userID)
	suite.Require().Error(err)
	suite.Require().NotNil(suite.manager.View(suite.userID).Error)
	suite.store.QueryErr = nil

	_, err = suite.manager.AddTask(suite.ctx, suite.userID, suite.draft("late", at(boardNow.AddDate(0, 0, -2))))
	suite.Equal(services.KindValidation, services.KindOf(err))

	view := suite.manager.View(suite.userID)
	suite.Nil(view.Error, "the earlier fetch error is gone once a new operation starts")
	suite.True(view.DueDateError)
	suite.Len(view.Tasks, 1)
}

func mustCollection(userID uuid.UUID) docstore.Path {
	col, err := repositories.CollectionFor(userID)
	if err != nil {
		panic(err)
	}
	return col
}

func TestLifecycleManagerTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleManagerTestSuite))
}

func TestErrorKinds(t *testing.T) {
	err := &services.Error{Kind: services.KindFetch, Message: services.MsgFetchFailed, Err: docstore.ErrUnavailable}
	if !errors.Is(err, docstore.ErrUnavailable) {
		t.Error("Expected Error to unwrap its cause")
	}
	if services.KindOf(err) != services.KindFetch {
		t.Errorf("Expected fetch kind, got %s", services.KindOf(err))
	}
	if services.KindOf(errors.New("plain")) != "" {
		t.Error("Expected empty kind for foreign errors")
	}
}
