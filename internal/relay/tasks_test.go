package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRoomStore struct{}

func (failingRoomStore) AddRoomMessage(context.Context, domain.RoomMessage) error {
	return errors.New("disk full")
}

func (failingRoomStore) ListRooms(context.Context, domain.PageRequest) (domain.RoomPage, error) {
	return domain.RoomPage{}, errors.New("disk full")
}

var _ ports.RoomStore = failingRoomStore{}

func waitTask(t *testing.T, tasks *Tasks, id domain.TaskID, want domain.TaskStatus) domain.Task {
	t.Helper()
	var task domain.Task
	require.Eventually(t, func() bool {
		got, err := tasks.Get(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 2*time.Second, time.Millisecond, "task %s never reached %s", id, want)
	return task
}

func TestTasksCreateValidates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	tasks := NewTasks(store, store, AgentFunc(func(context.Context, domain.Task) (string, error) { return "", nil }), nil, nil)
	t.Cleanup(tasks.Close)

	tests := []struct {
		name string
		req  domain.TaskRequest
	}{
		{name: "blank prompt", req: domain.TaskRequest{RoomID: "r1", Prompt: "  "}},
		{name: "unknown agent", req: domain.TaskRequest{RoomID: "r1", Prompt: "p", AgentName: "planner"}},
		{name: "no room", req: domain.TaskRequest{Prompt: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tasks.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	page, err := store.ListRooms(context.Background(), domain.PageRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestTasksRunToCompletion(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	release := make(chan struct{})
	seen := make(chan domain.Task, 1)
	tasks := NewTasks(store, store, AgentFunc(func(_ context.Context, task domain.Task) (string, error) {
		seen <- task
		<-release
		return "added a button", nil
	}), nil, nil)
	t.Cleanup(tasks.Close)

	task, warning, err := tasks.Create(context.Background(), domain.TaskRequest{RoomID: "r1", Prompt: "add a button"})
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, domain.AgentOutliner, task.AgentName)

	waitTask(t, tasks, task.ID, domain.TaskProcessing)
	close(release)
	done := waitTask(t, tasks, task.ID, domain.TaskCompleted)
	assert.Equal(t, "add a button", done.Prompt)
	assert.Empty(t, done.Error)
	assert.Equal(t, "added a button", done.Result)
	assert.False(t, done.UpdatedAt.Before(done.CreatedAt))
	assert.Equal(t, domain.TaskProcessing, (<-seen).Status)

	page, err := store.ListRooms(context.Background(), domain.PageRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "add a button", page.Items[0].FirstMessage)
	assert.Equal(t, 1, page.Items[0].MessageCount)
}

func TestTasksAgentFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	tasks := NewTasks(store, store, AgentFunc(func(context.Context, domain.Task) (string, error) {
		return "", errors.New("model unavailable")
	}), nil, nil)
	t.Cleanup(tasks.Close)

	task, _, err := tasks.Create(context.Background(), domain.TaskRequest{RoomID: "r1", Prompt: "p", AgentName: domain.AgentSequential})
	require.NoError(t, err)

	failed := waitTask(t, tasks, task.ID, domain.TaskFailed)
	assert.Equal(t, "model unavailable", failed.Error)
	assert.Equal(t, domain.AgentSequential, failed.AgentName)
}

func TestTasksWarnWhenRoomMessageIsNotStored(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	tasks := NewTasks(store, failingRoomStore{}, AgentFunc(func(context.Context, domain.Task) (string, error) { return "", nil }), nil, nil)
	t.Cleanup(tasks.Close)

	task, warning, err := tasks.Create(context.Background(), domain.TaskRequest{RoomID: "r1", Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(warning, "Message storage failed"), warning)
	waitTask(t, tasks, task.ID, domain.TaskCompleted)
}

func TestTasksGetUnknown(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	tasks := NewTasks(store, store, AgentFunc(func(context.Context, domain.Task) (string, error) { return "", nil }), nil, nil)
	t.Cleanup(tasks.Close)

	_, err := tasks.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTasksCloseCancelsRunningAgents(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	started := make(chan struct{})
	tasks := NewTasks(store, store, AgentFunc(func(ctx context.Context, _ domain.Task) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}), nil, nil)

	task, _, err := tasks.Create(context.Background(), domain.TaskRequest{RoomID: "r1", Prompt: "p"})
	require.NoError(t, err)
	<-started

	tasks.Close()
	got, err := tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Equal(t, context.Canceled.Error(), got.Error)
}
