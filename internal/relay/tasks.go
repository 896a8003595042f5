package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// Agent fulfils a task and returns its result. Returning an error fails the
// task with the error text.
type Agent interface {
	Run(ctx context.Context, task domain.Task) (string, error)
}

type AgentFunc func(ctx context.Context, task domain.Task) (string, error)

func (f AgentFunc) Run(ctx context.Context, task domain.Task) (string, error) {
	return f(ctx, task)
}

// Tasks creates tasks and runs each one on the agent in the background.
// Status only moves forward: pending, processing, then completed or failed.
type Tasks struct {
	store   ports.TaskStore
	rooms   ports.RoomStore
	agent   Agent
	clock   ports.Clock
	metrics *Metrics

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewTasks(store ports.TaskStore, rooms ports.RoomStore, agent Agent, clock ports.Clock, metrics *Metrics) *Tasks {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	base, cancel := context.WithCancel(context.Background())

	return &Tasks{
		store:   store,
		rooms:   rooms,
		agent:   agent,
		clock:   clock,
		metrics: metrics,
		base:    base,
		cancel:  cancel,
	}
}

// Create validates req, records the prompt against its room and starts the
// task. A failure to record the room message does not fail the task; it is
// returned as a warning.
func (t *Tasks) Create(ctx context.Context, req domain.TaskRequest) (domain.Task, string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.Task{}, "", fmt.Errorf("%w: prompt is required and must be a string", domain.ErrValidation)
	}
	if req.AgentName == "" {
		req.AgentName = domain.AgentOutliner
	}
	if !req.AgentName.Valid() {
		return domain.Task{}, "", fmt.Errorf("%w: invalid agentName, must be 'outliner' or 'sequential'", domain.ErrValidation)
	}
	if err := req.RoomID.Validate(); err != nil {
		return domain.Task{}, "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	log := pslog.Ctx(ctx).With("room", req.RoomID)
	now := t.clock.Now().UTC()

	var warning string
	if err := t.rooms.AddRoomMessage(ctx, domain.RoomMessage{
		RoomID:    req.RoomID,
		Prompt:    req.Prompt,
		AgentName: req.AgentName,
		Timestamp: now,
	}); err != nil {
		log.Warn("store room message", "err", err)
		warning = fmt.Sprintf("Message storage failed: %v", err)
	}

	task := domain.Task{
		ID:        domain.TaskID(uuid.NewString()),
		RoomID:    req.RoomID,
		Status:    domain.TaskPending,
		Prompt:    req.Prompt,
		AgentName: req.AgentName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.SaveTask(ctx, task); err != nil {
		return domain.Task{}, "", fmt.Errorf("save task: %w", err)
	}
	log.Info("task created", "task", task.ID, "agent", task.AgentName)

	t.mu.Lock()
	t.wg.Add(1)
	t.mu.Unlock()
	runCtx := pslog.ContextWithLogger(t.base, log.With("task", task.ID))
	go func() {
		defer t.wg.Done()
		t.execute(runCtx, task)
	}()
	return task, warning, nil
}

func (t *Tasks) Get(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	task, err := t.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// Close cancels running tasks and waits for them to settle.
func (t *Tasks) Close() {
	t.cancel()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tasks) execute(ctx context.Context, task domain.Task) {
	log := pslog.Ctx(ctx)
	task, ok := t.advance(ctx, task, domain.TaskProcessing, "")
	if !ok {
		return
	}

	result, err := t.agent.Run(ctx, task)
	if err != nil {
		log.Warn("agent failed", "err", err)
		t.advance(ctx, task, domain.TaskFailed, err.Error())
		return
	}
	task.Result = result
	t.advance(ctx, task, domain.TaskCompleted, "")
}

func (t *Tasks) advance(ctx context.Context, task domain.Task, next domain.TaskStatus, msg string) (domain.Task, bool) {
	if !task.Status.CanAdvance(next) {
		pslog.Ctx(ctx).Warn("refusing task status change", "from", task.Status, "to", next)
		return task, false
	}
	task.Status = next
	task.Error = msg
	task.UpdatedAt = t.clock.Now().UTC()

	// Status writes outlive relay shutdown.
	saveCtx := context.WithoutCancel(ctx)
	if err := t.store.SaveTask(saveCtx, task); err != nil {
		pslog.Ctx(ctx).Error("save task status", "status", next, "err", err)
		return task, false
	}
	if next.Terminal() {
		t.metrics.tasks.WithLabelValues(string(next)).Inc()
	}
	pslog.Ctx(ctx).Info("task status", "status", next)
	return task, true
}
