package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"pkt.systems/pslog"
)

var (
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrTaskInFlight    = errors.New("a task is already in flight")
	ErrSessionNotReady = errors.New("session is not connected and synced")
)

// ConnectionStateSource reports the connection state a submission depends on.
type ConnectionStateSource interface {
	State() domain.ConnectionState
}

type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:    time.Second,
		MaxAttempts: 300,
	}
}

type TaskProgress struct {
	Attempt int
	Status  domain.TaskStatus
	Phrase  string
}

type TaskSnapshot struct {
	Phase    domain.TaskPhase
	Room     domain.RoomID
	TaskID   domain.TaskID
	Status   domain.TaskStatus
	Progress string
	Err      error
}

// TaskOrchestrator drives one task at a time through submit, poll and
// cancel.
type TaskOrchestrator struct {
	api   ports.TaskAPI
	state ConnectionStateSource
	clock ports.Clock
	opts  PollOptions

	mu     sync.Mutex
	snap   TaskSnapshot
	gen    uint64
	cancel context.CancelFunc
}

func NewTaskOrchestrator(api ports.TaskAPI, state ConnectionStateSource, clock ports.Clock, opts PollOptions) *TaskOrchestrator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	defaults := DefaultPollOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}

	return &TaskOrchestrator{
		api:   api,
		state: state,
		clock: clock,
		opts:  opts,
		snap:  TaskSnapshot{Phase: domain.PhaseIdle},
	}
}

func (o *TaskOrchestrator) Snapshot() TaskSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Submit creates a task for room. Preconditions are checked before any
// network call: the prompt must not be blank, no task may be in flight and
// the session must be connected and synced.
func (o *TaskOrchestrator) Submit(ctx context.Context, room domain.RoomID, prompt string, mode domain.AgentMode) (domain.TaskID, error) {
	id, _, err := o.submit(ctx, room, prompt, mode)
	return id, err
}

func (o *TaskOrchestrator) submit(ctx context.Context, room domain.RoomID, prompt string, mode domain.AgentMode) (domain.TaskID, uint64, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", 0, ErrEmptyPrompt
	}

	o.mu.Lock()
	if o.snap.Phase.InFlight() {
		o.mu.Unlock()
		return "", 0, ErrTaskInFlight
	}
	if o.state == nil || !o.state.State().Ready() {
		o.mu.Unlock()
		return "", 0, ErrSessionNotReady
	}
	opCtx, cancel := context.WithCancel(ctx)
	o.gen++
	gen := o.gen
	o.cancel = cancel
	o.snap = TaskSnapshot{Phase: domain.PhaseSubmitting, Room: room}
	o.mu.Unlock()
	defer cancel()

	log := pslog.Ctx(ctx).With("room", room)
	id, err := o.api.SubmitTask(opCtx, domain.TaskRequest{
		RoomID:    room,
		Prompt:    prompt,
		AgentName: mode.AgentName(),
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return "", 0, fmt.Errorf("submit task: %w", domain.ErrCancelled)
	}
	o.cancel = nil
	if err != nil {
		o.snap = TaskSnapshot{Phase: domain.PhaseIdle, Room: room}
		if !domain.IsCancelled(err) {
			o.snap.Err = err
		}
		log.Warn("task submission failed", "err", err)
		return "", 0, fmt.Errorf("submit task: %w", err)
	}
	o.snap.Phase = domain.PhaseProcessing
	o.snap.TaskID = id
	log.Info("task submitted", "task", id, "agent", mode.AgentName())
	return id, gen, nil
}

// Poll checks the task every interval until it is terminal, the attempt
// budget is spent, or the poll is cancelled. onProgress runs once per
// successful check.
func (o *TaskOrchestrator) Poll(ctx context.Context, id domain.TaskID, onProgress func(TaskProgress)) (domain.Task, error) {
	o.mu.Lock()
	var gen uint64
	switch {
	case o.snap.Phase == domain.PhaseProcessing && o.snap.TaskID == id:
		gen = o.gen
	case o.snap.Phase.InFlight():
		o.mu.Unlock()
		return domain.Task{}, ErrTaskInFlight
	default:
		o.gen++
		gen = o.gen
		o.snap = TaskSnapshot{Phase: domain.PhaseProcessing, TaskID: id}
	}
	o.mu.Unlock()

	return o.poll(ctx, gen, id, onProgress)
}

// Run submits and then polls until the task settles.
func (o *TaskOrchestrator) Run(ctx context.Context, room domain.RoomID, prompt string, mode domain.AgentMode, onProgress func(TaskProgress)) (domain.Task, error) {
	id, gen, err := o.submit(ctx, room, prompt, mode)
	if err != nil {
		return domain.Task{}, err
	}
	return o.poll(ctx, gen, id, onProgress)
}

// Cancel stops the current submission or poll and returns to idle. The
// backend task is left alone.
func (o *TaskOrchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	o.snap = TaskSnapshot{Phase: domain.PhaseIdle}
}

func (o *TaskOrchestrator) poll(ctx context.Context, gen uint64, id domain.TaskID, onProgress func(TaskProgress)) (domain.Task, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return domain.Task{}, fmt.Errorf("poll task %s: %w", id, domain.ErrCancelled)
	}
	o.cancel = cancel
	o.mu.Unlock()

	log := pslog.Ctx(ctx).With("task", id)
	var last domain.Task
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if opCtx.Err() != nil {
			return last, o.stopped(ctx, gen, id)
		}

		task, err := o.api.GetTask(opCtx, id)
		if opCtx.Err() != nil {
			return last, o.stopped(ctx, gen, id)
		}

		switch {
		case err != nil && domain.IsFatal(err):
			o.finish(gen, domain.PhaseFailed, err)
			log.Warn("task check failed", "attempt", attempt, "err", err)
			return last, fmt.Errorf("poll task %s: %w", id, err)
		case err != nil:
			log.Debug("task check failed, retrying", "attempt", attempt, "err", err)
		case last.Status == "" || last.Status.CanAdvance(task.Status):
			last = task
		case task.Status != last.Status:
			log.Debug("ignoring task status regression", "from", last.Status, "to", task.Status)
		}

		if last.Status != "" {
			o.progress(gen, last.Status)
			if onProgress != nil {
				onProgress(TaskProgress{Attempt: attempt, Status: last.Status, Phrase: last.Status.Phrase()})
			}
		}

		switch last.Status {
		case domain.TaskCompleted:
			o.finish(gen, domain.PhaseCompleted, nil)
			log.Info("task completed", "attempts", attempt)
			return last, nil
		case domain.TaskFailed:
			err := fmt.Errorf("%w: %s", domain.ErrTaskFailed, last.Error)
			if last.Error == "" {
				err = domain.ErrTaskFailed
			}
			o.finish(gen, domain.PhaseFailed, err)
			log.Warn("task failed", "err", last.Error)
			return last, err
		}

		if attempt == o.opts.MaxAttempts {
			break
		}
		select {
		case <-opCtx.Done():
			return last, o.stopped(ctx, gen, id)
		case <-o.clock.After(o.opts.Interval):
		}
	}

	err := fmt.Errorf("poll task %s: %w after %d attempts", id, domain.ErrTimeout, o.opts.MaxAttempts)
	o.finish(gen, domain.PhaseFailed, err)
	log.Warn("task poll timed out", "attempts", o.opts.MaxAttempts)
	return last, err
}

// stopped settles a poll that observed cancellation. Cancel has already
// reset the orchestrator; a cancelled caller context ends in cancelled.
func (o *TaskOrchestrator) stopped(ctx context.Context, gen uint64, id domain.TaskID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen == gen {
		o.snap.Phase = domain.PhaseCancelled
		o.snap.Err = nil
		o.cancel = nil
	}
	pslog.Ctx(ctx).Info("task poll cancelled", "task", id)
	return fmt.Errorf("poll task %s: %w", id, domain.ErrCancelled)
}

func (o *TaskOrchestrator) progress(gen uint64, status domain.TaskStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	o.snap.Status = status
	o.snap.Progress = status.Phrase()
}

func (o *TaskOrchestrator) finish(gen uint64, phase domain.TaskPhase, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	o.snap.Phase = phase
	o.snap.Err = err
	o.cancel = nil
}
