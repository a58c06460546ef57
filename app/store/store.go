package store

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
)

const persistTimeout = 3 * time.Second

// State is one consistent view of the current task.
type State struct {
	Task               *types.Task `json:"task"`
	UploadProgress     int         `json:"upload_progress"`
	GenerationProgress int         `json:"generation_progress"`
	GenerationStatus   string      `json:"generation_status"`
	Error              string      `json:"error,omitempty"`
	// Version grows with every observable change.
	Version uint64 `json:"version"`
}

func (s State) clone() State {
	s.Task = s.Task.Clone()
	return s
}

type Store struct {
	mu        sync.RWMutex
	state     State
	policy    types.ProgressPolicy
	persister Persister

	watchMu    sync.Mutex
	watchers   map[int]func(State)
	watcherSeq int
}

func New(policy types.ProgressPolicy, persister Persister) *Store {
	if policy == "" {
		policy = types.PROGRESS_POLICY_HOLD
	}
	if persister == nil {
		persister = NopPersister{}
	}
	return &Store{
		policy:    policy,
		persister: persister,
		watchers:  make(map[int]func(State)),
	}
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Store) CurrentTask() *types.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Task.Clone()
}

// SetCurrentTask makes task the current one. A different task resets
// progress and error, nil clears the task only.
func (s *Store) SetCurrentTask(task *types.Task) {
	task = task.Clone()

	s.mu.Lock()
	prev := s.state.Task
	s.state.Task = task
	if task == nil || prev == nil || prev.ID != task.ID {
		s.state.UploadProgress = 0
		s.state.GenerationProgress = 0
		s.state.GenerationStatus = ""
		s.state.Error = ""
	}
	snapshot := s.bumpLocked()
	s.mu.Unlock()

	if task == nil {
		s.clearPersisted()
	} else {
		s.persist(task)
	}
	s.notify(snapshot)
}

func (s *Store) SetUploadProgress(percent int) {
	percent = types.ClampProgress(percent)

	s.mu.Lock()
	next, changed := s.applyPolicy("upload", s.state.UploadProgress, percent)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.state.UploadProgress = next
	snapshot := s.bumpLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// SetGenerationProgress records one progress event. Under the hold policy a
// lower value keeps the previous maximum while the status text still moves.
func (s *Store) SetGenerationProgress(percent int, status string) {
	percent = types.ClampProgress(percent)

	s.mu.Lock()
	next, progressChanged := s.applyPolicy("generation", s.state.GenerationProgress, percent)
	if !progressChanged && status == s.state.GenerationStatus {
		s.mu.Unlock()
		return
	}
	s.state.GenerationProgress = next
	s.state.GenerationStatus = status
	snapshot := s.bumpLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

func (s *Store) applyPolicy(field string, current, incoming int) (int, bool) {
	if incoming == current {
		return current, false
	}
	if incoming < current && s.policy == types.PROGRESS_POLICY_HOLD {
		slog.Debug("progress regression ignored",
			slog.String("component", "store"),
			slog.String("field", field),
			slog.Int("current", current),
			slog.Int("incoming", incoming))
		return current, false
	}
	return incoming, true
}

// SetError sets the user facing error, an empty message clears it. On a
// failed task the message is kept as its failure reason.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	if s.state.Error == message {
		s.mu.Unlock()
		return
	}
	s.state.Error = message

	var failed *types.Task
	if task := s.state.Task; task != nil && task.Status == types.TASK_STATUS_FAILED && message != "" {
		failed = task.Clone()
		failed.FailureReason = message
		s.state.Task = failed
	}
	snapshot := s.bumpLocked()
	s.mu.Unlock()

	if failed != nil {
		s.persist(failed)
	}
	s.notify(snapshot)
}

// SetTaskStatus moves the current task forward. Terminal statuses are final.
func (s *Store) SetTaskStatus(status types.TaskStatus) error {
	s.mu.Lock()
	task := s.state.Task
	if task == nil {
		s.mu.Unlock()
		return errors.New("store.SetTaskStatus", i18n.ERROR_NO_CURRENT_TASK, nil).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
	}
	if task.Status == status {
		s.mu.Unlock()
		return nil
	}
	if !task.Status.CanTransitionTo(status) {
		from := task.Status
		s.mu.Unlock()
		return errors.New("store.SetTaskStatus", i18n.ERROR_INVALIDARGUMENT, nil).
			Code(http.StatusConflict).
			Kind(errors.KindInvalidArgument).
			WithData(map[string]interface{}{"from": string(from), "to": string(status)})
	}

	next := task.Clone()
	next.Status = status
	s.state.Task = next
	snapshot := s.bumpLocked()
	s.mu.Unlock()

	s.persist(next)
	s.notify(snapshot)
	return nil
}

// Clear drops everything in one step, readers never observe a partial reset.
func (s *Store) Clear() {
	s.mu.Lock()
	s.state = State{Version: s.state.Version + 1}
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.clearPersisted()
	s.notify(snapshot)
}

// Restore loads the persisted task, if any, and makes it current.
func (s *Store) Restore(ctx context.Context) (*types.Task, error) {
	task, err := s.persister.Load(ctx)
	if err != nil {
		return nil, errors.New("store.Restore", i18n.ERROR_INTERNAL, err)
	}
	if task == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.state = State{Task: task.Clone(), Version: s.state.Version + 1}
	switch task.Status {
	case types.TASK_STATUS_COMPLETED:
		s.state.GenerationProgress = types.PROGRESS_MAX
	case types.TASK_STATUS_FAILED:
		s.state.Error = task.FailureReason
	}
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return task, nil
}

// Watch calls fn after every observable change. fn runs on the writer's
// goroutine, possibly while a progress channel holds its lock, so it must
// not call back into a channel. The returned func stops it.
func (s *Store) Watch(fn func(State)) func() {
	s.watchMu.Lock()
	s.watcherSeq++
	id := s.watcherSeq
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) bumpLocked() State {
	s.state.Version++
	return s.state.clone()
}

func (s *Store) notify(snapshot State) {
	s.watchMu.Lock()
	fns := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (s *Store) persist(task *types.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, task); err != nil {
		slog.Error("failed to persist current task",
			slog.String("component", "store"),
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
	}
}

func (s *Store) clearPersisted() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.Clear(ctx); err != nil {
		slog.Error("failed to clear persisted task",
			slog.String("component", "store"),
			slog.String("error", err.Error()))
	}
}
