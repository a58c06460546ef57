package v1

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/pkg/artifact"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/notify"
	"github.com/deckforge/deckforge/pkg/socket/progress"
	"github.com/deckforge/deckforge/pkg/types"
)

// Outcome is how a followed task ended from the client's point of view.
type Outcome struct {
	TaskID string           `json:"task_id"`
	Status types.TaskStatus `json:"status"`
	// Location is where the artifact was saved, empty unless completed.
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

type GenerationLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewGenerationLogic(ctx context.Context, core *core.Core) *GenerationLogic {
	return &GenerationLogic{
		ctx:  ctx,
		core: core,
	}
}

// Start uploads a new task, makes it current and follows it to the end.
// A task that is still running is abandoned first.
func (l *GenerationLogic) Start(req SubmitRequest, onUpload func(int), onEvent func(progress.Event)) (*Outcome, error) {
	if err := NewUploadLogic(l.ctx, l.core).Validate(req); err != nil {
		return nil, err
	}

	st := l.core.Store()
	if prev := st.CurrentTask(); prev != nil {
		l.core.Channels().Close(prev.ID)
	}
	st.Clear()

	taskID, err := NewUploadLogic(l.ctx, l.core).Submit(req, func(percent int) {
		st.SetUploadProgress(percent)
		if onUpload != nil {
			onUpload(percent)
		}
	})
	if err != nil {
		l.surface(err)
		return nil, err
	}

	task := types.NewTask(taskID, req.PageCount, req.Input)
	task.Topic = req.Topic
	task.Audience = req.Audience
	task.Style = req.Style
	st.SetCurrentTask(task)
	st.SetUploadProgress(types.PROGRESS_MAX)

	slog.Info("task submitted",
		slog.String("component", "generation"),
		slog.String("task_id", taskID),
		slog.Int("pages", req.PageCount),
		slog.String("input", string(req.Input.Kind)))

	return l.Follow(taskID, onEvent)
}

// Follow opens the progress channel of taskID and blocks until the session
// ends or the context is cancelled. A completed task is downloaded once,
// a task has at most one follower at a time.
func (l *GenerationLogic) Follow(taskID string, onEvent func(progress.Event)) (*Outcome, error) {
	release, ok := l.core.ClaimTask(taskID)
	if !ok {
		return nil, errors.New("GenerationLogic.Follow", i18n.ERROR_TASK_FOLLOWED, nil).Code(http.StatusConflict).Kind(errors.KindInvalidArgument)
	}
	defer release()

	ch := l.core.Channels().Acquire(taskID)
	// subscribe before connecting so no early event is missed
	sub := ch.Subscribe()
	defer sub.Cancel()

	if err := ch.Connect(taskID); err != nil {
		l.core.Channels().Close(taskID)
		return nil, errors.Trace("GenerationLogic.Follow.Connect", err)
	}

	for {
		select {
		case <-l.ctx.Done():
			ch.Disconnect()
			return nil, errors.New("GenerationLogic.Follow", i18n.ERROR_INTERNAL, l.ctx.Err())
		case ev, ok := <-sub.C:
			if !ok {
				return l.stopped(taskID, ch.LastStatus()), nil
			}
			if onEvent != nil {
				onEvent(ev)
			}

			switch ev.Kind {
			case progress.EVENT_COMPLETED:
				location, err := l.Download(taskID)
				if err != nil {
					return nil, err
				}
				return &Outcome{
					TaskID:   taskID,
					Status:   types.TASK_STATUS_COMPLETED,
					Location: location,
					Message:  ev.Progress.Status,
				}, nil
			case progress.EVENT_JOB_FAILED:
				return &Outcome{
					TaskID:  taskID,
					Status:  types.TASK_STATUS_FAILED,
					Message: ev.Message,
				}, ev.Err
			case progress.EVENT_EXHAUSTED:
				return nil, ev.Err
			case progress.EVENT_CLOSED:
				return l.stopped(taskID, ev.Message), nil
			}
		}
	}
}

// stopped reports a stream that ended without a terminal frame.
func (l *GenerationLogic) stopped(taskID, lastStatus string) *Outcome {
	l.core.Notifier().Add(types.NOTIFICATION_WARNING, l.core.I18n().Get(l.core.Lang(), i18n.MESSAGE_STREAM_CLOSED))

	status := types.TASK_STATUS_PROCESSING
	if task := l.core.Store().CurrentTask(); task != nil && task.ID == taskID {
		status = task.Status
	}
	return &Outcome{
		TaskID:  taskID,
		Status:  status,
		Message: lastStatus,
	}
}

// Resume restores the persisted task and follows it. A finished task is
// reported as is, its artifact is not fetched again.
func (l *GenerationLogic) Resume(onEvent func(progress.Event)) (*Outcome, error) {
	task, err := l.core.Store().Restore(l.ctx)
	if err != nil {
		return nil, errors.Trace("GenerationLogic.Resume", err)
	}
	if task == nil {
		return nil, errors.New("GenerationLogic.Resume", i18n.ERROR_NO_CURRENT_TASK, nil).Code(http.StatusNotFound).Kind(errors.KindInvalidArgument)
	}

	switch task.Status {
	case types.TASK_STATUS_COMPLETED:
		return &Outcome{TaskID: task.ID, Status: task.Status}, nil
	case types.TASK_STATUS_FAILED:
		// tasks saved before the reason was kept have none
		err := errors.New("GenerationLogic.Resume", i18n.MESSAGE_JOB_FAILED, nil).Kind(errors.KindJobFailed)
		if task.FailureReason != "" {
			err = errors.New("GenerationLogic.Resume", i18n.ERROR_JOB_FAILED, nil).
				Kind(errors.KindJobFailed).
				WithData(map[string]interface{}{"message": task.FailureReason})
		}
		return &Outcome{TaskID: task.ID, Status: task.Status, Message: task.FailureReason}, err
	}

	slog.Info("resuming task",
		slog.String("component", "generation"),
		slog.String("task_id", task.ID),
		slog.String("status", string(task.Status)))
	return l.Follow(task.ID, onEvent)
}

// Retry reconnects the progress channel of the current task after it gave up.
func (l *GenerationLogic) Retry(onEvent func(progress.Event)) (*Outcome, error) {
	task := l.core.Store().CurrentTask()
	if task == nil {
		return nil, errors.New("GenerationLogic.Retry", i18n.ERROR_NO_CURRENT_TASK, nil).Code(http.StatusNotFound).Kind(errors.KindInvalidArgument)
	}
	l.core.Store().SetError("")
	return l.Follow(task.ID, onEvent)
}

// Restart forgets the current task so a new one can be submitted.
func (l *GenerationLogic) Restart() {
	l.core.Channels().CloseAll()
	l.core.Store().Clear()
	l.core.Notifications().Clear()
}

// Download fetches the artifact of taskID into the configured sink and
// returns its location.
func (l *GenerationLogic) Download(taskID string) (string, error) {
	location, err := l.download(taskID)
	if err != nil {
		l.surface(err)
		return "", err
	}
	l.core.Notifier().Add(types.NOTIFICATION_SUCCESS, l.core.I18n().GetWithData(l.core.Lang(), i18n.MESSAGE_ARTIFACT_SAVED, map[string]interface{}{
		"location": location,
	}))
	return location, nil
}

func (l *GenerationLogic) download(taskID string) (string, error) {
	timer := l.core.Metrics().DownloadTimer()
	defer timer.ObserveDuration()

	tmp, err := os.CreateTemp("", "deckforge-*.download")
	if err != nil {
		return "", errors.New("GenerationLogic.Download.CreateTemp", i18n.ERROR_INTERNAL, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	art, err := l.core.Backend().Download(l.ctx, taskID, tmp)
	if err != nil {
		return "", errors.Trace("GenerationLogic.Download", err)
	}
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return "", errors.New("GenerationLogic.Download.Seek", i18n.ERROR_INTERNAL, err)
	}

	location, err := l.core.Sink().Save(l.ctx, artifact.Object{
		TaskID:      taskID,
		Filename:    art.Filename,
		ContentType: art.ContentType,
		Size:        art.Size,
	}, tmp)
	if err != nil {
		return "", errors.New("GenerationLogic.Download.Save", i18n.ERROR_INTERNAL, err)
	}

	slog.Info("artifact saved",
		slog.String("component", "generation"),
		slog.String("task_id", taskID),
		slog.String("location", location),
		slog.Int64("size", art.Size))
	return location, nil
}

// surface records err on the store and raises a persistent notification.
func (l *GenerationLogic) surface(err error) {
	message := errors.Describe(l.core.I18n(), l.core.Lang(), err)
	l.core.Store().SetError(message)
	l.core.Notifier().Add(types.NOTIFICATION_ERROR, message, notify.Persistent())
	slog.Error("task lifecycle failed",
		slog.String("component", "generation"),
		slog.String("kind", string(errors.KindOf(err))),
		slog.String("error", err.Error()))
}
