package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deckforge/deckforge/app/core"
	v1 "github.com/deckforge/deckforge/app/logic/v1"
	"github.com/deckforge/deckforge/app/response"
	"github.com/deckforge/deckforge/app/store"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/safe"
	"github.com/deckforge/deckforge/pkg/socket/progress"
	"github.com/deckforge/deckforge/pkg/utils"
)

type StateResponse struct {
	store.State
	Channel  *ChannelState `json:"channel,omitempty"`
	Channels int           `json:"channels"`
}

type ChannelState struct {
	State      progress.State `json:"state"`
	Attempts   int            `json:"attempts"`
	LastStatus string         `json:"last_status,omitempty"`
}

func (s *HttpSrv) GetState(c *gin.Context) {
	res := StateResponse{
		State:    s.Core.Store().Snapshot(),
		Channels: s.Core.Channels().Count(),
	}
	if res.Task != nil {
		if ch, ok := s.Core.Channels().Get(res.Task.ID); ok {
			res.Channel = &ChannelState{
				State:      ch.State(),
				Attempts:   ch.Attempts(),
				LastStatus: ch.LastStatus(),
			}
		}
	}
	response.APISuccess(c, res)
}

func (s *HttpSrv) ListNotifications(c *gin.Context) {
	response.APISuccess(c, s.Core.Notifications().List())
}

func (s *HttpSrv) DeleteNotification(c *gin.Context) {
	id := c.Param("id")
	if !s.Core.Notifications().Remove(id) {
		response.APIError(c, errors.New("api.DeleteNotification", i18n.ERROR_NOT_FOUND, nil).Code(http.StatusNotFound).Kind(errors.KindNotFound))
		return
	}
	response.APISuccess(c, nil)
}

// RetryConnection restarts following the current task in the background.
func (s *HttpSrv) RetryConnection(c *gin.Context) {
	task := s.Core.Store().CurrentTask()
	if task == nil {
		response.APIError(c, errors.New("api.RetryConnection", i18n.ERROR_NO_CURRENT_TASK, nil).Code(http.StatusNotFound).Kind(errors.KindInvalidArgument))
		return
	}
	// a running follower keeps its loop, only the socket is reopened
	if ch, ok := s.Core.Channels().Get(task.ID); ok && s.Core.Following(task.ID) {
		if err := ch.Retry(); err != nil {
			response.APIError(c, err)
			return
		}
		response.APISuccess(c, task)
		return
	}
	FollowInBackground(s.Core, func(l *v1.GenerationLogic) (*v1.Outcome, error) {
		return l.Retry(nil)
	})
	response.APISuccess(c, task)
}

// FollowInBackground runs fn detached from any request and logs its outcome.
func FollowInBackground(core *core.Core, fn func(l *v1.GenerationLogic) (*v1.Outcome, error)) {
	safe.Go("monitor.follow", func() {
		out, err := fn(v1.NewGenerationLogic(context.Background(), core))
		if err != nil {
			slog.Error("background follow ended with error",
				slog.String("component", "monitor"),
				slog.String("kind", string(errors.KindOf(err))),
				slog.String("error", err.Error()))
			return
		}
		slog.Info("background follow finished",
			slog.String("component", "monitor"),
			slog.String("task_id", out.TaskID),
			slog.String("status", string(out.Status)),
			slog.String("location", out.Location))
	})
}

type FeedbackRequest struct {
	TaskID   string `json:"task_id"`
	Feedback string `json:"feedback" binding:"required"`
}

func (s *HttpSrv) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	res, err := v1.NewFeedbackLogic(c, s.Core).Submit(req.TaskID, req.Feedback)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, res)
}

type LogsRequest struct {
	TaskID  string `form:"task_id"`
	Summary bool   `form:"summary"`
}

func (s *HttpSrv) GetLLMLogs(c *gin.Context) {
	var req LogsRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	logic := v1.NewFeedbackLogic(c, s.Core)
	if req.Summary {
		res, err := logic.Summary(req.TaskID)
		if err != nil {
			response.APIError(c, err)
			return
		}
		response.APISuccess(c, res)
		return
	}

	res, err := logic.Logs(req.TaskID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, res)
}

func (s *HttpSrv) Health(c *gin.Context) {
	if err := s.Core.Backend().Health(c); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, map[string]string{"backend": s.Core.Backend().Origin().String()})
}
