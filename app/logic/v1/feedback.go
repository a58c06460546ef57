package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
)

type FeedbackLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewFeedbackLogic(ctx context.Context, core *core.Core) *FeedbackLogic {
	return &FeedbackLogic{
		ctx:  ctx,
		core: core,
	}
}

// taskOrCurrent falls back to the current task when taskID is empty.
func (l *FeedbackLogic) taskOrCurrent(taskID, trace string) (string, error) {
	if taskID = strings.TrimSpace(taskID); taskID != "" {
		return taskID, nil
	}
	if task := l.core.Store().CurrentTask(); task != nil {
		return task.ID, nil
	}
	if task, err := l.core.Store().Restore(l.ctx); err == nil && task != nil {
		return task.ID, nil
	}
	return "", errors.New(trace, i18n.ERROR_NO_CURRENT_TASK, nil).Code(http.StatusNotFound).Kind(errors.KindInvalidArgument)
}

func (l *FeedbackLogic) Submit(taskID, feedback string) (*types.FeedbackResponse, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, errors.New("FeedbackLogic.Submit", i18n.MESSAGE_FEEDBACK_EMPTY, nil).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
	}
	taskID, err := l.taskOrCurrent(taskID, "FeedbackLogic.Submit")
	if err != nil {
		return nil, err
	}

	res, err := l.core.Backend().Feedback(l.ctx, taskID, feedback)
	if err != nil {
		return nil, errors.Trace("FeedbackLogic.Submit", err)
	}
	return res, nil
}

func (l *FeedbackLogic) Logs(taskID string) (*types.LLMLogsResponse, error) {
	taskID, err := l.taskOrCurrent(taskID, "FeedbackLogic.Logs")
	if err != nil {
		return nil, err
	}
	res, err := l.core.Backend().LLMLogs(l.ctx, taskID)
	if err != nil {
		return nil, errors.Trace("FeedbackLogic.Logs", err)
	}
	return res, nil
}

func (l *FeedbackLogic) Summary(taskID string) (*types.LLMLogsSummaryResponse, error) {
	taskID, err := l.taskOrCurrent(taskID, "FeedbackLogic.Summary")
	if err != nil {
		return nil, err
	}
	res, err := l.core.Backend().LLMLogsSummary(l.ctx, taskID)
	if err != nil {
		return nil, errors.Trace("FeedbackLogic.Summary", err)
	}
	return res, nil
}
