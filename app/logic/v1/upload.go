package v1

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/pkg/backend"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
)

const maxDerivedTopicLength = 80

type SubmitRequest struct {
	PageCount   int
	Input       types.TaskInput
	Topic       string
	Audience    string
	Style       string
	UserContext string
	// GenerateTopicContent defaults to true when nil.
	GenerateTopicContent *bool
	// TemplatePath is an optional pptx style template.
	TemplatePath string
}

type UploadLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewUploadLogic(ctx context.Context, core *core.Core) *UploadLogic {
	return &UploadLogic{
		ctx:  ctx,
		core: core,
	}
}

func (l *UploadLogic) Validate(req SubmitRequest) error {
	if err := req.Input.Validate(); err != nil {
		return errors.New("UploadLogic.Validate.Input", i18n.ERROR_NO_CONTENT_SOURCE, err).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
	}

	task := l.core.Cfg().Task
	if req.PageCount < task.MinPages || req.PageCount > task.MaxPages {
		return errors.New("UploadLogic.Validate.PageCount", i18n.ERROR_PAGE_COUNT_RANGE, nil).
			Code(http.StatusBadRequest).
			Kind(errors.KindInvalidArgument).
			WithData(map[string]interface{}{"min": task.MinPages, "max": task.MaxPages})
	}
	return nil
}

// Submit uploads the request and returns the backend task id. onProgress
// receives each upload percentage once, in increasing order, ending at 100.
func (l *UploadLogic) Submit(req SubmitRequest, onProgress func(int)) (string, error) {
	if err := l.Validate(req); err != nil {
		return "", err
	}

	if !l.core.Cfg().Backend.SkipHealthCheck {
		if err := l.core.Backend().Health(l.ctx); err != nil {
			l.core.Metrics().UploadErrorInc(string(errors.KindOf(err)))
			return "", errors.Trace("UploadLogic.Submit.Health", err)
		}
	}

	form, err := l.buildForm(req)
	if err != nil {
		return "", err
	}

	timer := l.core.Metrics().UploadTimer()
	defer timer.ObserveDuration()

	taskID, err := l.core.Backend().Upload(l.ctx, form, onProgress)
	if err != nil {
		l.core.Metrics().UploadErrorInc(string(errors.KindOf(err)))
		return "", errors.Trace("UploadLogic.Submit.Upload", err)
	}
	return taskID, nil
}

func (l *UploadLogic) buildForm(req SubmitRequest) (*backend.UploadForm, error) {
	generate := true
	if req.GenerateTopicContent != nil {
		generate = *req.GenerateTopicContent
	}

	form := backend.NewUploadForm().
		AddField(backend.FIELD_NUMBER_OF_PAGES, strconv.Itoa(req.PageCount)).
		AddField(backend.FIELD_TOPIC, topicOf(req)).
		AddOptionalField(backend.FIELD_TARGET_AUDIENCE, req.Audience).
		AddOptionalField(backend.FIELD_PRESENTATION_STYLE, req.Style).
		AddOptionalField(backend.FIELD_USER_CONTEXT, req.UserContext).
		AddField(backend.FIELD_GENERATE_TOPIC_CONTENT, backend.FormatBool(generate))

	switch req.Input.Kind {
	case types.INPUT_KIND_BINARY_DOCUMENT:
		part, err := backend.FileFromPath(backend.FIELD_PDF_FILE, req.Input.Document.Path)
		if err != nil {
			return nil, errors.New("UploadLogic.buildForm.Document", i18n.ERROR_INVALIDARGUMENT, err).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
		}
		form.AddFile(part)
	case types.INPUT_KIND_TEXT_DOCUMENT:
		part, err := backend.FileFromPath(backend.FIELD_TEXT_FILE, req.Input.Document.Path)
		if err != nil {
			return nil, errors.New("UploadLogic.buildForm.Document", i18n.ERROR_INVALIDARGUMENT, err).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
		}
		form.AddFile(part)
	case types.INPUT_KIND_INLINE_TEXT:
		form.AddField(backend.FIELD_USER_INPUT, req.Input.Text)
	}

	if req.TemplatePath != "" {
		part, err := backend.FileFromPath(backend.FIELD_TEMPLATE_FILE, req.TemplatePath)
		if err != nil {
			return nil, errors.New("UploadLogic.buildForm.Template", i18n.ERROR_INVALIDARGUMENT, err).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
		}
		form.AddFile(part)
	}
	return form, nil
}

// topicOf falls back to the document name or the first line of the text,
// the service rejects submissions without a topic.
func topicOf(req SubmitRequest) string {
	if topic := strings.TrimSpace(req.Topic); topic != "" {
		return topic
	}
	if req.Input.Document != nil {
		name := req.Input.Document.Name
		if name == "" {
			name = filepath.Base(req.Input.Document.Path)
		}
		return strings.TrimSuffix(name, filepath.Ext(name))
	}

	line := strings.TrimSpace(req.Input.Text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if r := []rune(line); len(r) > maxDerivedTopicLength {
		line = string(r[:maxDerivedTopicLength])
	}
	return line
}
