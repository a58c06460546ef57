package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	TASK_STATUS_UPLOADING  TaskStatus = "uploading"
	TASK_STATUS_PROCESSING TaskStatus = "processing"
	TASK_STATUS_COMPLETED  TaskStatus = "completed"
	TASK_STATUS_FAILED     TaskStatus = "failed"
)

func (s TaskStatus) rank() int {
	switch s {
	case TASK_STATUS_UPLOADING:
		return 0
	case TASK_STATUS_PROCESSING:
		return 1
	case TASK_STATUS_COMPLETED, TASK_STATUS_FAILED:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further progress is expected.
func (s TaskStatus) IsTerminal() bool {
	return s == TASK_STATUS_COMPLETED || s == TASK_STATUS_FAILED
}

func (s TaskStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next keeps the status
// monotonic. Terminal statuses never change, re-applying the current status
// is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

type InputKind string

const (
	INPUT_KIND_BINARY_DOCUMENT InputKind = "binary_document"
	INPUT_KIND_TEXT_DOCUMENT   InputKind = "text_document"
	INPUT_KIND_INLINE_TEXT     InputKind = "inline_text"
)

// DocumentRef points at a local file selected by the user.
type DocumentRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// TaskInput is the content source of a task. Exactly one of Document or
// Text is populated, matching Kind.
type TaskInput struct {
	Kind     InputKind    `json:"kind"`
	Document *DocumentRef `json:"document,omitempty"`
	Text     string       `json:"text,omitempty"`
}

var (
	ErrNoContentSource       = errors.New("no content source provided")
	ErrMultipleContentSource = errors.New("more than one content source provided")
)

func BinaryDocumentInput(doc DocumentRef) TaskInput {
	return TaskInput{Kind: INPUT_KIND_BINARY_DOCUMENT, Document: &doc}
}

func TextDocumentInput(doc DocumentRef) TaskInput {
	return TaskInput{Kind: INPUT_KIND_TEXT_DOCUMENT, Document: &doc}
}

func InlineTextInput(text string) TaskInput {
	return TaskInput{Kind: INPUT_KIND_INLINE_TEXT, Text: text}
}

func (i TaskInput) Validate() error {
	hasDoc := i.Document != nil
	hasText := strings.TrimSpace(i.Text) != ""
	switch {
	case !hasDoc && !hasText:
		return ErrNoContentSource
	case hasDoc && hasText:
		return ErrMultipleContentSource
	}

	switch i.Kind {
	case INPUT_KIND_BINARY_DOCUMENT, INPUT_KIND_TEXT_DOCUMENT:
		if !hasDoc {
			return fmt.Errorf("input kind %s requires a document", i.Kind)
		}
		if i.Document.Path == "" {
			return fmt.Errorf("input kind %s requires a document path", i.Kind)
		}
	case INPUT_KIND_INLINE_TEXT:
		if !hasText {
			return fmt.Errorf("input kind %s requires text", i.Kind)
		}
	default:
		return fmt.Errorf("unknown input kind %q", i.Kind)
	}
	return nil
}

// Task identifies one generation job.
type Task struct {
	ID                 string     `json:"id"`
	RequestedPageCount int        `json:"requested_page_count"`
	Input              TaskInput  `json:"input"`
	Topic              string     `json:"topic,omitempty"`
	Audience           string     `json:"audience,omitempty"`
	Style              string     `json:"style,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	Status             TaskStatus `json:"status"`
	// FailureReason is the backend's status text of a failed task.
	FailureReason string `json:"failure_reason,omitempty"`
}

// NewTask builds a task for an id just returned by the backend.
func NewTask(id string, pageCount int, input TaskInput) *Task {
	return &Task{
		ID:                 id,
		RequestedPageCount: pageCount,
		Input:              input,
		CreatedAt:          time.Now(),
		Status:             TASK_STATUS_UPLOADING,
	}
}

func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Input.Document != nil {
		doc := *t.Input.Document
		c.Input.Document = &doc
	}
	return &c
}
