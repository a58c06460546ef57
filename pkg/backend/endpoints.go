package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
)

const DefaultArtifactName = "presentation.pptx"

// Health probes the service with a short timeout so a submission can fail
// fast when the backend is down.
func (c *Client) Health(ctx context.Context) error {
	const trace = "backend.Health"
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, PATH_HEALTH, nil, nil)
	if err != nil {
		return errors.Trace(trace, err)
	}
	resp, err := c.do(c.client, req, trace)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Artifact describes a downloaded file.
type Artifact struct {
	Filename    string
	ContentType string
	Size        int64
}

// Download streams the finished artifact of taskID into w.
func (c *Client) Download(ctx context.Context, taskID string, w io.Writer) (Artifact, error) {
	const trace = "backend.Download"
	req, err := c.newRequest(ctx, http.MethodGet, PATH_DOWNLOAD, url.Values{QUERY_TASK_ID_KEY: {taskID}}, nil)
	if err != nil {
		return Artifact{}, errors.Trace(trace, err)
	}
	resp, err := c.do(c.uploadClient, req, trace)
	if err != nil {
		return Artifact{}, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return Artifact{}, transportError(trace, err)
	}
	return Artifact{
		Filename:    attachmentName(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        n,
	}, nil
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return DefaultArtifactName
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil || params["filename"] == "" {
		return DefaultArtifactName
	}
	return filepath.Base(params["filename"])
}

// Feedback posts free text feedback about a finished task.
func (c *Client) Feedback(ctx context.Context, taskID, feedback string) (*types.FeedbackResponse, error) {
	const trace = "backend.Feedback"
	raw, err := json.Marshal(types.FeedbackRequest{Feedback: feedback, TaskID: taskID})
	if err != nil {
		return nil, errors.New(trace, i18n.ERROR_INTERNAL, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, PATH_FEEDBACK, nil, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Trace(trace, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(c.client, req, trace)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result types.FeedbackResponse
	if err := decodeJSON(resp.Body, &result, trace); err != nil {
		return nil, err
	}
	return &result, nil
}

// LLMLogs lists the model requests the backend made for taskID.
func (c *Client) LLMLogs(ctx context.Context, taskID string) (*types.LLMLogsResponse, error) {
	var result types.LLMLogsResponse
	if err := c.getJSON(ctx, PATH_LLM_LOGS+url.PathEscape(taskID), nil, &result, "backend.LLMLogs"); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) LLMLogsSummary(ctx context.Context, taskID string) (*types.LLMLogsSummaryResponse, error) {
	var result types.LLMLogsSummaryResponse
	if err := c.getJSON(ctx, PATH_LLM_LOGS+url.PathEscape(taskID)+LLM_LOGS_SUMMARY, nil, &result, "backend.LLMLogsSummary"); err != nil {
		return nil, err
	}
	return &result, nil
}
