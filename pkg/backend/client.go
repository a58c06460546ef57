// Package backend talks to the generation service over HTTP: submission,
// artifact download, feedback, health and llm request logs.
package backend

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTimeout  = 5 * time.Minute
	DefaultHealthTimeout  = 5 * time.Second

	userAgent = "deckforge-client/1.0"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

const (
	PATH_UPLOAD       = "/api/upload"
	PATH_DOWNLOAD     = "/api/download"
	PATH_FEEDBACK     = "/api/feedback"
	PATH_HEALTH       = "/api/"
	PATH_LLM_LOGS     = "/api/llm-logs/"
	LLM_LOGS_SUMMARY  = "/summary"
	QUERY_TASK_ID_KEY = "task_id"
)

type Options struct {
	// Origin is the scheme and host the generation service is served from,
	// e.g. https://slides.example.com.
	Origin         string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	HealthTimeout  time.Duration
	Transport      http.RoundTripper
}

type Client struct {
	origin        *url.URL
	client        *http.Client
	uploadClient  *http.Client
	healthTimeout time.Duration
}

func NewClient(opts Options) (*Client, error) {
	origin, err := ParseOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	return &Client{
		origin:        origin,
		client:        &http.Client{Timeout: opts.RequestTimeout, Transport: opts.Transport},
		uploadClient:  &http.Client{Timeout: opts.UploadTimeout, Transport: opts.Transport},
		healthTimeout: opts.HealthTimeout,
	}, nil
}

// ParseOrigin validates an http(s) origin and strips anything past the host.
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.New("backend.ParseOrigin", i18n.ERROR_INVALIDARGUMENT, err).Kind(errors.KindInvalidArgument).Code(http.StatusBadRequest)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("backend.ParseOrigin", i18n.ERROR_INVALIDARGUMENT, fmt.Errorf("invalid origin %q", raw)).Kind(errors.KindInvalidArgument).Code(http.StatusBadRequest)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

func (c *Client) Origin() *url.URL {
	o := *c.origin
	return &o
}

// endpoint joins an already escaped path onto the origin.
func (c *Client) endpoint(escapedPath string, query url.Values) string {
	u := c.Origin()
	if p, err := url.PathUnescape(escapedPath); err == nil {
		u.Path = p
		u.RawPath = escapedPath
	} else {
		u.Path = escapedPath
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, errors.New("backend.newRequest", i18n.ERROR_INTERNAL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// do sends req and turns transport failures and non 2xx statuses into
// classified errors. The caller owns the returned body.
func (c *Client) do(cli *http.Client, req *http.Request, trace string) (*http.Response, error) {
	resp, err := cli.Do(req)
	if err != nil {
		return nil, transportError(trace, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(trace, resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any, trace string) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return errors.Trace(trace, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(c.client, req, trace)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body, out, trace)
}

func decodeJSON(r io.Reader, out any, trace string) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return errors.New(trace, i18n.ERROR_MALFORMED_MESSAGE, err).Kind(errors.KindMalformedMessage)
	}
	return nil
}

// transportError classifies a request that got no response at all.
func transportError(trace string, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return errors.New(trace, i18n.ERROR_INTERNAL, err)
	}
	return errors.New(trace, i18n.ERROR_CONNECTIVITY, err).Kind(errors.KindConnectivity).Code(http.StatusServiceUnavailable)
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// statusError builds an error carrying the server supplied message and code.
func statusError(trace string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := serverMessage(raw)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	kind := errors.KindFromStatus(resp.StatusCode)
	return errors.New(trace, errors.MessageIDForKind(kind), fmt.Errorf("status %d: %s", resp.StatusCode, message)).
		Code(resp.StatusCode).
		Kind(kind).
		WithData(map[string]interface{}{
			"code":    resp.StatusCode,
			"message": message,
		})
}

func serverMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Detail) > 0 {
			var s string
			if err := json.Unmarshal(body.Detail, &s); err == nil {
				return s
			}
			return string(body.Detail)
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
