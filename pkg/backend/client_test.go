package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/types"
)

func newTestClient(t *testing.T, srv *httptest.Server, opts ...func(*Options)) *Client {
	t.Helper()
	o := Options{Origin: srv.URL}
	for _, fn := range opts {
		fn(&o)
	}
	cli, err := NewClient(o)
	require.NoError(t, err)
	return cli
}

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestParseOrigin(t *testing.T) {
	u, err := ParseOrigin("https://slides.example.com/app/index.html?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://slides.example.com", u.String())

	_, err = ParseOrigin("ftp://example.com")
	assert.True(t, errors.Is(err, errors.KindInvalidArgument))

	_, err = ParseOrigin("")
	assert.Error(t, err)
}

func TestUpload_Success(t *testing.T) {
	pdf := bytes.Repeat([]byte("%PDF-1.7 "), 20000)
	path := writeTempFile(t, "report.pdf", pdf)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PATH_UPLOAD, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, r.ContentLength, int64(len(raw)))

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		form, err := multipart.NewReader(bytes.NewReader(raw), params["boundary"]).ReadForm(1 << 20)
		require.NoError(t, err)

		assert.Equal(t, []string{"10"}, form.Value[FIELD_NUMBER_OF_PAGES])
		assert.Equal(t, []string{"Quarterly review"}, form.Value[FIELD_TOPIC])
		assert.NotContains(t, form.Value, FIELD_TARGET_AUDIENCE)
		require.Len(t, form.File[FIELD_PDF_FILE], 1)
		fh := form.File[FIELD_PDF_FILE][0]
		assert.Equal(t, "report.pdf", fh.Filename)
		assert.Equal(t, "application/pdf", fh.Header.Get("Content-Type"))
		f, err := fh.Open()
		require.NoError(t, err)
		got, _ := io.ReadAll(f)
		assert.Equal(t, pdf, got)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"task_id":"2025-01-02|abc123"}`))
	}))
	defer srv.Close()

	part, err := FileFromPath(FIELD_PDF_FILE, path)
	require.NoError(t, err)
	form := NewUploadForm().
		AddField(FIELD_NUMBER_OF_PAGES, "10").
		AddOptionalField(FIELD_TOPIC, "Quarterly review").
		AddOptionalField(FIELD_TARGET_AUDIENCE, "  ").
		AddFile(part)

	var mu sync.Mutex
	var seen []int
	id, err := newTestClient(t, srv).Upload(context.Background(), form, func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02|abc123", id)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 0, seen[0])
	assert.Equal(t, 100, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "progress must strictly increase")
	}
}

func TestUpload_StatusClassification(t *testing.T) {
	cases := []struct {
		status  int
		body    string
		kind    errors.Kind
		message string
	}{
		{http.StatusBadRequest, `{"detail":"numberOfPages is required"}`, errors.KindBadRequest, "numberOfPages is required"},
		{http.StatusNotFound, `{"detail":"Task not found"}`, errors.KindNotFound, "Task not found"},
		{http.StatusInternalServerError, `{"message":"generation backend crashed"}`, errors.KindServer, "generation backend crashed"},
		{http.StatusBadGateway, `upstream unavailable`, errors.KindServer, "upstream unavailable"},
		{http.StatusForbidden, ``, errors.KindOther, "Forbidden"},
		{http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","topic"],"msg":"field required"}]}`, errors.KindOther, `[{"loc":["body","topic"],"msg":"field required"}]`},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).Upload(context.Background(), NewUploadForm().AddField(FIELD_USER_INPUT, "hello"), nil)
			require.Error(t, err)

			var ce *errors.CustomizedError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.kind, ce.GetKind())
			assert.Equal(t, tc.status, ce.GetCode())
			assert.Equal(t, tc.message, ce.Data()["message"])
		})
	}
}

func TestUpload_Connectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cli := newTestClient(t, srv)
	srv.Close()

	_, err := cli.Upload(context.Background(), NewUploadForm().AddField(FIELD_USER_INPUT, "hello"), nil)
	assert.True(t, errors.Is(err, errors.KindConnectivity), "got %v", err)
}

func TestUpload_TimeoutIsConnectivity(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cli := newTestClient(t, srv, func(o *Options) { o.UploadTimeout = 50 * time.Millisecond })
	_, err := cli.Upload(context.Background(), NewUploadForm().AddField(FIELD_USER_INPUT, "hello"), nil)
	assert.True(t, errors.Is(err, errors.KindConnectivity), "got %v", err)
}

func TestUpload_EmptyTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"task_id":""}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Upload(context.Background(), NewUploadForm().AddField(FIELD_USER_INPUT, "x"), nil)
	assert.True(t, errors.Is(err, errors.KindMalformedMessage))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PATH_DOWNLOAD, r.URL.Path)
		assert.Equal(t, "2025-01-02|abc", r.URL.Query().Get(QUERY_TASK_ID_KEY))
		w.Header().Set("Content-Type", "application/pptx")
		w.Header().Set("Content-Disposition", "attachment; filename=pptagent.pptx")
		w.Write([]byte("PK-artifact"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	art, err := newTestClient(t, srv).Download(context.Background(), "2025-01-02|abc", &buf)
	require.NoError(t, err)
	assert.Equal(t, "PK-artifact", buf.String())
	assert.Equal(t, "pptagent.pptx", art.Filename)
	assert.Equal(t, int64(len("PK-artifact")), art.Size)
}

func TestDownload_NotFinished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Task not finished yet"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Download(context.Background(), "x", io.Discard)
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, DefaultArtifactName, attachmentName(""))
	assert.Equal(t, "deck.pptx", attachmentName(`attachment; filename="../../deck.pptx"`))
	assert.Equal(t, DefaultArtifactName, attachmentName("garbage;;;"))
}

func TestFeedback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.FeedbackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "great slides", req.Feedback)
		assert.Equal(t, "abc", req.TaskID)
		w.Write([]byte(`{"message":"Feedback submitted successfully","filename":"abc_20250102_101010.txt"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv).Feedback(context.Background(), "abc", "great slides")
	require.NoError(t, err)
	assert.Equal(t, "abc_20250102_101010.txt", resp.Filename)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PATH_HEALTH, r.URL.Path)
		w.Write([]byte(`{"message":"Hello, World!"}`))
	}))
	cli := newTestClient(t, srv)
	assert.NoError(t, cli.Health(context.Background()))

	srv.Close()
	assert.True(t, errors.Is(cli.Health(context.Background()), errors.KindConnectivity))
}

func TestHealth_ShortTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cli := newTestClient(t, srv, func(o *Options) { o.HealthTimeout = 30 * time.Millisecond })
	start := time.Now()
	err := cli.Health(context.Background())
	assert.True(t, errors.Is(err, errors.KindConnectivity))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLLMLogs_EscapesTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, LLM_LOGS_SUMMARY) {
			assert.Equal(t, "/api/llm-logs/2025-01-02%2Fabc/summary", r.URL.EscapedPath())
			w.Write([]byte(`{"task_id":"2025-01-02/abc","summary":{"total_requests":3,"successful_requests":2,"failed_requests":1,"stages":{"ppt_parsing":2,"pdf_parsing":1},"model_types":{"language":3},"total_duration_ms":1500.5,"total_tokens":900}}`))
			return
		}
		assert.Equal(t, "/api/llm-logs/2025-01-02%2Fabc", r.URL.EscapedPath())
		w.Write([]byte(`{"task_id":"2025-01-02/abc","logs":[{"request_id":"r1","stage":"ppt_parsing","model_type":"language","status":"success","duration_ms":500}],"total_count":1}`))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv)
	logs, err := cli.LLMLogs(context.Background(), "2025-01-02/abc")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.TotalCount)
	assert.Equal(t, "ppt_parsing", logs.Logs[0].Stage)

	summary, err := cli.LLMLogsSummary(context.Background(), "2025-01-02/abc")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Summary.TotalRequests)
	assert.Equal(t, 2, summary.Summary.Stages["ppt_parsing"])
	assert.Equal(t, int64(900), summary.Summary.TotalTokens)
}
