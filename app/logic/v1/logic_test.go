package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/pkg/scheduler"
	"github.com/deckforge/deckforge/pkg/types"
)

type uploadRecord struct {
	fields map[string]string
	files  map[string]string
}

// fakeBackend serves the generation service endpoints from memory.
type fakeBackend struct {
	mu        sync.Mutex
	taskID    string
	healthy   bool
	frames    []string
	closeCode int
	uploads   []uploadRecord
	downloads []string
	wsPaths   []string
	feedback  []types.FeedbackRequest

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	fb := &fakeBackend{
		taskID:    "2025-01-02/abc",
		healthy:   true,
		closeCode: websocket.CloseNormalClosure,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", fb.handleAPI)
	mux.HandleFunc("/api/upload", fb.handleUpload)
	mux.HandleFunc("/api/download", fb.handleDownload)
	mux.HandleFunc("/api/feedback", fb.handleFeedback)
	mux.HandleFunc("/wsapi/", fb.handleStream)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) setFrames(frames ...string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.frames = frames
}

func (fb *fakeBackend) setHealthy(ok bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.healthy = ok
}

func (fb *fakeBackend) downloadCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.downloads)
}

func (fb *fakeBackend) uploadRecords() []uploadRecord {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]uploadRecord(nil), fb.uploads...)
}

func (fb *fakeBackend) streamPaths() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.wsPaths...)
}

func (fb *fakeBackend) downloadIDs() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.downloads...)
}

func (fb *fakeBackend) feedbackRequests() []types.FeedbackRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]types.FeedbackRequest(nil), fb.feedback...)
}

func (fb *fakeBackend) handleAPI(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/":
		fb.mu.Lock()
		healthy := fb.healthy
		fb.mu.Unlock()
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"detail": "down"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	case strings.HasSuffix(r.URL.Path, "/summary"):
		json.NewEncoder(w).Encode(types.LLMLogsSummaryResponse{
			TaskID:  fb.taskID,
			Summary: types.LLMLogsSummary{TotalRequests: 3, SuccessfulRequests: 2, FailedRequests: 1},
		})
	case strings.HasPrefix(r.URL.Path, "/api/llm-logs/"):
		json.NewEncoder(w).Encode(types.LLMLogsResponse{
			TaskID:     strings.TrimPrefix(r.URL.Path, "/api/llm-logs/"),
			Logs:       []types.LLMLog{{RequestID: "r1", Stage: "outline", Status: "success"}},
			TotalCount: 1,
		})
	default:
		http.NotFound(w, r)
	}
}

func (fb *fakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
		return
	}
	rec := uploadRecord{fields: map[string]string{}, files: map[string]string{}}
	for k, v := range r.MultipartForm.Value {
		rec.fields[k] = v[0]
	}
	for k, v := range r.MultipartForm.File {
		rec.files[k] = v[0].Filename
	}

	fb.mu.Lock()
	fb.uploads = append(fb.uploads, rec)
	taskID := fb.taskID
	fb.mu.Unlock()

	json.NewEncoder(w).Encode(types.UploadResponse{TaskID: taskID})
}

func (fb *fakeBackend) handleDownload(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	fb.downloads = append(fb.downloads, r.URL.Query().Get("task_id"))
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
	w.Header().Set("Content-Disposition", `attachment; filename="deck.pptx"`)
	fmt.Fprint(w, "PPTX-BYTES")
}

func (fb *fakeBackend) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req types.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	fb.feedback = append(fb.feedback, req)
	fb.mu.Unlock()
	json.NewEncoder(w).Encode(types.FeedbackResponse{Message: "Thanks", Filename: "feedback.txt"})
}

func (fb *fakeBackend) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fb.mu.Lock()
	fb.wsPaths = append(fb.wsPaths, r.URL.EscapedPath())
	frames := append([]string(nil), fb.frames...)
	code := fb.closeCode
	fb.mu.Unlock()

	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	if code > 0 {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestCore(t *testing.T, fb *fakeBackend, opts ...core.Option) *core.Core {
	cfg := core.LoadBaseConfigFromENV()
	cfg.Lang = "en"
	cfg.Backend.Origin = fb.srv.URL
	cfg.Persist.Driver = core.PERSIST_DRIVER_FILE
	cfg.Persist.Path = filepath.Join(t.TempDir(), "task.json")
	cfg.Artifact.Driver = core.ARTIFACT_DRIVER_FILE
	cfg.Artifact.Dir = t.TempDir()

	opts = append([]core.Option{core.WithScheduler(scheduler.NewManual())}, opts...)
	c, err := core.SetupCore(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// percentLog collects upload percentages reported from transport goroutines.
type percentLog struct {
	mu   sync.Mutex
	seen []int
}

func (l *percentLog) add(p int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, p)
}

func (l *percentLog) values() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.seen...)
}

func writeTempFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func notificationMessages(c *core.Core) []string {
	var out []string
	for _, n := range c.Notifications().List() {
		out = append(out, n.Message)
	}
	return out
}
