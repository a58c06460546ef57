package backend

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
)

// Multipart field names understood by the upload endpoint.
const (
	FIELD_NUMBER_OF_PAGES        = "numberOfPages"
	FIELD_TOPIC                  = "topic"
	FIELD_TARGET_AUDIENCE        = "targetAudience"
	FIELD_PRESENTATION_STYLE     = "presentationStyle"
	FIELD_USER_CONTEXT           = "userContext"
	FIELD_GENERATE_TOPIC_CONTENT = "generateTopicContent"
	FIELD_USER_INPUT             = "userInput"
	FIELD_PDF_FILE               = "pdfFile"
	FIELD_TEXT_FILE              = "textFile"
	FIELD_TEMPLATE_FILE          = "pptxFile"
)

// FilePart is a file streamed into the multipart body. Open is called once
// while the body is written.
type FilePart struct {
	Field    string
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// FileFromPath stats path and returns a part reading it.
func FileFromPath(field, path string) (FilePart, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FilePart{}, err
	}
	if info.IsDir() {
		return FilePart{}, fmt.Errorf("%s is a directory", path)
	}
	return FilePart{
		Field:    field,
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

type formField struct {
	name  string
	value string
}

// UploadForm is an ordered multipart submission.
type UploadForm struct {
	fields []formField
	files  []FilePart
}

func NewUploadForm() *UploadForm {
	return &UploadForm{}
}

func (f *UploadForm) AddField(name, value string) *UploadForm {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// AddOptionalField skips blank values, the backend treats absent and empty
// differently for some fields.
func (f *UploadForm) AddOptionalField(name, value string) *UploadForm {
	if strings.TrimSpace(value) == "" {
		return f
	}
	return f.AddField(name, value)
}

func (f *UploadForm) AddFile(part FilePart) *UploadForm {
	f.files = append(f.files, part)
	return f
}

func (f *UploadForm) Field(name string) (string, bool) {
	for _, v := range f.fields {
		if v.name == name {
			return v.value, true
		}
	}
	return "", false
}

func (f *UploadForm) Files() []FilePart {
	return f.files
}

func partHeader(p FilePart) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(p.Field), escapeQuotes(p.Filename)))
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p.Filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// contentLength lays the form out without file contents to learn the exact
// body size for a given boundary.
func (f *UploadForm) contentLength(boundary string) (int64, error) {
	cw := &countingWriter{}
	w := multipart.NewWriter(cw)
	if err := w.SetBoundary(boundary); err != nil {
		return 0, err
	}
	for _, field := range f.fields {
		if err := w.WriteField(field.name, field.value); err != nil {
			return 0, err
		}
	}
	for _, p := range f.files {
		if _, err := w.CreatePart(partHeader(p)); err != nil {
			return 0, err
		}
		cw.n += p.Size
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

func (f *UploadForm) writeTo(w *multipart.Writer) error {
	for _, field := range f.fields {
		if err := w.WriteField(field.name, field.value); err != nil {
			return err
		}
	}
	for _, p := range f.files {
		pw, err := w.CreatePart(partHeader(p))
		if err != nil {
			return err
		}
		rc, err := p.Open()
		if err != nil {
			return err
		}
		n, err := io.Copy(pw, rc)
		rc.Close()
		if err != nil {
			return err
		}
		if n != p.Size {
			return fmt.Errorf("file %s changed while uploading: expected %d bytes, read %d", p.Filename, p.Size, n)
		}
	}
	return w.Close()
}

// progressReader reports the share of total bytes consumed, each percentage
// at most once.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	mu         sync.Mutex
	last       int
	onProgress func(int)
}

func newProgressReader(r io.Reader, total int64, onProgress func(int)) *progressReader {
	return &progressReader{r: r, total: total, last: -1, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		percent := 100
		if p.total > 0 {
			percent = int(p.read * 100 / p.total)
		}
		p.mu.Unlock()
		p.report(percent)
	}
	return n, err
}

func (p *progressReader) report(percent int) {
	if p.onProgress == nil {
		return
	}
	percent = types.ClampProgress(percent)
	p.mu.Lock()
	if percent <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.mu.Unlock()
	p.onProgress(percent)
}

// Upload submits the form and returns the task id assigned by the backend.
// onProgress receives transport level progress from 0 to 100.
func (c *Client) Upload(ctx context.Context, form *UploadForm, onProgress func(int)) (string, error) {
	const trace = "backend.Upload"

	boundary := multipart.NewWriter(io.Discard).Boundary()
	total, err := form.contentLength(boundary)
	if err != nil {
		return "", errors.New(trace, i18n.ERROR_INVALIDARGUMENT, err).Kind(errors.KindInvalidArgument).Code(http.StatusBadRequest)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(boundary); err != nil {
		return "", errors.New(trace, i18n.ERROR_INTERNAL, err)
	}
	go func() {
		pw.CloseWithError(form.writeTo(mw))
	}()

	body := newProgressReader(pr, total, onProgress)
	body.report(0)

	req, err := c.newRequest(ctx, http.MethodPost, PATH_UPLOAD, nil, body)
	if err != nil {
		pr.CloseWithError(err)
		return "", errors.Trace(trace, err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(c.uploadClient, req, trace)
	// unblock the writer goroutine if the transport stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result types.UploadResponse
	if err := decodeJSON(resp.Body, &result, trace); err != nil {
		return "", err
	}
	if result.TaskID == "" {
		return "", errors.New(trace, i18n.ERROR_MALFORMED_MESSAGE, fmt.Errorf("empty task_id in upload response")).Kind(errors.KindMalformedMessage)
	}
	body.report(100)
	return result.TaskID, nil
}

// FormatBool matches the form encoding the backend expects for flags.
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}
