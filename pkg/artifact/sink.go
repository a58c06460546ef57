// Package artifact stores finished presentations.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Object describes one artifact handed to a Sink.
type Object struct {
	TaskID      string
	Filename    string
	ContentType string
	Size        int64
}

type Sink interface {
	// Save stores body and returns where it ended up.
	Save(ctx context.Context, obj Object, body io.Reader) (string, error)
}

var nameReplacer = strings.NewReplacer("/", "_", "\\", "_", "|", "_", ":", "_")

// SafeName turns a task id or server supplied filename into a single path element.
func SafeName(name string) string {
	name = nameReplacer.Replace(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "artifact"
	}
	return name
}

type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{dir: dir}
}

// Save writes into the sink directory. An existing file is never
// overwritten, a numeric suffix is added instead.
func (s *FileSink) Save(_ context.Context, obj Object, body io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".deckforge-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	target, err := s.freeName(SafeName(obj.Filename))
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	if abs, err := filepath.Abs(target); err == nil {
		return abs, nil
	}
	return target, nil
}

func (s *FileSink) freeName(filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filepath.Join(s.dir, filename)
	for i := 1; i < 1000; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = filepath.Join(s.dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	return "", fmt.Errorf("no free file name for %s in %s", filename, s.dir)
}
