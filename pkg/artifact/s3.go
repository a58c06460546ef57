package artifact

import (
	"context"
	"io"
	"path"

	"github.com/deckforge/deckforge/pkg/object-storage/s3"
)

type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// S3Sink uploads artifacts under prefix/<task>/<filename>.
type S3Sink struct {
	uploader Uploader
	bucket   string
	prefix   string
}

func NewS3Sink(cli *s3.S3, prefix string) *S3Sink {
	return &S3Sink{uploader: cli, bucket: cli.Bucket, prefix: prefix}
}

func (s *S3Sink) Key(obj Object) string {
	return path.Join(s.prefix, SafeName(obj.TaskID), SafeName(obj.Filename))
}

func (s *S3Sink) Save(ctx context.Context, obj Object, body io.Reader) (string, error) {
	key := s.Key(obj)
	if err := s.uploader.Upload(ctx, key, body, obj.ContentType); err != nil {
		return "", err
	}
	return "s3://" + path.Join(s.bucket, key), nil
}
