package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deckforge/deckforge/pkg/types"
)

// Persister keeps the current task across restarts of the client.
type Persister interface {
	Save(ctx context.Context, task *types.Task) error
	// Load returns nil, nil when nothing was saved.
	Load(ctx context.Context) (*types.Task, error)
	Clear(ctx context.Context) error
}

type NopPersister struct{}

func (NopPersister) Save(context.Context, *types.Task) error   { return nil }
func (NopPersister) Load(context.Context) (*types.Task, error) { return nil, nil }
func (NopPersister) Clear(context.Context) error               { return nil }

type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Save(_ context.Context, task *types.Task) error {
	raw, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

func (p *FilePersister) Load(_ context.Context) (*types.Task, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decodeTask(raw)
}

func (p *FilePersister) Clear(_ context.Context) error {
	if err := os.Remove(p.path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type RedisPersister struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisPersister stores the task under key. A zero ttl never expires.
func NewRedisPersister(client redis.UniversalClient, key string, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, key: key, ttl: ttl}
}

func (p *RedisPersister) Save(ctx context.Context, task *types.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, p.key, raw, p.ttl).Err()
}

func (p *RedisPersister) Load(ctx context.Context) (*types.Task, error) {
	raw, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeTask(raw)
}

func (p *RedisPersister) Clear(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}

func decodeTask(raw []byte) (*types.Task, error) {
	var task types.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, nil
	}
	if !task.Status.Valid() {
		task.Status = types.TASK_STATUS_PROCESSING
	}
	return &task, nil
}
