package core

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/deckforge/deckforge/app/core/srv"
	"github.com/deckforge/deckforge/app/store"
	"github.com/deckforge/deckforge/pkg/artifact"
	"github.com/deckforge/deckforge/pkg/backend"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/notify"
	"github.com/deckforge/deckforge/pkg/object-storage/s3"
	"github.com/deckforge/deckforge/pkg/scheduler"
	"github.com/deckforge/deckforge/pkg/socket/progress"
	"github.com/deckforge/deckforge/pkg/types"
	"github.com/deckforge/deckforge/pkg/utils"
)

type Core struct {
	cfg CoreConfig
	srv *srv.Srv

	backend  *backend.Client
	store    *store.Store
	queue    *notify.Queue
	notifier notify.Notifier
	channels *progress.Registry
	sink     artifact.Sink
	redis    redis.UniversalClient
	// following holds the task ids a lifecycle loop is attached to.
	following cmap.ConcurrentMap[string, struct{}]

	sched     scheduler.Scheduler
	dialer    progress.Dialer
	transport http.RoundTripper
	persister store.Persister
	srvOpts   []srv.ApplyFunc

	i18n       i18n.Localizer
	httpEngine *gin.Engine
	metrics    *Metrics
}

type Option func(c *Core)

func WithScheduler(s scheduler.Scheduler) Option {
	return func(c *Core) { c.sched = s }
}

func WithDialer(d progress.Dialer) Option {
	return func(c *Core) { c.dialer = d }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Core) { c.transport = rt }
}

func WithSink(s artifact.Sink) Option {
	return func(c *Core) { c.sink = s }
}

func WithPersister(p store.Persister) Option {
	return func(c *Core) { c.persister = p }
}

// WithTower enables the websocket relay used by the monitor.
func WithTower() Option {
	return func(c *Core) { c.srvOpts = append(c.srvOpts, srv.ApplyTower()) }
}

func MustSetupCore(cfg CoreConfig, opts ...Option) *Core {
	SetupLogger(cfg.Log)

	core, err := SetupCore(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return core
}

// SetupLogger installs the default JSON logger, rotating files when a path is set.
func SetupLogger(cfg Log) {
	var writer io.Writer = os.Stderr
	if cfg.Path != "" {
		writer = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	l := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(l)
}

func SetupCore(cfg CoreConfig, opts ...Option) (*Core, error) {
	cfg.Normalize()
	core := &Core{
		cfg:        cfg,
		i18n:       i18n.NewDefaultLocalizer(),
		httpEngine: gin.New(),
		metrics:    NewMetrics("deckforge", "client"),
		following:  cmap.New[struct{}](),
	}
	for _, opt := range opts {
		opt(core)
	}
	if core.sched == nil {
		core.sched = scheduler.New()
	}
	if core.dialer == nil {
		core.dialer = progress.NewWebsocketDialer()
	}

	var err error
	if core.backend, err = backend.NewClient(backend.Options{
		Origin:         cfg.Backend.Origin,
		RequestTimeout: cfg.Backend.RequestTimeout,
		UploadTimeout:  cfg.Backend.UploadTimeout,
		HealthTimeout:  cfg.Backend.HealthTimeout,
		Transport:      core.transport,
	}); err != nil {
		return nil, fmt.Errorf("setup backend client: %w", err)
	}

	if core.persister == nil {
		if core.persister, err = setupPersister(core); err != nil {
			return nil, fmt.Errorf("setup persister: %w", err)
		}
	}
	core.store = store.New(types.ProgressPolicy(cfg.Task.ProgressPolicy), core.persister)

	core.queue = notify.NewQueue(core.sched, cfg.Notification.DefaultDuration)
	core.notifier = &meteredNotifier{queue: core.queue, metrics: core.metrics}
	core.channels = progress.NewRegistry(core.newChannel)

	if core.sink == nil {
		if core.sink, err = setupSink(cfg.Artifact); err != nil {
			return nil, fmt.Errorf("setup artifact sink: %w", err)
		}
	}

	core.srv = srv.SetupSrvs(core.srvOpts...)
	return core, nil
}

func (s *Core) newChannel() *progress.Channel {
	return progress.NewChannel(progress.Options{
		Config: progress.Config{
			Origin:       s.backend.Origin(),
			PathTemplate: s.cfg.Channel.PathTemplate,
			BaseDelay:    s.cfg.Channel.BaseDelay,
			MaxAttempts:  s.cfg.Channel.MaxAttempts,
			OpenTimeout:  s.cfg.Channel.OpenTimeout,
		},
		Dialer:    s.dialer,
		Scheduler: s.sched,
		Store:     s.store,
		Notifier:  s.notifier,
		Observer:  s.metrics,
		Localizer: s.i18n,
		Lang:      s.cfg.Lang,
	})
}

func setupPersister(core *Core) (store.Persister, error) {
	p := core.cfg.Persist
	switch p.Driver {
	case PERSIST_DRIVER_NONE:
		return store.NopPersister{}, nil
	case PERSIST_DRIVER_FILE:
		return store.NewFilePersister(p.Path), nil
	case PERSIST_DRIVER_REDIS:
		core.redis = newRedisClient(core.cfg.Redis)
		return store.NewRedisPersister(core.redis, p.Key, p.TTL), nil
	default:
		return nil, fmt.Errorf("unknown persist driver %q", p.Driver)
	}
}

func newRedisClient(cfg RedisConfig) redis.UniversalClient {
	dialTimeout := 5 * time.Second
	if cfg.DialTimeout > 0 {
		dialTimeout = time.Duration(cfg.DialTimeout) * time.Second
	}
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterAddrs,
			Password:    cfg.Password,
			DialTimeout: dialTimeout,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
}

func setupSink(cfg ArtifactConfig) (artifact.Sink, error) {
	switch cfg.Driver {
	case ARTIFACT_DRIVER_FILE:
		return artifact.NewFileSink(cfg.Dir), nil
	case ARTIFACT_DRIVER_S3:
		if cfg.S3 == nil || cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("artifact driver s3 needs [artifact.s3] with a bucket")
		}
		cli, err := s3.NewS3Client(cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.Bucket,
			cfg.S3.AccessKey, cfg.S3.SecretKey, s3.WithPathStyle(cfg.S3.UsePathStyle))
		if err != nil {
			return nil, err
		}
		slog.Info("artifact sink ready",
			slog.String("driver", ARTIFACT_DRIVER_S3),
			slog.String("bucket", cfg.S3.Bucket),
			slog.String("access_key", utils.MaskString(cfg.S3.AccessKey, 2, 2)))
		return artifact.NewS3Sink(cli, cfg.S3.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown artifact driver %q", cfg.Driver)
	}
}

// Close stops every channel and releases connections.
func (s *Core) Close() {
	s.channels.CloseAll()
	if t := s.srv.Tower(); t != nil {
		t.StopAllForwarders()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
}

// ClaimTask reserves taskID for a single follower. ok is false while
// another follower holds it.
func (s *Core) ClaimTask(taskID string) (release func(), ok bool) {
	if !s.following.SetIfAbsent(taskID, struct{}{}) {
		return nil, false
	}
	return func() { s.following.Remove(taskID) }, true
}

func (s *Core) Following(taskID string) bool {
	return s.following.Has(taskID)
}

func (s *Core) Cfg() CoreConfig {
	return s.cfg
}

func (s *Core) Srv() *srv.Srv {
	return s.srv
}

func (s *Core) Backend() *backend.Client {
	return s.backend
}

func (s *Core) Store() *store.Store {
	return s.store
}

func (s *Core) Notifier() notify.Notifier {
	return s.notifier
}

func (s *Core) Notifications() *notify.Queue {
	return s.queue
}

func (s *Core) Channels() *progress.Registry {
	return s.channels
}

func (s *Core) Sink() artifact.Sink {
	return s.sink
}

func (s *Core) Scheduler() scheduler.Scheduler {
	return s.sched
}

func (s *Core) I18n() i18n.Localizer {
	return s.i18n
}

func (s *Core) Lang() string {
	return s.cfg.Lang
}

func (s *Core) HttpEngine() *gin.Engine {
	return s.httpEngine
}

func (s *Core) Metrics() *Metrics {
	return s.metrics
}

type meteredNotifier struct {
	queue   *notify.Queue
	metrics *Metrics
}

func (n *meteredNotifier) Add(kind types.NotificationKind, message string, opts ...notify.Option) string {
	n.metrics.NotificationInc(string(kind))
	return n.queue.Add(kind, message, opts...)
}
