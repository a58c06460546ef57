package core

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/deckforge/deckforge/pkg/backend"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/notify"
	"github.com/deckforge/deckforge/pkg/socket/progress"
	"github.com/deckforge/deckforge/pkg/types"
)

const ENV_PREFIX = "DECKFORGE_"

func MustLoadBaseConfig(path string) CoreConfig {
	if path == "" {
		return LoadBaseConfigFromENV()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	conf, err := ParseConfig(raw)
	if err != nil {
		panic(err)
	}
	return conf
}

// ParseConfig decodes a TOML document and fills unset values with defaults.
func ParseConfig(raw []byte) (CoreConfig, error) {
	conf := CoreConfig{}
	conf.SetConfigBytes(raw)
	if err := toml.Unmarshal(raw, &conf); err != nil {
		return CoreConfig{}, err
	}
	conf.Normalize()
	return conf, nil
}

func LoadBaseConfigFromENV() CoreConfig {
	var c CoreConfig
	c.FromENV()
	c.Normalize()
	return c
}

type CoreConfig struct {
	Lang         string             `toml:"lang"`
	Log          Log                `toml:"log"`
	Backend      BackendConfig      `toml:"backend"`
	Channel      ChannelConfig      `toml:"channel"`
	Task         TaskConfig         `toml:"task"`
	Notification NotificationConfig `toml:"notification"`
	Persist      PersistConfig      `toml:"persist"`
	Redis        RedisConfig        `toml:"redis"`
	Artifact     ArtifactConfig     `toml:"artifact"`
	Monitor      MonitorConfig      `toml:"monitor"`
	Health       HealthConfig       `toml:"health"`

	bytes []byte `toml:"-"`
}

func (c *CoreConfig) SetConfigBytes(raw []byte) {
	c.bytes = raw
}

func (c CoreConfig) LoadCustomConfig(cfg any) error {
	if len(c.bytes) == 0 {
		return nil
	}
	return toml.Unmarshal(c.bytes, cfg)
}

// Normalize fills every unset value with its default.
func (c *CoreConfig) Normalize() {
	c.Lang = i18n.Lang(c.Lang)
	c.Backend.normalize()
	c.Channel.normalize()
	c.Task.normalize()
	c.Notification.normalize()
	c.Persist.normalize()
	c.Artifact.normalize()
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = "127.0.0.1:33107"
	}
	if c.Health.Spec == "" {
		c.Health.Spec = "@every 30s"
	}
}

func (c *CoreConfig) FromENV() {
	c.Lang = os.Getenv(ENV_PREFIX + "LANG")
	c.Log.FromENV()
	c.Backend.FromENV()
	c.Channel.FromENV()
	c.Task.FromENV()
	c.Persist.FromENV()
	c.Redis.FromENV()
	c.Artifact.FromENV()
	c.Monitor.Addr = os.Getenv(ENV_PREFIX + "MONITOR_ADDR")
	c.Health.Spec = os.Getenv(ENV_PREFIX + "HEALTH_SPEC")
}

type BackendConfig struct {
	Origin          string        `toml:"origin"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	UploadTimeout   time.Duration `toml:"upload_timeout"`
	HealthTimeout   time.Duration `toml:"health_timeout"`
	SkipHealthCheck bool          `toml:"skip_health_check"`
}

func (b *BackendConfig) normalize() {
	if b.Origin == "" {
		b.Origin = "http://localhost:8000"
	}
	if b.RequestTimeout <= 0 {
		b.RequestTimeout = backend.DefaultRequestTimeout
	}
	if b.UploadTimeout <= 0 {
		b.UploadTimeout = backend.DefaultUploadTimeout
	}
	if b.HealthTimeout <= 0 {
		b.HealthTimeout = backend.DefaultHealthTimeout
	}
}

func (b *BackendConfig) FromENV() {
	b.Origin = os.Getenv(ENV_PREFIX + "BACKEND_ORIGIN")
	b.UploadTimeout = envDuration(ENV_PREFIX + "UPLOAD_TIMEOUT")
	b.RequestTimeout = envDuration(ENV_PREFIX + "REQUEST_TIMEOUT")
	b.HealthTimeout = envDuration(ENV_PREFIX + "HEALTH_TIMEOUT")
	b.SkipHealthCheck = envBool(ENV_PREFIX + "SKIP_HEALTH_CHECK")
}

type ChannelConfig struct {
	PathTemplate string        `toml:"path_template"`
	BaseDelay    time.Duration `toml:"base_delay"`
	MaxAttempts  int           `toml:"max_attempts"`
	OpenTimeout  time.Duration `toml:"open_timeout"`
}

func (c *ChannelConfig) normalize() {
	if c.PathTemplate == "" {
		c.PathTemplate = progress.DefaultPathTemplate
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = progress.DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = progress.DefaultMaxAttempts
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = progress.DefaultOpenTimeout
	}
}

func (c *ChannelConfig) FromENV() {
	c.PathTemplate = os.Getenv(ENV_PREFIX + "CHANNEL_PATH_TEMPLATE")
	c.BaseDelay = envDuration(ENV_PREFIX + "CHANNEL_BASE_DELAY")
	c.MaxAttempts = envInt(ENV_PREFIX + "CHANNEL_MAX_ATTEMPTS")
	c.OpenTimeout = envDuration(ENV_PREFIX + "CHANNEL_OPEN_TIMEOUT")
}

type TaskConfig struct {
	MinPages       int    `toml:"min_pages"`
	MaxPages       int    `toml:"max_pages"`
	ProgressPolicy string `toml:"progress_policy"` // hold or pass
}

const (
	DEFAULT_MIN_PAGES = 3
	DEFAULT_MAX_PAGES = 50
)

func (t *TaskConfig) normalize() {
	if t.MinPages <= 0 {
		t.MinPages = DEFAULT_MIN_PAGES
	}
	if t.MaxPages <= 0 {
		t.MaxPages = DEFAULT_MAX_PAGES
	}
	if t.MaxPages < t.MinPages {
		t.MaxPages = t.MinPages
	}
	t.ProgressPolicy = string(types.ParseProgressPolicy(t.ProgressPolicy))
}

func (t *TaskConfig) FromENV() {
	t.MinPages = envInt(ENV_PREFIX + "MIN_PAGES")
	t.MaxPages = envInt(ENV_PREFIX + "MAX_PAGES")
	t.ProgressPolicy = os.Getenv(ENV_PREFIX + "PROGRESS_POLICY")
}

type NotificationConfig struct {
	DefaultDuration time.Duration `toml:"default_duration"`
}

func (n *NotificationConfig) normalize() {
	if n.DefaultDuration <= 0 {
		n.DefaultDuration = notify.DefaultDuration
	}
}

const (
	PERSIST_DRIVER_NONE  = "none"
	PERSIST_DRIVER_FILE  = "file"
	PERSIST_DRIVER_REDIS = "redis"
)

type PersistConfig struct {
	Driver string        `toml:"driver"`
	Path   string        `toml:"path"`
	Key    string        `toml:"key"`
	TTL    time.Duration `toml:"ttl"`
}

func (p *PersistConfig) normalize() {
	p.Driver = strings.ToLower(p.Driver)
	if p.Driver == "" {
		p.Driver = PERSIST_DRIVER_FILE
	}
	if p.Path == "" {
		p.Path = defaultStatePath()
	}
	if p.Key == "" {
		p.Key = "deckforge:current_task"
	}
}

func (p *PersistConfig) FromENV() {
	p.Driver = os.Getenv(ENV_PREFIX + "PERSIST_DRIVER")
	p.Path = os.Getenv(ENV_PREFIX + "PERSIST_PATH")
	p.Key = os.Getenv(ENV_PREFIX + "PERSIST_KEY")
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "deckforge" + string(os.PathSeparator) + "current_task.json"
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`

	Cluster      bool     `toml:"cluster"`
	ClusterAddrs []string `toml:"cluster_addrs"`

	DialTimeout int `toml:"dial_timeout"` // seconds
}

func (r *RedisConfig) FromENV() {
	r.Addr = os.Getenv(ENV_PREFIX + "REDIS_ADDR")
	r.Password = os.Getenv(ENV_PREFIX + "REDIS_PASSWORD")
	if dbStr := os.Getenv(ENV_PREFIX + "REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
}

const (
	ARTIFACT_DRIVER_FILE = "file"
	ARTIFACT_DRIVER_S3   = "s3"
)

type ArtifactConfig struct {
	Driver string    `toml:"driver"`
	Dir    string    `toml:"dir"`
	S3     *S3Config `toml:"s3"`
}

type S3Config struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
	Prefix       string `toml:"prefix"`
}

func (a *ArtifactConfig) normalize() {
	a.Driver = strings.ToLower(a.Driver)
	if a.Driver == "" {
		a.Driver = ARTIFACT_DRIVER_FILE
	}
	if a.Dir == "" {
		a.Dir = "."
	}
}

func (a *ArtifactConfig) FromENV() {
	a.Driver = os.Getenv(ENV_PREFIX + "ARTIFACT_DRIVER")
	a.Dir = os.Getenv(ENV_PREFIX + "ARTIFACT_DIR")
	if bucket := os.Getenv(ENV_PREFIX + "S3_BUCKET"); bucket != "" {
		a.S3 = &S3Config{
			Bucket:       bucket,
			Region:       os.Getenv(ENV_PREFIX + "S3_REGION"),
			Endpoint:     os.Getenv(ENV_PREFIX + "S3_ENDPOINT"),
			AccessKey:    os.Getenv(ENV_PREFIX + "S3_ACCESS_KEY"),
			SecretKey:    os.Getenv(ENV_PREFIX + "S3_SECRET_KEY"),
			UsePathStyle: envBool(ENV_PREFIX + "S3_PATH_STYLE"),
			Prefix:       os.Getenv(ENV_PREFIX + "S3_PREFIX"),
		}
	}
}

type MonitorConfig struct {
	Addr string `toml:"addr"`
}

type HealthConfig struct {
	Spec string `toml:"spec"` // cron spec of the periodic probe
}

type Log struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

func (l *Log) FromENV() {
	l.Level = os.Getenv(ENV_PREFIX + "LOG_LEVEL")
	l.Path = os.Getenv(ENV_PREFIX + "LOG_PATH")
}

func (l *Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envDuration(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment", slog.String("key", key), slog.String("value", raw))
		return 0
	}
	return d
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid number in environment", slog.String("key", key), slog.String("value", raw))
		return 0
	}
	return n
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
