// Package config provides configuration management for the dashclip agent.
// Configuration is layered: defaults, then an optional YAML file, then a .env
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultHost     = "127.0.0.1"
	DefaultLogLevel = "info"
	DefaultDataDir  = ".dashclip"

	// Environment variable names
	EnvConfigFile = "DASHCLIP_CONFIG"
	EnvEnvFile    = "DASHCLIP_ENV_FILE"
	EnvPort       = "DASHCLIP_PORT"
	EnvHost       = "DASHCLIP_HOST"
	EnvLogLevel   = "DASHCLIP_LOG_LEVEL"
	EnvDataDir    = "DASHCLIP_DATA_DIR"

	// Processing
	EnvMode       = "DASHCLIP_MODE"
	EnvWorkers    = "DASHCLIP_WORKERS"
	EnvScratchDir = "DASHCLIP_SCRATCH_DIR"

	// External tools
	EnvFFprobePath  = "DASHCLIP_FFPROBE"
	EnvFFmpegPath   = "DASHCLIP_FFMPEG"
	EnvExifToolPath = "DASHCLIP_EXIFTOOL"

	EnvTimeoutProbe   = "DASHCLIP_TIMEOUT_PROBE"
	EnvTimeoutExtract = "DASHCLIP_TIMEOUT_EXTRACT"
	EnvTimeoutSegment = "DASHCLIP_TIMEOUT_SEGMENT"

	// Storage backend
	EnvStorageBackend = "DASHCLIP_STORAGE"
	EnvStorageDir     = "DASHCLIP_STORAGE_DIR"
	EnvS3Bucket       = "DASHCLIP_S3_BUCKET"
	EnvS3Region       = "DASHCLIP_S3_REGION"
	EnvS3Endpoint     = "DASHCLIP_S3_ENDPOINT"
	EnvHTTPStorageURL = "DASHCLIP_HTTP_STORAGE_URL"
	EnvHTTPBucket     = "DASHCLIP_HTTP_STORAGE_BUCKET"
	EnvHTTPToken      = "DASHCLIP_HTTP_STORAGE_TOKEN"

	// Queue backend
	EnvQueueBackend = "DASHCLIP_QUEUE"
	EnvRedisAddr    = "DASHCLIP_REDIS_ADDR"
	EnvRedisKey     = "DASHCLIP_REDIS_KEY"

	// Optional surfaces
	EnvInboxDir      = "DASHCLIP_INBOX_DIR"
	EnvInboxOwner    = "DASHCLIP_INBOX_OWNER"
	EnvInboxCamera   = "DASHCLIP_INBOX_CAMERA"
	EnvStaleAfter    = "DASHCLIP_STALE_AFTER"
	EnvSweepSchedule = "DASHCLIP_SWEEP_SCHEDULE"

	// Database filename
	DBFilename = "dashclip.db"

	DefaultMode           = "background"
	DefaultWorkers        = 2
	DefaultStorageBackend = "local"
	DefaultQueueBackend   = "memory"
	DefaultRedisKey       = "dashclip:jobs"
	DefaultSweepSchedule  = "@every 5m"

	// Tool defaults
	DefaultTimeoutProbe   = 60  // seconds
	DefaultTimeoutExtract = 120 // seconds
	DefaultTimeoutSegment = 900 // 15 minutes

	// StaleMargin is added to the summed tool timeouts to get the minimum
	// accepted stale threshold.
	StaleMargin = 5 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Host() string
	LogLevel() string
	DataDir() string
	DBPath() string
	ScratchDir() string
	Mode() string
	Workers() int
	FFprobePath() string
	FFmpegPath() string
	ExifToolPath() string
	TimeoutProbe() time.Duration
	TimeoutExtract() time.Duration
	TimeoutSegment() time.Duration
	StorageBackend() string
	StorageDir() string
	S3Bucket() string
	S3Region() string
	S3Endpoint() string
	HTTPStorageURL() string
	HTTPStorageBucket() string
	HTTPStorageToken() string
	QueueBackend() string
	RedisAddr() string
	RedisKey() string
	InboxDir() string
	InboxOwner() string
	InboxCamera() string
	StaleAfter() time.Duration
	SweepSchedule() string
}

// EnvConfig reads configuration from a YAML file, a .env file and environment variables
type EnvConfig struct {
	port     int
	host     string
	logLevel string
	dataDir  string

	mode       string
	workers    int
	scratchDir string

	ffprobePath  string
	ffmpegPath   string
	exiftoolPath string

	timeoutProbe   time.Duration
	timeoutExtract time.Duration
	timeoutSegment time.Duration

	storageBackend string
	storageDir     string
	s3Bucket       string
	s3Region       string
	s3Endpoint     string
	httpURL        string
	httpBucket     string
	httpToken      string

	queueBackend string
	redisAddr    string
	redisKey     string

	inboxDir      string
	inboxOwner    string
	inboxCamera   string
	staleAfter    time.Duration
	sweepSchedule string
}

// fileConfig mirrors EnvConfig for the optional YAML file.
type fileConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Processing struct {
		Mode       string `yaml:"mode"`
		Workers    int    `yaml:"workers"`
		ScratchDir string `yaml:"scratch_dir"`
	} `yaml:"processing"`

	Tools struct {
		FFprobe  string `yaml:"ffprobe"`
		FFmpeg   string `yaml:"ffmpeg"`
		ExifTool string `yaml:"exiftool"`

		TimeoutProbe   string `yaml:"timeout_probe"`
		TimeoutExtract string `yaml:"timeout_extract"`
		TimeoutSegment string `yaml:"timeout_segment"`
	} `yaml:"tools"`

	Storage struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
		S3      struct {
			Bucket   string `yaml:"bucket"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"s3"`
		HTTP struct {
			URL    string `yaml:"url"`
			Bucket string `yaml:"bucket"`
			Token  string `yaml:"token"`
		} `yaml:"http"`
	} `yaml:"storage"`

	Queue struct {
		Backend   string `yaml:"backend"`
		RedisAddr string `yaml:"redis_addr"`
		RedisKey  string `yaml:"redis_key"`
	} `yaml:"queue"`

	Inbox struct {
		Dir        string `yaml:"dir"`
		Owner      string `yaml:"owner"`
		CameraType string `yaml:"camera_type"`
	} `yaml:"inbox"`

	Sweeper struct {
		StaleAfter string `yaml:"stale_after"`
		Schedule   string `yaml:"schedule"`
	} `yaml:"sweeper"`
}

// New creates a new EnvConfig with defaults, file and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		host:           DefaultHost,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		mode:           DefaultMode,
		workers:        DefaultWorkers,
		ffprobePath:    "ffprobe",
		ffmpegPath:     "ffmpeg",
		exiftoolPath:   "exiftool",
		timeoutProbe:   time.Duration(DefaultTimeoutProbe) * time.Second,
		timeoutExtract: time.Duration(DefaultTimeoutExtract) * time.Second,
		timeoutSegment: time.Duration(DefaultTimeoutSegment) * time.Second,
		storageBackend: DefaultStorageBackend,
		queueBackend:   DefaultQueueBackend,
		redisKey:       DefaultRedisKey,
		sweepSchedule:  DefaultSweepSchedule,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads DASHCLIP_ENV_FILE, or ./.env when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	path := os.Getenv(EnvEnvFile)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setInt(&c.port, fc.Port)
	setString(&c.host, fc.Host)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.mode, fc.Processing.Mode)
	setInt(&c.workers, fc.Processing.Workers)
	setString(&c.scratchDir, fc.Processing.ScratchDir)
	setString(&c.ffprobePath, fc.Tools.FFprobe)
	setString(&c.ffmpegPath, fc.Tools.FFmpeg)
	setString(&c.exiftoolPath, fc.Tools.ExifTool)
	setString(&c.storageBackend, fc.Storage.Backend)
	setString(&c.storageDir, fc.Storage.Dir)
	setString(&c.s3Bucket, fc.Storage.S3.Bucket)
	setString(&c.s3Region, fc.Storage.S3.Region)
	setString(&c.s3Endpoint, fc.Storage.S3.Endpoint)
	setString(&c.httpURL, fc.Storage.HTTP.URL)
	setString(&c.httpBucket, fc.Storage.HTTP.Bucket)
	setString(&c.httpToken, fc.Storage.HTTP.Token)
	setString(&c.queueBackend, fc.Queue.Backend)
	setString(&c.redisAddr, fc.Queue.RedisAddr)
	setString(&c.redisKey, fc.Queue.RedisKey)
	setString(&c.inboxDir, fc.Inbox.Dir)
	setString(&c.inboxOwner, fc.Inbox.Owner)
	setString(&c.inboxCamera, fc.Inbox.CameraType)
	setString(&c.sweepSchedule, fc.Sweeper.Schedule)

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"tools.timeout_probe", fc.Tools.TimeoutProbe, &c.timeoutProbe},
		{"tools.timeout_extract", fc.Tools.TimeoutExtract, &c.timeoutExtract},
		{"tools.timeout_segment", fc.Tools.TimeoutSegment, &c.timeoutSegment},
		{"sweeper.stale_after", fc.Sweeper.StaleAfter, &c.staleAfter},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.name, path, err)
		}
		*d.dst = v
	}

	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if w := os.Getenv(EnvWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		c.workers = workers
	}

	setString(&c.host, os.Getenv(EnvHost))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.mode, strings.ToLower(os.Getenv(EnvMode)))
	setString(&c.scratchDir, os.Getenv(EnvScratchDir))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobePath))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.exiftoolPath, os.Getenv(EnvExifToolPath))
	setString(&c.storageBackend, strings.ToLower(os.Getenv(EnvStorageBackend)))
	setString(&c.storageDir, os.Getenv(EnvStorageDir))
	setString(&c.s3Bucket, os.Getenv(EnvS3Bucket))
	setString(&c.s3Region, os.Getenv(EnvS3Region))
	setString(&c.s3Endpoint, os.Getenv(EnvS3Endpoint))
	setString(&c.httpURL, os.Getenv(EnvHTTPStorageURL))
	setString(&c.httpBucket, os.Getenv(EnvHTTPBucket))
	setString(&c.httpToken, os.Getenv(EnvHTTPToken))
	setString(&c.queueBackend, strings.ToLower(os.Getenv(EnvQueueBackend)))
	setString(&c.redisAddr, os.Getenv(EnvRedisAddr))
	setString(&c.redisKey, os.Getenv(EnvRedisKey))
	setString(&c.inboxDir, os.Getenv(EnvInboxDir))
	setString(&c.inboxOwner, os.Getenv(EnvInboxOwner))
	setString(&c.inboxCamera, os.Getenv(EnvInboxCamera))
	setString(&c.sweepSchedule, os.Getenv(EnvSweepSchedule))

	seconds := []struct {
		env string
		dst *time.Duration
	}{
		{EnvTimeoutProbe, &c.timeoutProbe},
		{EnvTimeoutExtract, &c.timeoutExtract},
		{EnvTimeoutSegment, &c.timeoutSegment},
	}
	for _, s := range seconds {
		v := os.Getenv(s.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s: must be a positive number of seconds", s.env)
		}
		*s.dst = time.Duration(n) * time.Second
	}

	if v := os.Getenv(EnvStaleAfter); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStaleAfter, err)
		}
		c.staleAfter = d
	}

	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	if c.workers < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvWorkers)
	}

	switch c.mode {
	case "sync", "background":
	default:
		return fmt.Errorf("invalid %s %q: want sync or background", EnvMode, c.mode)
	}

	switch c.storageBackend {
	case "local":
	case "s3":
		if c.s3Bucket == "" {
			return errors.New("s3 storage requires " + EnvS3Bucket)
		}
	case "http":
		if c.httpURL == "" || c.httpBucket == "" {
			return fmt.Errorf("http storage requires %s and %s", EnvHTTPStorageURL, EnvHTTPBucket)
		}
	default:
		return fmt.Errorf("invalid %s %q: want local, s3 or http", EnvStorageBackend, c.storageBackend)
	}

	switch c.queueBackend {
	case "memory":
	case "redis":
		if c.redisAddr == "" {
			return errors.New("redis queue requires " + EnvRedisAddr)
		}
	default:
		return fmt.Errorf("invalid %s %q: want memory or redis", EnvQueueBackend, c.queueBackend)
	}

	if c.inboxDir != "" && c.inboxOwner == "" {
		return fmt.Errorf("inbox watching requires %s", EnvInboxOwner)
	}

	if c.staleAfter < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvStaleAfter)
	}
	if minimum := c.MinStaleAfter(); c.staleAfter > 0 && c.staleAfter < minimum {
		return fmt.Errorf("invalid %s %s: must be at least %s (tool timeouts plus %s)",
			EnvStaleAfter, c.staleAfter, minimum, StaleMargin)
	}

	return nil
}

// MinStaleAfter is the shortest stale threshold that cannot fire while the
// tool steps of a live run are still within their timeouts.
func (c *EnvConfig) MinStaleAfter() time.Duration {
	return c.timeoutProbe + c.timeoutExtract + c.timeoutSegment + StaleMargin
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Host returns the address the HTTP server binds to
func (c *EnvConfig) Host() string {
	return c.host
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ScratchDir returns the root under which per-run scratch arenas are created
func (c *EnvConfig) ScratchDir() string {
	if c.scratchDir != "" {
		return c.scratchDir
	}
	return filepath.Join(c.dataDir, "scratch")
}

// Mode returns the default invocation mode, sync or background
func (c *EnvConfig) Mode() string {
	return c.mode
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) ExifToolPath() string {
	return c.exiftoolPath
}

func (c *EnvConfig) TimeoutProbe() time.Duration {
	return c.timeoutProbe
}

func (c *EnvConfig) TimeoutExtract() time.Duration {
	return c.timeoutExtract
}

func (c *EnvConfig) TimeoutSegment() time.Duration {
	return c.timeoutSegment
}

// StorageBackend returns local, s3 or http
func (c *EnvConfig) StorageBackend() string {
	return c.storageBackend
}

// StorageDir returns the base directory of the local storage backend
func (c *EnvConfig) StorageDir() string {
	if c.storageDir != "" {
		return c.storageDir
	}
	return filepath.Join(c.dataDir, "storage")
}

func (c *EnvConfig) S3Bucket() string {
	return c.s3Bucket
}

func (c *EnvConfig) S3Region() string {
	return c.s3Region
}

func (c *EnvConfig) S3Endpoint() string {
	return c.s3Endpoint
}

func (c *EnvConfig) HTTPStorageURL() string {
	return c.httpURL
}

func (c *EnvConfig) HTTPStorageBucket() string {
	return c.httpBucket
}

func (c *EnvConfig) HTTPStorageToken() string {
	return c.httpToken
}

// QueueBackend returns memory or redis
func (c *EnvConfig) QueueBackend() string {
	return c.queueBackend
}

func (c *EnvConfig) RedisAddr() string {
	return c.redisAddr
}

func (c *EnvConfig) RedisKey() string {
	return c.redisKey
}

// InboxDir returns the watched inbox directory; empty disables the watcher
func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

// InboxOwner returns the owner id recorded for inbox uploads
func (c *EnvConfig) InboxOwner() string {
	return c.inboxOwner
}

func (c *EnvConfig) InboxCamera() string {
	return c.inboxCamera
}

// StaleAfter returns how long a video may sit in processing before the
// sweeper re-submits it; zero disables the sweeper
func (c *EnvConfig) StaleAfter() time.Duration {
	return c.staleAfter
}

func (c *EnvConfig) SweepSchedule() string {
	return c.sweepSchedule
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
