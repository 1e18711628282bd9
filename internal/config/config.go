package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/condenser/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	DataDir       string              `yaml:"dataDir"`
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Relay         RelayConfig         `yaml:"relay"`
	Events        EventsConfig        `yaml:"events"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Media         MediaConfig         `yaml:"media"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summarization SummarizationConfig `yaml:"summarization"`
	LLM           LLMConfig           `yaml:"llm"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Targets       TargetsConfig       `yaml:"targets"`
	Schedules     []ScheduleConfig    `yaml:"schedules"`
}

// ServerConfig holds HTTP server and process settings.
type ServerConfig struct {
	Addr           string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxRequestSize ByteSize      `yaml:"maxRequestSize"`
	APIKey         string        `yaml:"apiKey"`        // optional static API key header (X-API-Key) for write endpoints
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"` // time to wait for in-flight units before forced stop
	LogLevel       string        `yaml:"logLevel"`      // debug|info|warn|error
	LogFormat      string        `yaml:"logFormat"`     // text|json
}

// StoreConfig selects the status store.
type StoreConfig struct {
	Driver  string        `yaml:"driver"` // sqlite|postgres|memory
	Path    string        `yaml:"path"`   // sqlite file, defaults to dataDir/condenser.db
	DSN     string        `yaml:"dsn"`    // postgres connection string
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig selects the queue relay and its retry behaviour.
type RelayConfig struct {
	Driver           string        `yaml:"driver"` // redis|badger|memory
	RedisURL         string        `yaml:"redisUrl"`
	BadgerDir        string        `yaml:"badgerDir"`
	PollTimeout      time.Duration `yaml:"pollTimeout"`
	PublishTimeout   time.Duration `yaml:"publishTimeout"`
	PublishRetries   int           `yaml:"publishRetries"`
	RetryBackoff     time.Duration `yaml:"retryBackoff"`
	ReconnectBackoff time.Duration `yaml:"reconnectBackoff"`
}

// EventsConfig configures the observability channels.
type EventsConfig struct {
	Broadcast    string        `yaml:"broadcast"` // redis|none
	Stream       string        `yaml:"stream"`    // redis|none
	RedisURL     string        `yaml:"redisUrl"`  // defaults to relay.redisUrl
	Timeout      time.Duration `yaml:"timeout"`
	StreamMaxLen int64         `yaml:"streamMaxLen"`
	Log          bool          `yaml:"log"` // also write every event to the process log
}

// SchedulerConfig tunes the consume-to-unit bridge and the shared external-call pool.
type SchedulerConfig struct {
	ReadyWait     time.Duration `yaml:"readyWait"`
	HandoffBuffer int           `yaml:"handoffBuffer"`
	MaxInFlight   int           `yaml:"maxInFlight"`
	PoolSize      int           `yaml:"poolSize"`
}

// ArtifactsConfig locates the artifact tree and its retention.
type ArtifactsConfig struct {
	Root                string `yaml:"root"`
	CleanupIntermediate *bool  `yaml:"cleanupIntermediate"`
	KeepTranscript      *bool  `yaml:"keepTranscript"`
}

// MediaConfig points at the external media tools.
type MediaConfig struct {
	YtDlpPath       string `yaml:"ytDlpPath"`
	FfmpegPath      string `yaml:"ffmpegPath"`
	CaptionLanguage string `yaml:"captionLanguage"`
	CookiesFile     string `yaml:"cookiesFile"` // optional, passed to yt-dlp
}

// TranscriptionConfig configures the speech-to-text stage.
type TranscriptionConfig struct {
	Provider          string        `yaml:"provider"` // mock|aiproxy|gemini
	ChunkLength       time.Duration `yaml:"chunkLength"`
	Placeholder       string        `yaml:"placeholder"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// SummarizationConfig configures the summary stage.
type SummarizationConfig struct {
	Provider             string  `yaml:"provider"` // mock|aiproxy|gemini|claude
	TokenLimit           int     `yaml:"tokenLimit"`
	ChunkTargetTokens    int     `yaml:"chunkTargetTokens"`
	MaxDepth             int     `yaml:"maxDepth"`
	FallbackToTranscript bool    `yaml:"fallbackToTranscript"`
	RequestsPerSecond    float64 `yaml:"requestsPerSecond"`
	SystemPrompt         string  `yaml:"systemPrompt"` // optional override
}

// LLMConfig holds provider-specific options; the stages pick a provider by name.
type LLMConfig struct {
	Mock    MockSettings    `yaml:"mock"`
	AIProxy AIProxySettings `yaml:"aiproxy"`
	Gemini  GeminiSettings  `yaml:"gemini"`
	Claude  ClaudeSettings  `yaml:"claude"`
}

// MockSettings config for the mock LLM.
type MockSettings struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) LLM.
type AIProxySettings struct {
	BaseURL            string        `yaml:"baseUrl"`            // e.g. http://localhost:8900
	APIKey             string        `yaml:"apiKey"`             // optional
	Model              string        `yaml:"model"`              // chat model
	TranscriptionModel string        `yaml:"transcriptionModel"` // e.g. whisper-1
	Temperature        float32       `yaml:"temperature"`        // optional
	MaxTokens          int           `yaml:"maxTokens"`          // optional
	Timeout            time.Duration `yaml:"timeout"`
}

// GeminiSettings config for Google Gemini.
type GeminiSettings struct {
	APIKey      string  `yaml:"apiKey"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// ClaudeSettings config for Anthropic Claude.
type ClaudeSettings struct {
	APIKey      string  `yaml:"apiKey"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"baseUrl"` // optional
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

// DiscoveryConfig holds the defaults for fields a discovery request leaves out.
type DiscoveryConfig struct {
	ItemCountLimit             int   `yaml:"itemCountLimit"`
	MaxItemLength              int   `yaml:"maxItemLength"` // minutes, 0 disables
	LengthLimitCaptionlessOnly *bool `yaml:"lengthLimitCaptionlessOnly"`
}

// TargetsConfig groups all summary publication backends.
type TargetsConfig struct {
	ObjectStore ObjectStoreTargetConfig `yaml:"objectStore"`
	Git         GitTargetConfig         `yaml:"git"`
	GitHub      GitHubTargetConfig      `yaml:"github"`
}

// ObjectStoreTargetConfig archives summaries in an S3-compatible bucket.
type ObjectStoreTargetConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"` // host:port
	AccessKey      string `yaml:"accessKey"`
	SecretKey      string `yaml:"secretKey"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	UseSSL         bool   `yaml:"useSSL"`
	BasePath       string `yaml:"basePath"`
	ObjectTemplate string `yaml:"objectTemplate"`
}

// GitTargetConfig commits summaries to a git repository through the git CLI.
type GitTargetConfig struct {
	Enabled               bool          `yaml:"enabled"`
	RepoURL               string        `yaml:"repoUrl"`
	Branch                string        `yaml:"branch"`
	BasePath              string        `yaml:"basePath"`
	FilenameTemplate      string        `yaml:"filenameTemplate"`
	CommitMessageTemplate string        `yaml:"commitMessageTemplate"`
	AuthorName            string        `yaml:"authorName"`
	AuthorEmail           string        `yaml:"authorEmail"`
	CloneCacheDir         string        `yaml:"cloneCacheDir"` // defaults to dataDir/repos
	Auth                  GitAuthConfig `yaml:"auth"`
}

// GitAuthConfig holds basic auth credentials for the git remote.
type GitAuthConfig struct {
	Type     string `yaml:"type"` // basic|none
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
}

// GitHubTargetConfig config for posting to a GitHub repository via REST API.
type GitHubTargetConfig struct {
	Enabled               bool             `yaml:"enabled"`
	RepoOwner             string           `yaml:"repoOwner"`
	RepoName              string           `yaml:"repoName"`
	Branch                string           `yaml:"branch"`
	BasePath              string           `yaml:"basePath"`
	FilenameTemplate      string           `yaml:"filenameTemplate"`
	CommitMessageTemplate string           `yaml:"commitMessageTemplate"`
	AuthorName            string           `yaml:"authorName"`
	AuthorEmail           string           `yaml:"authorEmail"`
	APIBaseURL            string           `yaml:"apiBaseUrl"` // optional, default https://api.github.com
	Auth                  GitHubAuthConfig `yaml:"auth"`
}

// GitHubAuthConfig holds token-based auth (Personal Access Token).
type GitHubAuthConfig struct {
	Token string `yaml:"token"` // PAT; supports env expansion
}

// ScheduleConfig submits a discovery request on a cron schedule.
type ScheduleConfig struct {
	Name                       string `yaml:"name"`
	Cron                       string `yaml:"cron"`
	SourceIdentifier           string `yaml:"sourceIdentifier"`
	ItemCountLimit             *int   `yaml:"itemCountLimit"`
	MaxItemLength              *int   `yaml:"maxItemLength"`
	LengthLimitCaptionlessOnly *bool  `yaml:"lengthLimitCaptionlessOnly"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)
	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var CONDENSER_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("CONDENSER_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Artifacts.Root, 0o750); err != nil {
		return nil, fmt.Errorf("ensure artifacts root: %w", err)
	}
	return cfg, nil
}

// Parse expands environment variables in data, decodes it and applies defaults and validation.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	postProcessTargets(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, as used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	postProcessTargets(&cfg)
	return &cfg
}

func boolPtr(v bool) *bool { return &v }

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 2 * time.Minute
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 60 * time.Second
	}
	if s.MaxRequestSize == 0 {
		s.MaxRequestSize = ByteSize(64 * 1024)
	}
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(s.LogLevel) == "" {
		s.LogLevel = "info"
	}
	if strings.TrimSpace(s.LogFormat) == "" {
		s.LogFormat = "text"
	}

	st := &cfg.Store
	if st.Driver == "" {
		st.Driver = "sqlite"
	}
	if st.Path == "" {
		st.Path = filepath.Join(cfg.DataDir, "condenser.db")
	}
	if st.Timeout == 0 {
		st.Timeout = 10 * time.Second
	}

	r := &cfg.Relay
	if r.Driver == "" {
		r.Driver = "redis"
	}
	if r.RedisURL == "" {
		r.RedisURL = "redis://localhost:6379/0"
	}
	if r.BadgerDir == "" {
		r.BadgerDir = filepath.Join(cfg.DataDir, "queue")
	}
	if r.PollTimeout == 0 {
		r.PollTimeout = time.Second
	}
	if r.PublishTimeout == 0 {
		r.PublishTimeout = 10 * time.Second
	}
	if r.PublishRetries == 0 {
		r.PublishRetries = 3
	}
	if r.RetryBackoff == 0 {
		r.RetryBackoff = time.Second
	}
	if r.ReconnectBackoff == 0 {
		r.ReconnectBackoff = 5 * time.Second
	}

	e := &cfg.Events
	if e.Broadcast == "" {
		e.Broadcast = "redis"
	}
	if e.Stream == "" {
		e.Stream = "redis"
	}
	if e.RedisURL == "" {
		e.RedisURL = r.RedisURL
	}
	if e.Timeout == 0 {
		e.Timeout = 5 * time.Second
	}
	if e.StreamMaxLen == 0 {
		e.StreamMaxLen = 10000
	}

	sc := &cfg.Scheduler
	if sc.ReadyWait == 0 {
		sc.ReadyWait = 5 * time.Second
	}
	if sc.HandoffBuffer <= 0 {
		sc.HandoffBuffer = common.DefaultHandoffBuffer
	}
	if sc.PoolSize <= 0 {
		sc.PoolSize = common.DefaultPoolSize
	}

	a := &cfg.Artifacts
	if a.Root == "" {
		a.Root = filepath.Join(cfg.DataDir, "artifacts")
	}
	if a.CleanupIntermediate == nil {
		a.CleanupIntermediate = boolPtr(true)
	}
	if a.KeepTranscript == nil {
		a.KeepTranscript = boolPtr(true)
	}

	m := &cfg.Media
	if m.YtDlpPath == "" {
		m.YtDlpPath = "yt-dlp"
	}
	if m.FfmpegPath == "" {
		m.FfmpegPath = "ffmpeg"
	}
	if m.CaptionLanguage == "" {
		m.CaptionLanguage = "en"
	}

	t := &cfg.Transcription
	if t.Provider == "" {
		t.Provider = "mock"
	}
	if t.ChunkLength == 0 {
		t.ChunkLength = 10 * time.Second
	}
	if t.Placeholder == "" {
		t.Placeholder = common.ChunkPlaceholder
	}
	if t.RequestsPerSecond == 0 {
		t.RequestsPerSecond = 2
	}

	sm := &cfg.Summarization
	if sm.Provider == "" {
		sm.Provider = "mock"
	}
	if sm.TokenLimit == 0 {
		sm.TokenLimit = common.DefaultTokenLimit
	}
	if sm.ChunkTargetTokens == 0 {
		sm.ChunkTargetTokens = common.DefaultChunkTargetTokens
	}
	if sm.MaxDepth == 0 {
		sm.MaxDepth = 3
	}
	if sm.RequestsPerSecond == 0 {
		sm.RequestsPerSecond = 1
	}

	l := &cfg.LLM
	if l.Mock.Prefix == "" {
		l.Mock.Prefix = "Summarized by Mock"
	}
	if strings.TrimSpace(l.AIProxy.BaseURL) == "" {
		l.AIProxy.BaseURL = "http://localhost:8900"
	}
	if strings.TrimSpace(l.AIProxy.Model) == "" {
		l.AIProxy.Model = "gpt-5"
	}
	if strings.TrimSpace(l.AIProxy.TranscriptionModel) == "" {
		l.AIProxy.TranscriptionModel = "whisper-1"
	}
	if l.AIProxy.Timeout == 0 {
		l.AIProxy.Timeout = 2 * time.Minute
	}
	if strings.TrimSpace(l.Gemini.Model) == "" {
		l.Gemini.Model = "gemini-2.5-flash"
	}
	if strings.TrimSpace(l.Claude.Model) == "" {
		l.Claude.Model = "claude-sonnet-4-5"
	}
	if l.Claude.MaxTokens == 0 {
		l.Claude.MaxTokens = 2048
	}

	d := &cfg.Discovery
	if d.ItemCountLimit == 0 {
		d.ItemCountLimit = common.DefaultItemCountLimit
	}
	if d.MaxItemLength == 0 {
		d.MaxItemLength = common.DefaultMaxItemLengthMins
	}
	if d.LengthLimitCaptionlessOnly == nil {
		d.LengthLimitCaptionlessOnly = boolPtr(true)
	}
}

// postProcessTargets performs any normalization/defaulting needed for enabled targets.
func postProcessTargets(cfg *Config) {
	if cfg.Targets.GitHub.Enabled {
		cfg.Targets.GitHub.BasePath = normalizePathPrefix(cfg.Targets.GitHub.BasePath)
		if strings.TrimSpace(cfg.Targets.GitHub.APIBaseURL) == "" {
			cfg.Targets.GitHub.APIBaseURL = "https://api.github.com"
		}
	}
	if cfg.Targets.Git.Enabled {
		cfg.Targets.Git.BasePath = normalizePathPrefix(cfg.Targets.Git.BasePath)
		if cfg.Targets.Git.Auth.Type == "" {
			cfg.Targets.Git.Auth.Type = "basic"
		}
		if cfg.Targets.Git.CloneCacheDir == "" {
			cfg.Targets.Git.CloneCacheDir = filepath.Join(cfg.DataDir, common.ReposDirName)
		}
	}
	if cfg.Targets.ObjectStore.Enabled {
		cfg.Targets.ObjectStore.BasePath = normalizePathPrefix(cfg.Targets.ObjectStore.BasePath)
	}
}

var (
	storeDrivers   = []string{"sqlite", "postgres", "memory"}
	relayDrivers   = []string{"redis", "badger", "memory"}
	eventChannels  = []string{"redis", "none"}
	speechBackends = []string{"mock", "aiproxy", "gemini"}
	textBackends   = []string{"mock", "aiproxy", "gemini", "claude"}
)

func oneOf(field, v string, allowed []string) error {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), v)
}

func validate(cfg *Config) error {
	checks := []error{
		oneOf("store.driver", cfg.Store.Driver, storeDrivers),
		oneOf("relay.driver", cfg.Relay.Driver, relayDrivers),
		oneOf("events.broadcast", cfg.Events.Broadcast, eventChannels),
		oneOf("events.stream", cfg.Events.Stream, eventChannels),
		oneOf("transcription.provider", cfg.Transcription.Provider, speechBackends),
		oneOf("summarization.provider", cfg.Summarization.Provider, textBackends),
		oneOf("server.logFormat", cfg.Server.LogFormat, []string{"text", "json"}),
	}
	if err := errors.Join(checks...); err != nil {
		return err
	}

	if strings.EqualFold(cfg.Store.Driver, "postgres") && strings.TrimSpace(cfg.Store.DSN) == "" {
		return errors.New("store.dsn is required for the postgres driver")
	}
	if cfg.Relay.PublishRetries < 1 {
		return errors.New("relay.publishRetries must be at least 1")
	}
	if cfg.Transcription.ChunkLength < time.Second {
		return errors.New("transcription.chunkLength must be at least 1s")
	}
	if cfg.Summarization.ChunkTargetTokens > cfg.Summarization.TokenLimit {
		return errors.New("summarization.chunkTargetTokens must not exceed tokenLimit")
	}
	if cfg.Discovery.ItemCountLimit < 1 {
		return errors.New("discovery.itemCountLimit must be positive")
	}
	if cfg.Discovery.MaxItemLength < 0 {
		return errors.New("discovery.maxItemLength must not be negative")
	}

	if cfg.Targets.GitHub.Enabled {
		g := cfg.Targets.GitHub
		if strings.TrimSpace(g.RepoOwner) == "" {
			return fmt.Errorf("targets.github.repoOwner is required")
		}
		if strings.TrimSpace(g.RepoName) == "" {
			return fmt.Errorf("targets.github.repoName is required")
		}
		if strings.TrimSpace(g.Branch) == "" {
			return fmt.Errorf("targets.github.branch is required")
		}
		if strings.TrimSpace(g.Auth.Token) == "" {
			return fmt.Errorf("targets.github.auth.token is required")
		}
	}
	if cfg.Targets.Git.Enabled {
		g := cfg.Targets.Git
		if strings.TrimSpace(g.RepoURL) == "" {
			return fmt.Errorf("targets.git.repoUrl is required")
		}
		if strings.TrimSpace(g.Branch) == "" {
			return fmt.Errorf("targets.git.branch is required")
		}
		if !strings.EqualFold(g.Auth.Type, "basic") && !strings.EqualFold(g.Auth.Type, "none") {
			return fmt.Errorf("targets.git.auth.type %q not supported", g.Auth.Type)
		}
	}
	if cfg.Targets.ObjectStore.Enabled {
		o := cfg.Targets.ObjectStore
		if strings.TrimSpace(o.Endpoint) == "" {
			return fmt.Errorf("targets.objectStore.endpoint is required")
		}
		if strings.TrimSpace(o.Bucket) == "" {
			return fmt.Errorf("targets.objectStore.bucket is required")
		}
	}

	seen := make(map[string]bool, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		if strings.TrimSpace(s.Cron) == "" || strings.TrimSpace(s.SourceIdentifier) == "" {
			return fmt.Errorf("schedules[%d]: cron and sourceIdentifier are required", i)
		}
		if s.Name != "" {
			if seen[s.Name] {
				return fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name)
			}
			seen[s.Name] = true
		}
	}
	return nil
}

func normalizePathPrefix(p string) string {
	if p == "" {
		return p
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasSuffix(p, "/") {
		p = p + "/"
	}
	p = strings.TrimPrefix(p, "./")
	return p
}
