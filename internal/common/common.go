package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey        = "X-API-Key"
	ContentTypeJSON     = "application/json"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeHTML     = "text/html; charset=utf-8"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathJobs    = "/v1/jobs"
	PathItems   = "/v1/items"
	PathEvents  = "/v1/events"
)

// Queue names, one per stage.
const (
	QueueDiscovery       = "discovery_queue"
	QueueDownload        = "download_queue"
	QueueAudioExtraction = "audio_extraction_queue"
	QueueTranscription   = "transcription_queue"
	QueueSummarization   = "summarization_queue"
)

// Event types emitted by the stages.
const (
	EventItemDiscovered         = "item_discovered"
	EventItemDownloaded         = "item_downloaded"
	EventAudioExtracted         = "audio_extracted"
	EventTranscriptionCompleted = "transcription_completed"
	EventSummarizationCompleted = "summarization_completed"
	EventItemFailed             = "item_failed"
	EventJobSubmitted           = "job_submitted"
)

// Redis key layout shared by the relay and the event channels.
const (
	RedisKeyPrefix        = "condenser:"
	RedisQueueRegistry    = RedisKeyPrefix + "queues"
	RedisQueuePrefix      = RedisKeyPrefix + "queue:"
	RedisProcessingSuffix = ":processing"
	RedisEventsChannel    = RedisKeyPrefix + "events"
	RedisStreamPrefix     = RedisKeyPrefix + "events:"
)

// Defaults and limits
const (
	DefaultHandoffBuffer     = 64
	DefaultPoolSize          = 4
	DefaultItemCountLimit    = 5
	DefaultMaxItemLengthMins = 30
	DefaultTokenLimit        = 4000
	DefaultChunkTargetTokens = 3000
	SQLiteBusyTimeoutMS      = 5000
	MaxTitleLength           = 100
	ChunkPlaceholder         = "[unintelligible]"
)

// Git related constants
const (
	GitExecutable = "git"
	GitRemoteName = "origin"
)

// Subdirectory names
const (
	ReposDirName = "repos"
)
