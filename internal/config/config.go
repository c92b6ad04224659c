// Package config provides the configuration schema and loader for the
// attuned serving core. Configuration is a YAML file with environment
// variable overrides for deployment-level knobs.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DevicePreference selects where workers place their models.
type DevicePreference string

const (
	DeviceAuto DevicePreference = "auto"
	DeviceGPU  DevicePreference = "gpu"
	DeviceCPU  DevicePreference = "cpu"
)

// IsValid reports whether d is a recognised device preference.
func (d DevicePreference) IsValid() bool {
	switch d {
	case DeviceAuto, DeviceGPU, DeviceCPU:
		return true
	}
	return false
}

// RespondBackend selects a response-generation backend for the fallback
// chain.
type RespondBackend string

const (
	RespondModel   RespondBackend = "model"
	RespondRemote  RespondBackend = "remote"
	RespondPattern RespondBackend = "pattern"
)

// IsValid reports whether b is a recognised respond backend.
func (b RespondBackend) IsValid() bool {
	switch b {
	case RespondModel, RespondRemote, RespondPattern:
		return true
	}
	return false
}

// Config is the root configuration, loaded from YAML via [Load] with
// environment overrides applied by [ApplyEnv].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Workers WorkersConfig `yaml:"workers"`
	Turn    TurnConfig    `yaml:"turn"`
	Respond RespondConfig `yaml:"respond"`
	Speech  SpeechConfig  `yaml:"speech"`
	Store   StoreConfig   `yaml:"store"`
}

// ServerConfig holds the admin endpoint and logging settings.
type ServerConfig struct {
	// AdminAddr is the TCP address of the admin/metrics endpoint
	// (default ":9190").
	AdminAddr string `yaml:"admin_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// WorkerConfig describes one worker capability.
type WorkerConfig struct {
	// Command is the spawn command line, split on whitespace. Overridden by
	// the *_WORKER_CMD environment variables.
	Command string `yaml:"command"`

	// Replicas is the number of worker processes to run (default 1).
	Replicas int `yaml:"replicas"`

	// QueueDepth bounds per-worker queued calls (default 8).
	QueueDepth int `yaml:"queue_depth"`

	// Lazy defers the first spawn until the first call.
	Lazy bool `yaml:"lazy"`
}

// WorkersConfig holds the three worker capabilities and their shared
// environment.
type WorkersConfig struct {
	Emotion WorkerConfig `yaml:"emotion"`
	Respond WorkerConfig `yaml:"respond"`
	Speech  WorkerConfig `yaml:"speech"`

	// ModelCacheDir is exported to workers as MODEL_CACHE_DIR.
	ModelCacheDir string `yaml:"model_cache_dir"`

	// Device is exported to workers as ATTUNE_DEVICE (default auto).
	Device DevicePreference `yaml:"device"`

	// ReadyTimeout bounds worker start plus model load (default 90s).
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// TurnConfig holds the orchestrator's deadlines and history bounds.
type TurnConfig struct {
	// Deadline is the end-to-end turn budget (default 20s).
	Deadline time.Duration `yaml:"deadline"`

	// EmotionTimeout bounds the classification stage (default 3s).
	EmotionTimeout time.Duration `yaml:"emotion_timeout"`

	// RespondTimeout bounds the generation stage (default 10s).
	RespondTimeout time.Duration `yaml:"respond_timeout"`

	// SpeechTimeout bounds the synthesis stage (default 8s).
	SpeechTimeout time.Duration `yaml:"speech_timeout"`

	// HistoryMaxPairs bounds exchanges reaching the respond stage
	// (default 4).
	HistoryMaxPairs int `yaml:"history_max_pairs"`

	// HistoryMaxChars bounds total history characters (default 1600).
	HistoryMaxChars int `yaml:"history_max_chars"`
}

// RespondConfig orders the response-generation chain and configures the
// remote backend.
type RespondConfig struct {
	// Chain lists backends in try order (default [model, pattern]; remote
	// is added when configured).
	Chain []RespondBackend `yaml:"chain"`

	// Remote configures the hosted LLM backend.
	Remote RemoteLLMConfig `yaml:"remote"`
}

// RemoteLLMConfig selects the any-llm provider used by the remote respond
// backend.
type RemoteLLMConfig struct {
	// Provider is one of: openai, anthropic, gemini, ollama.
	Provider string `yaml:"provider"`

	// Model is the provider-specific model name.
	Model string `yaml:"model"`

	// APIKey overrides the provider's environment-variable key lookup.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`
}

// SpeechConfig configures the synthesis chain.
type SpeechConfig struct {
	// OpenAI configures the hosted synthesis fallback; empty key disables
	// it.
	OpenAI OpenAISpeechConfig `yaml:"openai"`
}

// OpenAISpeechConfig holds the hosted speech backend settings.
type OpenAISpeechConfig struct {
	APIKey string `yaml:"api_key"`
	Voice  string `yaml:"voice"`
	Model  string `yaml:"model"`
}

// StoreConfig selects the transcript store.
type StoreConfig struct {
	// PostgresDSN enables the durable transcript store; empty selects the
	// in-memory ring.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MemorySize bounds the in-memory per-session ring (default 64).
	MemorySize int `yaml:"memory_size"`
}
