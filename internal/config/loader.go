package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a configuration with every knob at its documented default.
// A missing config file is not an error; the defaults plus environment
// overrides describe a runnable process.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AdminAddr: ":9190",
			LogLevel:  LogInfo,
		},
		Workers: WorkersConfig{
			Emotion:      WorkerConfig{Replicas: 1, QueueDepth: 8},
			Respond:      WorkerConfig{Replicas: 1, QueueDepth: 8},
			Speech:       WorkerConfig{Replicas: 1, QueueDepth: 8, Lazy: true},
			Device:       DeviceAuto,
			ReadyTimeout: 90 * time.Second,
		},
		Turn: TurnConfig{
			Deadline:        20 * time.Second,
			EmotionTimeout:  3 * time.Second,
			RespondTimeout:  10 * time.Second,
			SpeechTimeout:   8 * time.Second,
			HistoryMaxPairs: 4,
			HistoryMaxChars: 1600,
		},
		Respond: RespondConfig{
			Chain: []RespondBackend{RespondModel, RespondPattern},
		},
		Store: StoreConfig{
			MemorySize: 64,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates. An empty path skips the file and
// uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		if err := decodeStrict(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates.
// Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeStrict(r, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeStrict(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays deployment-level environment variables onto cfg. The
// getenv parameter exists for tests; production callers pass os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("MODEL_CACHE_DIR"); v != "" {
		cfg.Workers.ModelCacheDir = v
	}
	if v := getenv("EMOTION_WORKER_CMD"); v != "" {
		cfg.Workers.Emotion.Command = v
	}
	if v := getenv("RESPONSE_WORKER_CMD"); v != "" {
		cfg.Workers.Respond.Command = v
	}
	if v := getenv("TTS_WORKER_CMD"); v != "" {
		cfg.Workers.Speech.Command = v
	}
	if v := getenv("DEVICE_PREFERENCE"); v != "" {
		cfg.Workers.Device = DevicePreference(v)
	}
	if d, ok := envSeconds(getenv, "WORKER_READY_TIMEOUT_S"); ok {
		cfg.Workers.ReadyTimeout = d
	}
	if d, ok := envSeconds(getenv, "TURN_DEADLINE_S"); ok {
		cfg.Turn.Deadline = d
	}
	if n, ok := envInt(getenv, "HISTORY_MAX_PAIRS"); ok {
		cfg.Turn.HistoryMaxPairs = n
	}
	if n, ok := envInt(getenv, "HISTORY_MAX_CHARS"); ok {
		cfg.Turn.HistoryMaxChars = n
	}
}

func envSeconds(getenv func(string) string, key string) (time.Duration, bool) {
	n, ok := envInt(getenv, key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func envInt(getenv func(string) string, key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for inconsistencies. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}
	if c.Server.AdminAddr == "" {
		errs = append(errs, errors.New("server.admin_addr: must not be empty"))
	}

	if !c.Workers.Device.IsValid() {
		errs = append(errs, fmt.Errorf("workers.device: unknown preference %q", c.Workers.Device))
	}
	if c.Workers.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("workers.ready_timeout: must be positive"))
	}
	for _, w := range []struct {
		name string
		cfg  WorkerConfig
	}{
		{"emotion", c.Workers.Emotion},
		{"respond", c.Workers.Respond},
		{"speech", c.Workers.Speech},
	} {
		if w.cfg.Replicas < 1 {
			errs = append(errs, fmt.Errorf("workers.%s.replicas: must be at least 1", w.name))
		}
		if w.cfg.QueueDepth < 1 {
			errs = append(errs, fmt.Errorf("workers.%s.queue_depth: must be at least 1", w.name))
		}
	}

	if c.Turn.Deadline <= 0 {
		errs = append(errs, errors.New("turn.deadline: must be positive"))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"emotion_timeout", c.Turn.EmotionTimeout},
		{"respond_timeout", c.Turn.RespondTimeout},
		{"speech_timeout", c.Turn.SpeechTimeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("turn.%s: must be positive", d.name))
		}
	}
	if c.Turn.HistoryMaxPairs < 0 {
		errs = append(errs, errors.New("turn.history_max_pairs: must not be negative"))
	}
	if c.Turn.HistoryMaxChars < 0 {
		errs = append(errs, errors.New("turn.history_max_chars: must not be negative"))
	}

	if len(c.Respond.Chain) == 0 {
		errs = append(errs, errors.New("respond.chain: must list at least one backend"))
	}
	seen := map[RespondBackend]bool{}
	for _, b := range c.Respond.Chain {
		if !b.IsValid() {
			errs = append(errs, fmt.Errorf("respond.chain: unknown backend %q", b))
			continue
		}
		if seen[b] {
			errs = append(errs, fmt.Errorf("respond.chain: backend %q listed twice", b))
		}
		seen[b] = true
	}
	if seen[RespondRemote] {
		if c.Respond.Remote.Provider == "" {
			errs = append(errs, errors.New("respond.remote.provider: required when chain includes remote"))
		}
		if c.Respond.Remote.Model == "" {
			errs = append(errs, errors.New("respond.remote.model: required when chain includes remote"))
		}
	}
	if seen[RespondModel] && strings.TrimSpace(c.Workers.Respond.Command) == "" {
		errs = append(errs, errors.New("workers.respond.command: required when chain includes model"))
	}

	if strings.TrimSpace(c.Workers.Emotion.Command) == "" {
		errs = append(errs, errors.New("workers.emotion.command: must not be empty"))
	}

	if c.Store.MemorySize < 1 {
		errs = append(errs, errors.New("store.memory_size: must be at least 1"))
	}

	return errors.Join(errs...)
}

// SplitCommand splits a worker command line on whitespace into the program
// path and its arguments. Quoting is not supported; worker commands are
// simple interpreter invocations.
func SplitCommand(cmd string) (path string, args []string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
