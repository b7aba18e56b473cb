// Package capture wires the idea-capture service together: configuration,
// collaborators, both directory watchers and the pipeline.
package capture

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig []byte

// SampleConfig returns the annotated example configuration written by `idea init`.
func SampleConfig() []byte {
	return bytes.Clone(sampleConfig)
}

// DefaultConfigPath is used when neither --config nor IDEA_CONFIG is set.
const DefaultConfigPath = "~/.config/idea-capture/config.toml"

// ConfigEnv names the environment variable holding a config file path.
const ConfigEnv = "IDEA_CONFIG"

// Default values for optional configuration fields
const (
	DefaultLogDir            = "~/.local/state/idea-capture"
	DefaultPollIntervalMs    = 5000
	DefaultStableDurationMs  = 15000
	DefaultRescanIntervalMs  = 30000
	DefaultShutdownGraceMs   = 30000
	DefaultTranscriberBack   = BackendWhisperCLI
	DefaultTranscriberExe    = "whisper-cli"
	DefaultLanguage          = "auto"
	DefaultThreads           = 4
	DefaultTranscribeTimeout = 600
	DefaultFormatterBackend  = BackendOllama
	DefaultFormatterEndpoint = "http://localhost:11434"
	DefaultFormatterModel    = "mistral:7b"
	DefaultFormatTimeout     = 300
	DefaultNotifyTitle       = "Idea Capture"
	DefaultNotifyTimeout     = 10
	DefaultLogLevel          = "info"
	DefaultRetentionDays     = 30
)

// Backend names.
const (
	BackendWhisperCLI = "whisper-cli"
	BackendWhisperASR = "whisper-asr"
	BackendOllama     = "ollama"
	BackendOpenAI     = "openai"
)

// DefaultPatterns are the audio file patterns picked up from landing and staging.
var DefaultPatterns = []string{"*.mp3", "*.m4a", "*.wav", "*.ogg", "*.aac"}

// Paths holds the directories the service works in.
type Paths struct {
	LandingDir string `toml:"landing_dir"`
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	// ArchiveDir receives processed recordings. Empty deletes them instead.
	ArchiveDir string `toml:"archive_dir"`
	LogDir     string `toml:"log_dir"`
}

// Watch holds the directory polling settings.
type Watch struct {
	Patterns         []string `toml:"patterns"`
	PollIntervalMs   int      `toml:"poll_interval_ms"`
	StableDurationMs int      `toml:"stable_duration_ms"`
	RescanIntervalMs int      `toml:"rescan_interval_ms"`
	ShutdownGraceMs  int      `toml:"shutdown_grace_ms"`
}

// PollInterval is the landing poll period.
func (w Watch) PollInterval() time.Duration { return ms(w.PollIntervalMs) }

// StableDuration is how long a size must hold before a file is moved.
func (w Watch) StableDuration() time.Duration { return ms(w.StableDurationMs) }

// RescanInterval is the staging rescan period.
func (w Watch) RescanInterval() time.Duration { return ms(w.RescanIntervalMs) }

// ShutdownGrace is how long in-flight runs may continue after a stop request.
func (w Watch) ShutdownGrace() time.Duration { return ms(w.ShutdownGraceMs) }

// Transcriber selects and configures the speech-to-text backend.
type Transcriber struct {
	Backend        string `toml:"backend"`
	Executable     string `toml:"executable"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	Threads        int    `toml:"threads"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	APIURL         string `toml:"api_url"`
}

// Timeout bounds a single transcription.
func (t Transcriber) Timeout() time.Duration { return seconds(t.TimeoutSeconds) }

// Formatter selects and configures the language-model backend.
type Formatter struct {
	Backend        string `toml:"backend"`
	Endpoint       string `toml:"endpoint"`
	Model          string `toml:"model"`
	Instruction    string `toml:"instruction"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout bounds a single formatting request.
func (f Formatter) Timeout() time.Duration { return seconds(f.TimeoutSeconds) }

// Notify configures push notifications.
type Notify struct {
	Endpoint       string   `toml:"endpoint"`
	Title          string   `toml:"title"`
	Tags           []string `toml:"tags"`
	OnFailure      bool     `toml:"on_failure"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Timeout bounds a single notification POST.
func (n Notify) Timeout() time.Duration { return seconds(n.TimeoutSeconds) }

// Logging configures the log files.
type Logging struct {
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// API configures the optional status endpoint.
type API struct {
	Bind string `toml:"bind"`
}

// Config represents the service configuration
type Config struct {
	Paths       Paths       `toml:"paths"`
	Watch       Watch       `toml:"watch"`
	Transcriber Transcriber `toml:"transcriber"`
	Formatter   Formatter   `toml:"formatter"`
	Notify      Notify      `toml:"notify"`
	Logging     Logging     `toml:"logging"`
	API         API         `toml:"api"`
}

// Validation errors
var (
	ErrLandingDirRequired = errors.New("paths.landing_dir is required")
	ErrStagingDirRequired = errors.New("paths.staging_dir is required")
	ErrOutputDirRequired  = errors.New("paths.output_dir is required")
	ErrDirsNotDistinct    = errors.New("landing, staging and output directories must be distinct")
	ErrModelRequired      = errors.New("transcriber.model is required")
	ErrASRURLRequired     = errors.New("transcriber.api_url is required for the whisper-asr backend")
	ErrUnknownBackend     = errors.New("unknown backend")
	ErrInvalidDuration    = errors.New("durations must be positive")
	ErrInvalidLogLevel    = errors.New("logging.level must be debug, info, warn or error")
)

// Default returns a configuration with every optional field set.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ResolvePath picks the config file: the explicit path, then IDEA_CONFIG,
// then DefaultConfigPath. The result has ~ expanded.
func ResolvePath(explicit string) string {
	switch {
	case explicit != "":
		return expandTilde(explicit)
	case os.Getenv(ConfigEnv) != "":
		return expandTilde(os.Getenv(ConfigEnv))
	default:
		return expandTilde(DefaultConfigPath)
	}
}

// Load reads the config file at path, applies defaults and environment
// overrides and expands paths. A missing file is an error wrapping
// fs.ErrNotExist; Validate is left to the caller.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML config data. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("parse config: %s", strict.String())
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	cfg.expandPaths()
	return &cfg, nil
}

// Save writes the configuration as TOML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyDefaults sets default values for optional fields that are empty or zero.
func (c *Config) ApplyDefaults() {
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = DefaultLogDir
	}
	if len(c.Watch.Patterns) == 0 {
		c.Watch.Patterns = append([]string(nil), DefaultPatterns...)
	}
	if c.Watch.PollIntervalMs == 0 {
		c.Watch.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Watch.StableDurationMs == 0 {
		c.Watch.StableDurationMs = DefaultStableDurationMs
	}
	if c.Watch.RescanIntervalMs == 0 {
		c.Watch.RescanIntervalMs = DefaultRescanIntervalMs
	}
	if c.Watch.ShutdownGraceMs == 0 {
		c.Watch.ShutdownGraceMs = DefaultShutdownGraceMs
	}
	if c.Transcriber.Backend == "" {
		c.Transcriber.Backend = DefaultTranscriberBack
	}
	if c.Transcriber.Executable == "" {
		c.Transcriber.Executable = DefaultTranscriberExe
	}
	if c.Transcriber.Language == "" {
		c.Transcriber.Language = DefaultLanguage
	}
	if c.Transcriber.Threads == 0 {
		c.Transcriber.Threads = DefaultThreads
	}
	if c.Transcriber.TimeoutSeconds == 0 {
		c.Transcriber.TimeoutSeconds = DefaultTranscribeTimeout
	}
	if c.Formatter.Backend == "" {
		c.Formatter.Backend = DefaultFormatterBackend
	}
	if c.Formatter.Endpoint == "" {
		c.Formatter.Endpoint = DefaultFormatterEndpoint
	}
	if c.Formatter.Model == "" {
		c.Formatter.Model = DefaultFormatterModel
	}
	if c.Formatter.TimeoutSeconds == 0 {
		c.Formatter.TimeoutSeconds = DefaultFormatTimeout
	}
	if c.Notify.Title == "" {
		c.Notify.Title = DefaultNotifyTitle
	}
	if c.Notify.TimeoutSeconds == 0 {
		c.Notify.TimeoutSeconds = DefaultNotifyTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = DefaultRetentionDays
	}
}

// ApplyEnv overrides fields from IDEA_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	overrides := []struct {
		key   string
		field *string
	}{
		{"IDEA_LANDING_DIR", &c.Paths.LandingDir},
		{"IDEA_STAGING_DIR", &c.Paths.StagingDir},
		{"IDEA_OUTPUT_DIR", &c.Paths.OutputDir},
		{"IDEA_NOTIFY_ENDPOINT", &c.Notify.Endpoint},
		{"IDEA_FORMATTER_ENDPOINT", &c.Formatter.Endpoint},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.field = v
		}
	}
}

// Validate checks required fields and value ranges. Existence and
// reachability are checked separately by preflight.
func (c *Config) Validate() error {
	if c.Paths.LandingDir == "" {
		return ErrLandingDirRequired
	}
	if c.Paths.StagingDir == "" {
		return ErrStagingDirRequired
	}
	if c.Paths.OutputDir == "" {
		return ErrOutputDirRequired
	}
	dirs := []string{
		filepath.Clean(c.Paths.LandingDir),
		filepath.Clean(c.Paths.StagingDir),
		filepath.Clean(c.Paths.OutputDir),
	}
	if dirs[0] == dirs[1] || dirs[0] == dirs[2] || dirs[1] == dirs[2] {
		return ErrDirsNotDistinct
	}

	for _, v := range []int{
		c.Watch.PollIntervalMs, c.Watch.StableDurationMs, c.Watch.RescanIntervalMs,
		c.Watch.ShutdownGraceMs, c.Transcriber.TimeoutSeconds, c.Formatter.TimeoutSeconds,
		c.Notify.TimeoutSeconds,
	} {
		if v <= 0 {
			return ErrInvalidDuration
		}
	}

	switch c.Transcriber.Backend {
	case BackendWhisperCLI:
		if c.Transcriber.Model == "" {
			return ErrModelRequired
		}
	case BackendWhisperASR:
		if c.Transcriber.APIURL == "" {
			return ErrASRURLRequired
		}
	default:
		return fmt.Errorf("%w: transcriber.backend %q", ErrUnknownBackend, c.Transcriber.Backend)
	}

	switch c.Formatter.Backend {
	case BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("%w: formatter.backend %q", ErrUnknownBackend, c.Formatter.Backend)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}

// IsNotExist reports whether err came from a missing config file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// expandPaths expands ~ to the user's home directory in path fields.
func (c *Config) expandPaths() {
	c.Paths.LandingDir = expandTilde(c.Paths.LandingDir)
	c.Paths.StagingDir = expandTilde(c.Paths.StagingDir)
	c.Paths.OutputDir = expandTilde(c.Paths.OutputDir)
	c.Paths.ArchiveDir = expandTilde(c.Paths.ArchiveDir)
	c.Paths.LogDir = expandTilde(c.Paths.LogDir)
	c.Transcriber.Executable = expandTilde(c.Transcriber.Executable)
	c.Transcriber.Model = expandTilde(c.Transcriber.Model)
}

// expandTilde expands ~ at the beginning of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func ms(v int) time.Duration      { return time.Duration(v) * time.Millisecond }
func seconds(v int) time.Duration { return time.Duration(v) * time.Second }
