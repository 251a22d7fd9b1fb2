package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Health   HealthConfig   `yaml:"health"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Backends BackendsConfig `yaml:"backends"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Settings SettingsConfig `yaml:"settings"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains control API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// HealthConfig contains the gRPC health service configuration
type HealthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	FrameSize  int    `yaml:"frame_size"` // samples per detector frame
	Input      string `yaml:"input"`      // "-" for stdin or a path to raw float32 PCM
}

// VADConfig contains the energy detector configuration
type VADConfig struct {
	Threshold          float32 `yaml:"threshold"`
	Smoothing          float32 `yaml:"smoothing"`
	MinSpeechDuration  float64 `yaml:"min_speech_duration"` // seconds
	RedemptionDuration float64 `yaml:"redemption_duration"` // seconds of silence that end speech
	PreSpeechPad       float64 `yaml:"pre_speech_pad"`      // seconds kept before speech start
}

// BackendsConfig groups per-backend configuration
type BackendsConfig struct {
	OpenAI     HTTPBackendConfig `yaml:"openai"`
	WhisperCPP HTTPBackendConfig `yaml:"whispercpp"`
	Local      LocalConfig       `yaml:"local"`
	Google     GoogleConfig      `yaml:"google"`
}

// HTTPBackendConfig configures a multipart-upload transcription endpoint
type HTTPBackendConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LocalConfig configures the in-process model
type LocalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ModelVariant string `yaml:"model_variant"`
}

// GoogleConfig configures Google Cloud Speech
type GoogleConfig struct {
	Enabled         bool   `yaml:"enabled"`
	LanguageCode    string `yaml:"language_code"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// DispatchConfig contains dispatcher limits
type DispatchConfig struct {
	Timeout int `yaml:"timeout"` // seconds per backend invocation
}

// SettingsConfig selects and seeds the runtime settings store
type SettingsConfig struct {
	Store    string            `yaml:"store"` // "memory" or "redis"
	Redis    RedisConfig       `yaml:"redis"`
	Defaults map[string]string `yaml:"defaults"`
}

// RedisConfig contains Redis connection details
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Channel   string `yaml:"channel"` // pub/sub channel for transcripts, empty disables publishing

	HistoryKey    string `yaml:"history_key"` // capped list of recent transcripts, empty disables history
	HistoryLength int64  `yaml:"history_length"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs the in-process backend with an in-memory settings store
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Health: HealthConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:50051",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			FrameSize:  512,
			Input:      "-",
		},
		VAD: VADConfig{
			Threshold:          0.5,
			Smoothing:          0.6,
			MinSpeechDuration:  0.25,
			RedemptionDuration: 0.5,
			PreSpeechPad:       0.1,
		},
		Backends: BackendsConfig{
			OpenAI: HTTPBackendConfig{
				Endpoint:      "https://api.openai.com/v1/audio/transcriptions",
				Model:         "whisper-1",
				Timeout:       30,
				MaxConcurrent: 1,
			},
			WhisperCPP: HTTPBackendConfig{
				Endpoint:      "http://127.0.0.1:8080/inference",
				Timeout:       30,
				MaxConcurrent: 1,
			},
			Local: LocalConfig{
				Enabled:      true,
				ModelVariant: "base",
			},
			Google: GoogleConfig{
				LanguageCode: "en-US",
			},
		},
		Dispatch: DispatchConfig{
			Timeout: 60,
		},
		Settings: SettingsConfig{
			Store: "memory",
			Redis: RedisConfig{
				Addr:          "127.0.0.1:6379",
				KeyPrefix:     "stt:settings:",
				HistoryKey:    "stt:transcripts",
				HistoryLength: 100,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr", // stdout carries transcript lines
		},
	}
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

// Loader loads configuration from a YAML file and environment variables.
// Tests can override Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load builds the configuration: defaults, then the YAML file (if path is set), then env overrides
func (l Loader) Load(path string) (*Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	l.applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (l Loader) applyEnv(c *Config) {
	overrideString(l.Lookup, "OPENAI_API_KEY", &c.Backends.OpenAI.APIKey)
	overrideString(l.Lookup, "OPENAI_TRANSCRIPTION_URL", &c.Backends.OpenAI.Endpoint)
	overrideString(l.Lookup, "WHISPERCPP_URL", &c.Backends.WhisperCPP.Endpoint)
	overrideString(l.Lookup, "GOOGLE_APPLICATION_CREDENTIALS", &c.Backends.Google.CredentialsFile)
	overrideString(l.Lookup, "SETTINGS_REDIS_ADDR", &c.Settings.Redis.Addr)
	overrideString(l.Lookup, "SETTINGS_REDIS_PASSWORD", &c.Settings.Redis.Password)
	overrideString(l.Lookup, "LOG_LEVEL", &c.Logging.Level)

	if value, ok := l.Lookup("STT_BACKEND"); ok && strings.TrimSpace(value) != "" {
		if c.Settings.Defaults == nil {
			c.Settings.Defaults = make(map[string]string)
		}
		c.Settings.Defaults[KeySTTBackend] = strings.TrimSpace(value)
	}
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Backends.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai backend config: %w", err)
	}

	if err := c.Backends.WhisperCPP.Validate(); err != nil {
		return fmt.Errorf("whispercpp backend config: %w", err)
	}

	if err := c.Backends.Google.Validate(); err != nil {
		return fmt.Errorf("google backend config: %w", err)
	}

	if c.Dispatch.Timeout < 1 {
		return fmt.Errorf("dispatch config: timeout must be at least 1 second, got %d", c.Dispatch.Timeout)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates the health service configuration
func (h *HealthConfig) Validate() error {
	if h.Enabled && h.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty when health is enabled")
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.FrameSize < 160 || a.FrameSize > 4096 {
		return fmt.Errorf("frame_size must be between 160 and 4096 samples, got %d", a.FrameSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold <= 0 || v.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", v.Threshold)
	}

	if v.Smoothing <= 0 || v.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", v.Smoothing)
	}

	if v.MinSpeechDuration < 0 {
		return fmt.Errorf("min_speech_duration cannot be negative, got %f", v.MinSpeechDuration)
	}

	if v.RedemptionDuration <= 0 {
		return fmt.Errorf("redemption_duration must be positive, got %f", v.RedemptionDuration)
	}

	if v.PreSpeechPad < 0 {
		return fmt.Errorf("pre_speech_pad cannot be negative, got %f", v.PreSpeechPad)
	}

	return nil
}

// Validate validates an HTTP backend configuration
func (b *HTTPBackendConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if b.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if b.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", b.Timeout)
	}

	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", b.MaxRetries)
	}

	if b.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", b.MaxConcurrent)
	}

	return nil
}

// Validate validates Google Cloud Speech configuration
func (g *GoogleConfig) Validate() error {
	if g.Enabled && g.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}
	return nil
}

// Validate validates the settings store configuration
func (s *SettingsConfig) Validate() error {
	switch s.Store {
	case "memory":
	case "redis":
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis addr cannot be empty when store is redis")
		}
	default:
		return fmt.Errorf("store must be 'memory' or 'redis', got '%s'", s.Store)
	}

	for key := range s.Defaults {
		if !IsKnownKey(key) {
			return fmt.Errorf("unknown settings key '%s' in defaults", key)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the backend timeout as a time.Duration
func (b *HTTPBackendConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetTimeoutDuration returns the dispatch timeout as a time.Duration
func (d *DispatchConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetRedemptionDuration returns the trailing silence that ends speech as a time.Duration
func (v *VADConfig) GetRedemptionDuration() time.Duration {
	return time.Duration(v.RedemptionDuration * float64(time.Second))
}

// GetPreSpeechPad returns the pre-speech padding as a time.Duration
func (v *VADConfig) GetPreSpeechPad() time.Duration {
	return time.Duration(v.PreSpeechPad * float64(time.Second))
}
