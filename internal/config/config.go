package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	VAD           VADConfig           `yaml:"vad"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Merge         MergeConfig         `yaml:"merge"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Diarization   DiarizationConfig   `yaml:"diarization"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP ingest server configuration
type ServerConfig struct {
	UDPPort               int    `yaml:"udp_port"`
	BindAddress           string `yaml:"bind_address"`
	BufferSize            int    `yaml:"buffer_size"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
	SessionTimeout        int    `yaml:"session_timeout"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio stream parameters
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// SegmenterConfig contains utterance segmentation parameters
type SegmenterConfig struct {
	PartialInterval float64 `yaml:"partial_interval"` // seconds
	PartialWindow   float64 `yaml:"partial_window"`   // seconds
	MinSpeech       float64 `yaml:"min_speech"`       // seconds
	PostSilence     float64 `yaml:"post_silence"`     // seconds
	MaxUtterance    float64 `yaml:"max_utterance"`    // seconds
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	Mode      string  `yaml:"mode"` // energy or flux
	Threshold float64 `yaml:"threshold"`
	RiseRatio float64 `yaml:"rise_ratio"`
}

// DispatchConfig contains dispatch queue and worker configuration
type DispatchConfig struct {
	QueueCapacity   int     `yaml:"queue_capacity"`
	Workers         int     `yaml:"workers"`
	SubmitTimeout   int     `yaml:"submit_timeout"` // seconds
	MaxNoSpeechProb float64 `yaml:"max_no_speech_prob"`
}

// MergeConfig contains turn merging configuration
type MergeConfig struct {
	ReorderDepth    int     `yaml:"reorder_depth"`
	InterruptionGap float64 `yaml:"interruption_gap"` // seconds
}

// TranscriptionConfig contains transcription backend configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// DiarizationConfig contains speaker identification configuration
type DiarizationConfig struct {
	Enabled            bool   `yaml:"enabled"`
	ReferenceVoicePath string `yaml:"reference_voice_path"`
}

// OutputConfig contains transcript persistence configuration
type OutputConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with working defaults. A config file
// overrides only the fields it sets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:               9999,
			BindAddress:           "0.0.0.0",
			BufferSize:            65536,
			MaxConcurrentSessions: 100,
			SessionTimeout:        30,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		Segmenter: SegmenterConfig{
			PartialInterval: 1.0,
			PartialWindow:   0.6,
			MinSpeech:       0.3,
			PostSilence:     0.4,
			MaxUtterance:    8.0,
		},
		VAD: VADConfig{
			Mode:      "energy",
			Threshold: 0.5,
			RiseRatio: 1.75,
		},
		Dispatch: DispatchConfig{
			QueueCapacity:   32,
			Workers:         2,
			SubmitTimeout:   5,
			MaxNoSpeechProb: 0.6,
		},
		Merge: MergeConfig{
			ReorderDepth:    4,
			InterruptionGap: 1.0,
		},
		Transcription: TranscriptionConfig{
			Timeout:       30,
			MaxConcurrent: 4,
		},
		Diarization: DiarizationConfig{
			Enabled: true,
		},
		Output: OutputConfig{
			Enabled:   true,
			Directory: "transcripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Values like ${API_KEY} are
// expanded from the environment before parsing so secrets stay out of the
// file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}

	if err := c.Merge.Validate(); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
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

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.PartialInterval <= 0 {
		return fmt.Errorf("partial_interval must be positive, got %f", s.PartialInterval)
	}

	if s.PartialWindow <= 0 {
		return fmt.Errorf("partial_window must be positive, got %f", s.PartialWindow)
	}

	if s.MinSpeech <= 0 {
		return fmt.Errorf("min_speech must be positive, got %f", s.MinSpeech)
	}

	if s.PostSilence <= 0 {
		return fmt.Errorf("post_silence must be positive, got %f", s.PostSilence)
	}

	if s.MaxUtterance <= s.MinSpeech {
		return fmt.Errorf("max_utterance (%f) must be greater than min_speech (%f)",
			s.MaxUtterance, s.MinSpeech)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Mode != "energy" && v.Mode != "flux" {
		return fmt.Errorf("mode must be 'energy' or 'flux', got '%s'", v.Mode)
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.Mode == "flux" && v.RiseRatio <= 1 {
		return fmt.Errorf("rise_ratio must be greater than 1, got %f", v.RiseRatio)
	}

	return nil
}

// Validate validates dispatch configuration
func (d *DispatchConfig) Validate() error {
	if d.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", d.QueueCapacity)
	}

	if d.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", d.Workers)
	}

	if d.SubmitTimeout < 1 {
		return fmt.Errorf("submit_timeout must be at least 1 second, got %d", d.SubmitTimeout)
	}

	if d.MaxNoSpeechProb <= 0 || d.MaxNoSpeechProb > 1 {
		return fmt.Errorf("max_no_speech_prob must be between 0 and 1, got %f", d.MaxNoSpeechProb)
	}

	return nil
}

// Validate validates merge configuration
func (m *MergeConfig) Validate() error {
	if m.ReorderDepth < 0 {
		return fmt.Errorf("reorder_depth cannot be negative, got %d", m.ReorderDepth)
	}

	if m.InterruptionGap < 0 {
		return fmt.Errorf("interruption_gap cannot be negative, got %f", m.InterruptionGap)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	if o.Enabled && o.Directory == "" {
		return fmt.Errorf("directory cannot be empty when output is enabled")
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

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (s *ServerConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// GetPartialIntervalDuration returns the partial interval as a time.Duration
func (s *SegmenterConfig) GetPartialIntervalDuration() time.Duration {
	return time.Duration(s.PartialInterval * float64(time.Second))
}

// GetSubmitTimeoutDuration returns the submit timeout as a time.Duration
func (d *DispatchConfig) GetSubmitTimeoutDuration() time.Duration {
	return time.Duration(d.SubmitTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
