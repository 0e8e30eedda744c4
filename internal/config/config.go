// Package config provides the configuration schema, loader, and recognizer
// registry for the Quill dictation server.
package config

// LogLevel controls log verbosity for the Quill server.
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

// Config is the root configuration structure for Quill.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Context    ContextConfig    `yaml:"context"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Recognizer RecognizerConfig `yaml:"recognizer"`

	// Vocabulary lists terms the session corrects recognised words toward
	// (product names, jargon, proper nouns). May be empty.
	Vocabulary []string `yaml:"vocabulary"`
}

// ServerConfig holds network and logging settings for the Quill server.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics and health endpoints listen
	// on (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// OTLPEndpoint is the host:port of an OTLP gRPC collector to send trace
	// spans to (e.g., "localhost:4317"). Empty disables span export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables transport security for the collector connection.
	OTLPInsecure bool `yaml:"otlp_insecure"`
}

// AudioConfig describes the capture format the session expects.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the VAD analysis frame length in milliseconds. Default: 20.
	FrameMs int `yaml:"frame_ms"`

	// RingSeconds is the capture ring buffer capacity in seconds of audio.
	// Default: 600.
	RingSeconds int `yaml:"ring_seconds"`
}

// VADConfig tunes the energy-based speech detector.
type VADConfig struct {
	// ActivationThreshold is the RMS energy above which frames count toward
	// speech onset. Default: 0.015.
	ActivationThreshold float64 `yaml:"activation_threshold"`

	// DeactivationThreshold is the RMS energy below which frames count
	// toward trailing silence. Must not exceed ActivationThreshold.
	// Default: 0.008.
	DeactivationThreshold float64 `yaml:"deactivation_threshold"`

	// MinSpeechMs is how long energy must stay above the activation
	// threshold before speech starts. Default: 60.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MinSilenceMs is how long energy must stay below the deactivation
	// threshold before speech ends. Default: 600.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// HangoverResetThreshold resets accumulated trailing silence when
	// energy rises above it. Zero means use ActivationThreshold.
	HangoverResetThreshold float64 `yaml:"hangover_reset_threshold"`
}

// ConsensusConfig tunes the local-agreement engine.
type ConsensusConfig struct {
	// StabilityThreshold is how many consecutive hypotheses must agree on a
	// word before it is committed. Default: 2.
	StabilityThreshold int `yaml:"stability_threshold"`
}

// ContextConfig bounds the rolling token context fed back to recognizers.
type ContextConfig struct {
	// MaxTokens is the number of recent committed tokens kept as the
	// recognizer prompt. Default: 224.
	MaxTokens int `yaml:"max_tokens"`
}

// PipelineConfig tunes the inference cadence of the session loop.
type PipelineConfig struct {
	// InferenceIntervalMs is the pause between transcription cycles during
	// speech. Default: 500.
	InferenceIntervalMs int `yaml:"inference_interval_ms"`

	// MaxWindowSeconds caps the audio span sent to the recognizer in one
	// cycle. Default: 30.
	MaxWindowSeconds int `yaml:"max_window_seconds"`

	// LeadInMs is how much audio before the detected speech onset is
	// included in the first window of an utterance. Default: 200.
	LeadInMs int `yaml:"lead_in_ms"`
}

// RecognizerEntry describes a single speech recognition backend. The Name
// field selects the factory registered in the [Registry].
type RecognizerEntry struct {
	// Name selects the registered backend (e.g., "whispercpp", "openai").
	Name string `yaml:"name"`

	// Model is the model identifier: a ggml file path for whispercpp, a
	// hosted model name for API backends.
	Model string `yaml:"model"`

	// APIKey authenticates API backends. Ignored by local ones.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	// Leave empty to use the backend's built-in default.
	BaseURL string `yaml:"base_url"`

	// Language hints the spoken language (e.g., "en"). Empty means the
	// backend's default or auto-detection.
	Language string `yaml:"language"`

	// IdleUnloadSeconds unloads a local model after this much inactivity.
	// Zero keeps it loaded. Ignored by API backends.
	IdleUnloadSeconds int `yaml:"idle_unload_seconds"`

	// Options holds backend-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// RecognizerConfig selects the primary backend and any fallbacks tried in
// order when it fails.
type RecognizerConfig struct {
	RecognizerEntry `yaml:",inline"`

	// Fallbacks are additional backends tried in order after the primary.
	Fallbacks []RecognizerEntry `yaml:"fallbacks"`
}

// applyDefaults fills zero-valued fields with the documented defaults.
// Negative values are left alone for [Validate] to reject. The recognizer
// section has no defaults; a backend must be named explicitly.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 20
	}
	if cfg.Audio.RingSeconds == 0 {
		cfg.Audio.RingSeconds = 600
	}
	if cfg.VAD.ActivationThreshold == 0 {
		cfg.VAD.ActivationThreshold = 0.015
	}
	if cfg.VAD.DeactivationThreshold == 0 {
		cfg.VAD.DeactivationThreshold = 0.008
	}
	if cfg.VAD.MinSpeechMs == 0 {
		cfg.VAD.MinSpeechMs = 60
	}
	if cfg.VAD.MinSilenceMs == 0 {
		cfg.VAD.MinSilenceMs = 600
	}
	if cfg.Consensus.StabilityThreshold == 0 {
		cfg.Consensus.StabilityThreshold = 2
	}
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 224
	}
	if cfg.Pipeline.InferenceIntervalMs == 0 {
		cfg.Pipeline.InferenceIntervalMs = 500
	}
	if cfg.Pipeline.MaxWindowSeconds == 0 {
		cfg.Pipeline.MaxWindowSeconds = 30
	}
	if cfg.Pipeline.LeadInMs == 0 {
		cfg.Pipeline.LeadInMs = 200
	}
}
