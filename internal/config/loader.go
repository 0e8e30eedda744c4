package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidRecognizerNames lists the backend names that ship with Quill.
// Used by [Validate] to warn about likely typos; unknown names are not an
// error so third-party factories can still be registered.
var ValidRecognizerNames = []string{"whispercpp", "openai", "deepgram", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}
	if cfg.Audio.RingSeconds <= 0 {
		errs = append(errs, fmt.Errorf("audio.ring_seconds %d must be positive", cfg.Audio.RingSeconds))
	}

	// VAD
	if cfg.VAD.ActivationThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.activation_threshold %g must be positive", cfg.VAD.ActivationThreshold))
	}
	if cfg.VAD.DeactivationThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.deactivation_threshold %g must be positive", cfg.VAD.DeactivationThreshold))
	}
	if cfg.VAD.DeactivationThreshold > cfg.VAD.ActivationThreshold {
		errs = append(errs, fmt.Errorf("vad.deactivation_threshold %g must not exceed vad.activation_threshold %g",
			cfg.VAD.DeactivationThreshold, cfg.VAD.ActivationThreshold))
	}
	if cfg.VAD.MinSpeechMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms %d must be positive", cfg.VAD.MinSpeechMs))
	}
	if cfg.VAD.MinSilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d must be positive", cfg.VAD.MinSilenceMs))
	}
	if cfg.VAD.HangoverResetThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_reset_threshold %g must not be negative", cfg.VAD.HangoverResetThreshold))
	}

	// Consensus
	if cfg.Consensus.StabilityThreshold < 1 {
		errs = append(errs, fmt.Errorf("consensus.stability_threshold %d must be at least 1", cfg.Consensus.StabilityThreshold))
	}

	// Context
	if cfg.Context.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("context.max_tokens %d must not be negative", cfg.Context.MaxTokens))
	}

	// Pipeline
	if cfg.Pipeline.InferenceIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.inference_interval_ms %d must be positive", cfg.Pipeline.InferenceIntervalMs))
	}
	if cfg.Pipeline.MaxWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_window_seconds %d must be positive", cfg.Pipeline.MaxWindowSeconds))
	}
	if cfg.Pipeline.LeadInMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.lead_in_ms %d must not be negative", cfg.Pipeline.LeadInMs))
	}
	if 1000*cfg.Pipeline.MaxWindowSeconds < cfg.Pipeline.InferenceIntervalMs {
		errs = append(errs, fmt.Errorf("pipeline.max_window_seconds %d is shorter than pipeline.inference_interval_ms %d",
			cfg.Pipeline.MaxWindowSeconds, cfg.Pipeline.InferenceIntervalMs))
	}
	if cfg.Audio.RingSeconds < cfg.Pipeline.MaxWindowSeconds {
		errs = append(errs, fmt.Errorf("audio.ring_seconds %d must be at least pipeline.max_window_seconds %d",
			cfg.Audio.RingSeconds, cfg.Pipeline.MaxWindowSeconds))
	}

	// Recognizer: primary is required, fallback names must be present and
	// unique so per-backend circuit breakers stay distinguishable.
	seen := make(map[string]int, 1+len(cfg.Recognizer.Fallbacks))
	if cfg.Recognizer.Name == "" {
		errs = append(errs, errors.New("recognizer.name is required"))
	} else {
		warnUnknownRecognizer(cfg.Recognizer.Name)
		seen[cfg.Recognizer.Name] = -1
	}
	for i, fb := range cfg.Recognizer.Fallbacks {
		prefix := fmt.Sprintf("recognizer.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			if prev < 0 {
				errs = append(errs, fmt.Errorf("%s.name %q duplicates the primary recognizer", prefix, fb.Name))
			} else {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of recognizer.fallbacks[%d]", prefix, fb.Name, prev))
			}
			continue
		}
		seen[fb.Name] = i
		warnUnknownRecognizer(fb.Name)
	}

	// Vocabulary
	for i, term := range cfg.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("vocabulary[%d] is blank", i))
		}
	}

	return errors.Join(errs...)
}

// warnUnknownRecognizer logs a warning if name is non-empty and not found in
// [ValidRecognizerNames].
func warnUnknownRecognizer(name string) {
	if slices.Contains(ValidRecognizerNames, name) {
		return
	}
	slog.Warn("unknown recognizer name — may be a typo or third-party backend",
		"name", name,
		"known", ValidRecognizerNames,
	)
}
