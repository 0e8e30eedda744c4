package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/quillvoice/quill/internal/config"
	"github.com/quillvoice/quill/pkg/stt"
	"github.com/quillvoice/quill/pkg/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: info

audio:
  sample_rate: 16000
  frame_ms: 20
  ring_seconds: 600

vad:
  activation_threshold: 0.02
  deactivation_threshold: 0.01
  min_speech_ms: 80
  min_silence_ms: 500

consensus:
  stability_threshold: 3

context:
  max_tokens: 128

pipeline:
  inference_interval_ms: 400
  max_window_seconds: 25
  lead_in_ms: 150

recognizer:
  name: whispercpp
  model: /models/ggml-base.en.bin
  language: en
  idle_unload_seconds: 300
  options:
    threads: 4
  fallbacks:
    - name: openai
      api_key: sk-test
      model: whisper-1

vocabulary:
  - Grafana
  - Kubernetes
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.VAD.ActivationThreshold != 0.02 {
		t.Errorf("vad.activation_threshold: got %g, want 0.02", cfg.VAD.ActivationThreshold)
	}
	if cfg.Consensus.StabilityThreshold != 3 {
		t.Errorf("consensus.stability_threshold: got %d, want 3", cfg.Consensus.StabilityThreshold)
	}
	if cfg.Pipeline.MaxWindowSeconds != 25 {
		t.Errorf("pipeline.max_window_seconds: got %d, want 25", cfg.Pipeline.MaxWindowSeconds)
	}
	if cfg.Recognizer.Name != "whispercpp" {
		t.Errorf("recognizer.name: got %q, want whispercpp", cfg.Recognizer.Name)
	}
	if cfg.Recognizer.Model != "/models/ggml-base.en.bin" {
		t.Errorf("recognizer.model: got %q", cfg.Recognizer.Model)
	}
	if len(cfg.Recognizer.Fallbacks) != 1 || cfg.Recognizer.Fallbacks[0].Name != "openai" {
		t.Fatalf("recognizer.fallbacks: got %+v, want one openai entry", cfg.Recognizer.Fallbacks)
	}
	if len(cfg.Vocabulary) != 2 || cfg.Vocabulary[0] != "Grafana" {
		t.Errorf("vocabulary: got %v", cfg.Vocabulary)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	// Only the recognizer is required; everything else defaults.
	yaml := `
recognizer:
  name: mock
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("audio.sample_rate: got %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMs != 20 {
		t.Errorf("audio.frame_ms: got %d, want 20", cfg.Audio.FrameMs)
	}
	if cfg.Audio.RingSeconds != 600 {
		t.Errorf("audio.ring_seconds: got %d, want 600", cfg.Audio.RingSeconds)
	}
	if cfg.VAD.ActivationThreshold != 0.015 {
		t.Errorf("vad.activation_threshold: got %g, want 0.015", cfg.VAD.ActivationThreshold)
	}
	if cfg.VAD.DeactivationThreshold != 0.008 {
		t.Errorf("vad.deactivation_threshold: got %g, want 0.008", cfg.VAD.DeactivationThreshold)
	}
	if cfg.VAD.MinSpeechMs != 60 || cfg.VAD.MinSilenceMs != 600 {
		t.Errorf("vad durations: got %d/%d, want 60/600", cfg.VAD.MinSpeechMs, cfg.VAD.MinSilenceMs)
	}
	if cfg.Consensus.StabilityThreshold != 2 {
		t.Errorf("consensus.stability_threshold: got %d, want 2", cfg.Consensus.StabilityThreshold)
	}
	if cfg.Context.MaxTokens != 224 {
		t.Errorf("context.max_tokens: got %d, want 224", cfg.Context.MaxTokens)
	}
	if cfg.Pipeline.InferenceIntervalMs != 500 {
		t.Errorf("pipeline.inference_interval_ms: got %d, want 500", cfg.Pipeline.InferenceIntervalMs)
	}
	if cfg.Pipeline.MaxWindowSeconds != 30 {
		t.Errorf("pipeline.max_window_seconds: got %d, want 30", cfg.Pipeline.MaxWindowSeconds)
	}
	if cfg.Pipeline.LeadInMs != 200 {
		t.Errorf("pipeline.lead_in_ms: got %d, want 200", cfg.Pipeline.LeadInMs)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("server.listen_addr should stay empty (HTTP disabled), got %q", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
recognizer:
  name: mock
  modle: typo.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
recognizer:
  name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingRecognizer(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for missing recognizer, got nil")
	}
	if !strings.Contains(err.Error(), "recognizer.name") {
		t.Errorf("error should mention recognizer.name, got: %v", err)
	}
}

func TestValidate_ThresholdsOutOfOrder(t *testing.T) {
	yaml := `
vad:
  activation_threshold: 0.01
  deactivation_threshold: 0.05
recognizer:
  name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for deactivation above activation, got nil")
	}
	if !strings.Contains(err.Error(), "deactivation_threshold") {
		t.Errorf("error should mention deactivation_threshold, got: %v", err)
	}
}

func TestValidate_NegativeSampleRate(t *testing.T) {
	yaml := `
audio:
  sample_rate: -16000
recognizer:
  name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative sample_rate, got nil")
	}
	if !strings.Contains(err.Error(), "sample_rate") {
		t.Errorf("error should mention sample_rate, got: %v", err)
	}
}

func TestValidate_InvalidStabilityThreshold(t *testing.T) {
	yaml := `
consensus:
  stability_threshold: -1
recognizer:
  name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for stability_threshold below 1, got nil")
	}
	if !strings.Contains(err.Error(), "stability_threshold") {
		t.Errorf("error should mention stability_threshold, got: %v", err)
	}
}

func TestValidate_WindowShorterThanInterval(t *testing.T) {
	yaml := `
pipeline:
  inference_interval_ms: 5000
  max_window_seconds: 2
recognizer:
  name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for window shorter than interval, got nil")
	}
}

func TestValidate_RingShorterThanWindow(t *testing.T) {
	yaml := `
audio:
  ring_seconds: 10
pipeline:
  max_window_seconds: 30
recognizer:
  name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for ring shorter than max window, got nil")
	}
	if !strings.Contains(err.Error(), "ring_seconds") {
		t.Errorf("error should mention ring_seconds, got: %v", err)
	}
}

func TestValidate_BlankVocabularyTerm(t *testing.T) {
	yaml := `
recognizer:
  name: mock
vocabulary:
  - Grafana
  - "  "
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for blank vocabulary term, got nil")
	}
	if !strings.Contains(err.Error(), "vocabulary[1]") {
		t.Errorf("error should mention vocabulary[1], got: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownRecognizer(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateRecognizer(config.RecognizerEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown recognizer")
	}
	if !errors.Is(err, config.ErrRecognizerNotRegistered) {
		t.Errorf("expected ErrRecognizerNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredRecognizer(t *testing.T) {
	reg := config.NewRegistry()
	want := &mock.Recognizer{}
	var gotEntry config.RecognizerEntry
	reg.RegisterRecognizer("stub", func(e config.RecognizerEntry) (stt.Recognizer, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateRecognizer(config.RecognizerEntry{Name: "stub", Model: "tiny"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned recognizer is not the expected instance")
	}
	if gotEntry.Model != "tiny" {
		t.Errorf("factory entry.Model = %q, want tiny", gotEntry.Model)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterRecognizer("broken", func(e config.RecognizerEntry) (stt.Recognizer, error) {
		return nil, wantErr
	})
	_, err := reg.CreateRecognizer(config.RecognizerEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := config.NewRegistry()
	for _, name := range []string{"openai", "mock", "whispercpp"} {
		reg.RegisterRecognizer(name, func(e config.RecognizerEntry) (stt.Recognizer, error) {
			return &mock.Recognizer{}, nil
		})
	}
	got := reg.Names()
	want := []string{"mock", "openai", "whispercpp"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v (sorted)", got, want)
		}
	}
}
