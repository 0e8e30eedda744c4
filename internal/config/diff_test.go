package config_test

import (
	"testing"

	"github.com/quillvoice/quill/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Vocabulary: []string{"Grafana"},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.VocabularyChanged {
		t.Error("expected VocabularyChanged=false for identical configs")
	}
	if d.RequiresRestart {
		t.Error("expected RequiresRestart=false for identical configs")
	}
	if d.HotApplicable() {
		t.Error("expected nothing hot-applicable for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RequiresRestart {
		t.Error("log level change should not require a restart")
	}
	if !d.HotApplicable() {
		t.Error("log level change should be hot-applicable")
	}
}

func TestDiff_VocabularyChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Vocabulary: []string{"Grafana"}}
	new := &config.Config{Vocabulary: []string{"Grafana", "Kubernetes"}}

	d := config.Diff(old, new)
	if !d.VocabularyChanged {
		t.Error("expected VocabularyChanged=true")
	}
	if len(d.NewVocabulary) != 2 || d.NewVocabulary[1] != "Kubernetes" {
		t.Errorf("NewVocabulary = %v, want the new term list", d.NewVocabulary)
	}
	if d.RequiresRestart {
		t.Error("vocabulary change should not require a restart")
	}
}

func TestDiff_VocabularyCleared(t *testing.T) {
	t.Parallel()
	old := &config.Config{Vocabulary: []string{"Grafana"}}
	new := &config.Config{}

	d := config.Diff(old, new)
	if !d.VocabularyChanged {
		t.Error("expected VocabularyChanged=true when terms are removed")
	}
	if len(d.NewVocabulary) != 0 {
		t.Errorf("NewVocabulary = %v, want empty", d.NewVocabulary)
	}
}

func TestDiff_PipelineChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{Pipeline: config.PipelineConfig{InferenceIntervalMs: 500}}
	new := &config.Config{Pipeline: config.PipelineConfig{InferenceIntervalMs: 250}}

	d := config.Diff(old, new)
	if !d.RequiresRestart {
		t.Error("pipeline change should require a restart")
	}
	if d.HotApplicable() {
		t.Error("pipeline change alone should not be hot-applicable")
	}
}

func TestDiff_OTLPEndpointChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{OTLPEndpoint: ""}}
	new := &config.Config{Server: config.ServerConfig{OTLPEndpoint: "localhost:4317"}}

	d := config.Diff(old, new)
	if !d.RequiresRestart {
		t.Error("otlp_endpoint change should require a restart")
	}
	if d.HotApplicable() {
		t.Error("otlp_endpoint change alone should not be hot-applicable")
	}
}

func TestDiff_RecognizerChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{}
	old.Recognizer.Name = "whispercpp"
	new.Recognizer.Name = "openai"

	d := config.Diff(old, new)
	if !d.RequiresRestart {
		t.Error("recognizer change should require a restart")
	}
}

func TestDiff_RecognizerOptionsChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{}
	old.Recognizer.Name = "whispercpp"
	new.Recognizer.Name = "whispercpp"
	new.Recognizer.Options = map[string]any{"threads": 8}

	d := config.Diff(old, new)
	if !d.RequiresRestart {
		t.Error("recognizer options change should require a restart")
	}
}

func TestDiff_MixedChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		VAD:        config.VADConfig{ActivationThreshold: 0.015},
		Vocabulary: []string{"Grafana"},
	}
	new := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogWarn},
		VAD:        config.VADConfig{ActivationThreshold: 0.03},
		Vocabulary: []string{"Grafana", "Prometheus"},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged || !d.VocabularyChanged {
		t.Error("expected both hot-applicable changes to be detected")
	}
	if !d.RequiresRestart {
		t.Error("VAD change should require a restart")
	}
}
