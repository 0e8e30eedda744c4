package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/quillvoice/quill/internal/config"
)

func TestValidate_DuplicateFallbackOfPrimary(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  name: whispercpp
  fallbacks:
    - name: whispercpp
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallback duplicating the primary, got nil")
	}
	if !strings.Contains(err.Error(), "duplicates the primary") {
		t.Errorf("error should mention the primary duplicate, got: %v", err)
	}
}

func TestValidate_DuplicateFallbackNames(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  name: whispercpp
  fallbacks:
    - name: openai
    - name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate fallback names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_FallbackNameRequired(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  name: whispercpp
  fallbacks:
    - model: whisper-1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unnamed fallback, got nil")
	}
	if !strings.Contains(err.Error(), "fallbacks[0].name") {
		t.Errorf("error should mention fallbacks[0].name, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  sample_rate: -8000
consensus:
  stability_threshold: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	// All failures should be reported in one joined error.
	errStr := err.Error()
	for _, want := range []string{"sample_rate", "stability_threshold", "recognizer.name"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidRecognizerNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidRecognizerNames) == 0 {
		t.Fatal("ValidRecognizerNames should not be empty")
	}
	for _, want := range []string{"whispercpp", "mock"} {
		if !slices.Contains(config.ValidRecognizerNames, want) {
			t.Errorf("ValidRecognizerNames should contain %q", want)
		}
	}
}
