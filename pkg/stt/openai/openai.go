// Package openai provides a cloud recognizer backed by the OpenAI audio
// transcription API.
//
// The API returns whole-window text without word timing, so results take the
// plain-text shape: the dictation core applies them as already final instead
// of running stability tracking. Each Transcribe call uploads the window as
// a WAV file; latency and cost scale with window length, making this backend
// better suited as a fallback than as the primary for long dictation.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/quillvoice/quill/pkg/audio"
	"github.com/quillvoice/quill/pkg/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "whisper-1"

// Ensure Recognizer implements the stt.Recognizer interface.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer implements stt.Recognizer using the OpenAI API.
type Recognizer struct {
	client     oai.Client
	model      string
	language   string
	sampleRate int
}

// config holds optional configuration for the recognizer.
type config struct {
	baseURL    string
	timeout    time.Duration
	language   string
	sampleRate int
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithLanguage sets the ISO-639-1 input language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithSampleRate sets the sample rate of windows passed to Transcribe.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// New constructs a new OpenAI transcription Recognizer.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{sampleRate: audio.DefaultSampleRate}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Recognizer{
		client:     client,
		model:      model,
		language:   cfg.language,
		sampleRate: cfg.sampleRate,
	}, nil
}

// Transcribe uploads the window as a WAV file and returns the transcription
// as a plain-text Result. Prompt tokens are joined into the API's free-text
// prompt field.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, prompt []stt.Token) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{}, nil
	}

	wav := audio.EncodeWAV(samples, r.sampleRate)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "window.wav", "audio/wav"),
		Model: oai.AudioModel(r.model),
	}
	if r.language != "" {
		params.Language = param.NewOpt(r.language)
	}
	if p := strings.TrimSpace(stt.PromptText(prompt)); p != "" {
		params.Prompt = param.NewOpt(p)
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Result{Text: strings.TrimSpace(resp.Text)}, nil
}
