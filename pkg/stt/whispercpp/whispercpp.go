// Package whispercpp implements stt.Recognizer with the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// Inference is configured for word-granular output: token timestamps on,
// segments split on word boundaries with a max segment length of one, so
// every returned stt.Segment is a single word with its own timing. Words
// after the first carry whisper's leading-space prefix.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quillvoice/quill/pkg/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Recognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

const (
	defaultLanguage    = "en"
	defaultIdleTimeout = 5 * time.Minute
)

// Recognizer runs whisper.cpp inference over audio windows. The model is
// loaded at construction and shared across calls; each Transcribe creates a
// fresh whisper context, since contexts are not thread-safe but the model is.
//
// After an idle period without Transcribe calls the model is released to
// return its memory, and the next call reloads it transparently (paying the
// load latency once). Set the idle timeout to zero to keep the model
// resident for the recognizer's lifetime.
type Recognizer struct {
	modelPath   string
	language    string
	threads     uint
	translate   bool
	idleTimeout time.Duration

	mu        sync.Mutex
	model     whisperlib.Model
	idleTimer *time.Timer
	timerGen  int
	closed    bool
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithThreads sets the number of CPU threads whisper.cpp uses per inference.
// Zero lets the bindings pick their default.
func WithThreads(n uint) Option {
	return func(r *Recognizer) { r.threads = n }
}

// WithTranslate enables whisper's translate-to-English mode.
func WithTranslate(enabled bool) Option {
	return func(r *Recognizer) { r.translate = enabled }
}

// WithIdleTimeout sets how long the recognizer may sit unused before the
// model is released. Zero disables idle release. Defaults to 5 minutes.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.idleTimeout = d }
}

// New creates a Recognizer that loads the whisper.cpp model from the given
// file path. The caller must call Close when the recognizer is no longer
// needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	r := &Recognizer{
		modelPath:   modelPath,
		language:    defaultLanguage,
		idleTimeout: defaultIdleTimeout,
	}
	for _, o := range opts {
		o(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureModelLocked(); err != nil {
		return nil, err
	}
	r.scheduleReleaseLocked()
	return r, nil
}

// Transcribe runs whisper.cpp inference over one window of mono float32
// samples at 16 kHz and returns word-granular timed segments. The prompt
// tokens prime decoding so the model keeps style and vocabulary consistent
// with earlier committed text.
//
// Inference is not interruptible once started; ctx is checked before the
// model runs, and a session that stopped meanwhile discards the result.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, prompt []stt.Token) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return stt.Result{}, errors.New("whispercpp: recognizer is closed")
	}
	if err := r.ensureModelLocked(); err != nil {
		return stt.Result{}, err
	}
	defer r.scheduleReleaseLocked()

	wctx, err := r.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whispercpp: create context: %w", err)
	}

	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	wctx.SetMaxSegmentLength(1)
	wctx.SetTranslate(r.translate)
	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}
	if p := stt.PromptText(prompt); p != "" {
		wctx.SetInitialPrompt(p)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whispercpp: failed to set language, using default",
			"language", r.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var segments []stt.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}

		out := stt.Segment{
			Word:  seg.Text,
			Start: seg.Start,
			End:   seg.End,
		}
		var probSum float64
		for _, tok := range seg.Tokens {
			if !wctx.IsText(tok) {
				continue
			}
			out.Tokens = append(out.Tokens, stt.Token{ID: tok.Id, Text: tok.Text})
			probSum += float64(tok.P)
		}
		if len(out.Tokens) > 0 {
			out.Probability = probSum / float64(len(out.Tokens))
		}
		segments = append(segments, out)
	}

	return stt.Result{Segments: segments}, nil
}

// Close releases the whisper model and stops the idle timer. Calling Close
// more than once is safe and returns nil.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	if r.model != nil {
		err := r.model.Close()
		r.model = nil
		return err
	}
	return nil
}

// ensureModelLocked loads the model if it was released. Callers hold mu.
func (r *Recognizer) ensureModelLocked() error {
	if r.model != nil {
		return nil
	}
	model, err := whisperlib.New(r.modelPath)
	if err != nil {
		return fmt.Errorf("whispercpp: load model %q: %w", r.modelPath, err)
	}
	r.model = model
	slog.Info("whispercpp: model loaded", "path", r.modelPath)
	return nil
}

// scheduleReleaseLocked (re)arms the idle release timer. Callers hold mu.
// Bumping the generation invalidates a timer that already fired and is
// waiting on mu; Stop alone cannot cancel it.
func (r *Recognizer) scheduleReleaseLocked() {
	if r.idleTimeout <= 0 {
		return
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.timerGen++
	gen := r.timerGen
	r.idleTimer = time.AfterFunc(r.idleTimeout, func() { r.releaseIdle(gen) })
}

// releaseIdle frees the model after the idle timeout elapses. The next
// Transcribe call reloads it.
func (r *Recognizer) releaseIdle(gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.timerGen || r.closed || r.model == nil {
		return
	}
	if err := r.model.Close(); err != nil {
		slog.Warn("whispercpp: release idle model", "error", err)
	}
	r.model = nil
	slog.Info("whispercpp: model released after idle period",
		"path", r.modelPath, "idle", r.idleTimeout)
}
