// Package dictation orchestrates the streaming dictation pipeline: captured
// audio flows through a ring buffer into voice-activity detection, bounded
// speech windows are transcribed by a recognizer backend, and successive
// hypotheses are reduced to stable committed text through Local Agreement.
//
// A [Session] has two execution contexts. The capture path calls only
// [Session.WriteSamples], which appends to a preallocated ring buffer and
// never blocks. A single processing goroutine owns everything else — VAD,
// windowing, recognizer invocation, consensus, accumulation — so hypotheses
// are applied strictly in temporal order without extra locking.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillvoice/quill/internal/consensus"
	"github.com/quillvoice/quill/internal/observe"
	"github.com/quillvoice/quill/internal/transcript"
	"github.com/quillvoice/quill/internal/transcript/phonetic"
	"github.com/quillvoice/quill/pkg/audio"
	"github.com/quillvoice/quill/pkg/stt"
	"github.com/quillvoice/quill/pkg/vad"
)

// Pipeline defaults. The inference interval and window cap trade latency
// against recognizer load; both are tunables, not derived values.
const (
	DefaultSampleRate        = 16000
	DefaultFrameDuration     = 20 * time.Millisecond
	DefaultInferenceInterval = 500 * time.Millisecond
	DefaultMaxWindow         = 30 * time.Second
	DefaultLeadIn            = 200 * time.Millisecond
	DefaultRingCapacity      = 10 * time.Minute
	DefaultFailureThreshold  = 5
)

// Events are the session's outbound callbacks. Any field may be nil. All
// callbacks are invoked from the processing goroutine and must not block;
// a slow callback stalls the pipeline.
type Events struct {
	// OnPartial fires whenever the unstable hypothesis tail changes,
	// including the transition to empty when an utterance is finalized.
	OnPartial func(text string)

	// OnCommitted fires with each committed increment. Increments carry
	// their own spacing prefixes, so concatenating them verbatim
	// reproduces the transcript.
	OnCommitted func(text string)

	// OnSpeechStart and OnSpeechEnd mirror the detector's boundary events.
	OnSpeechStart func()
	OnSpeechEnd   func()

	// OnError fires once per outage when consecutive recognizer failures
	// reach the configured threshold. Individual failures are logged and
	// skipped, not surfaced here.
	OnError func(err error)
}

// Config tunes a dictation session. Zero values take the package defaults.
type Config struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int

	// FrameDuration is the VAD frame size and the processing-loop cadence.
	FrameDuration time.Duration

	// InferenceInterval is the audio-time spacing between recognizer calls
	// within an utterance.
	InferenceInterval time.Duration

	// MaxWindow caps the audio span of a single recognizer call. When an
	// utterance outgrows it, the window origin slides forward to the
	// committed watermark.
	MaxWindow time.Duration

	// LeadIn is how far the utterance window reaches back before the
	// detected speech onset, so the first word is not clipped.
	LeadIn time.Duration

	// RingCapacity is the span of recent audio the ring buffer retains.
	RingCapacity time.Duration

	// StabilityThreshold is the number of trailing hypothesis words kept
	// provisional. Zero uses [consensus.DefaultStabilityThreshold].
	StabilityThreshold int

	// MaxContextTokens bounds the prompt context fed back to the
	// recognizer. Zero uses [transcript.DefaultMaxContextTokens].
	MaxContextTokens int

	// FailureThreshold is the number of consecutive recognizer failures
	// before Events.OnError fires.
	FailureThreshold int

	// Backend labels recognizer metrics and log lines.
	Backend string

	// VAD configures the voice-activity detector; zero fields take the
	// detector defaults.
	VAD vad.Config

	// Vocabulary lists domain terms applied as phonetic corrections to
	// committed text. Empty disables correction.
	Vocabulary []string

	// Logger receives pipeline diagnostics. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics receives instrumentation. Nil uses observe.DefaultMetrics().
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.InferenceInterval == 0 {
		c.InferenceInterval = DefaultInferenceInterval
	}
	if c.MaxWindow == 0 {
		c.MaxWindow = DefaultMaxWindow
	}
	if c.LeadIn == 0 {
		c.LeadIn = DefaultLeadIn
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Backend == "" {
		c.Backend = "recognizer"
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("sample rate must be positive"))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, errors.New("frame duration must be positive"))
	}
	if c.InferenceInterval < c.FrameDuration {
		errs = append(errs, errors.New("inference interval must be at least one frame"))
	}
	if c.MaxWindow < c.InferenceInterval {
		errs = append(errs, errors.New("max window must be at least the inference interval"))
	}
	if c.LeadIn < 0 {
		errs = append(errs, errors.New("lead-in must not be negative"))
	}
	if c.RingCapacity < c.MaxWindow {
		errs = append(errs, errors.New("ring capacity must be at least the max window"))
	}
	if c.FailureThreshold < 0 {
		errs = append(errs, errors.New("failure threshold must not be negative"))
	}
	return errors.Join(errs...)
}

// Session runs one dictation pipeline over a single recognizer backend.
//
// WriteSamples is safe to call from a real-time capture callback at any
// point in the session's life. The remaining methods are safe for concurrent
// use from ordinary goroutines.
type Session struct {
	cfg    Config
	rec    stt.Recognizer
	events Events
	log    *slog.Logger
	met    *observe.Metrics

	ring   *audio.Ring
	det    *vad.Detector
	engine *consensus.Engine
	accum  *transcript.Accumulator

	// epoch invalidates in-flight work: recognizer results observed under
	// a stale epoch are discarded before touching the engine.
	epoch atomic.Int64

	// processed is the ring index the loop has analyzed through, published
	// after each frame completes.
	processed atomic.Int64

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	corrector *transcript.VocabCorrector
	wg        sync.WaitGroup
}

// New creates a session around rec. The recognizer is required; everything
// in cfg has a usable default.
func New(rec stt.Recognizer, cfg Config, events Events) (*Session, error) {
	if rec == nil {
		return nil, errors.New("dictation: recognizer is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("dictation: invalid config: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		rec:    rec,
		events: events,
		log:    cfg.Logger,
		met:    cfg.Metrics,
		ring:   audio.NewRingDuration(cfg.RingCapacity, cfg.SampleRate),
		det:    vad.New(cfg.VAD),
		engine: consensus.NewEngine(cfg.StabilityThreshold),
		accum:  transcript.NewAccumulator(cfg.MaxContextTokens),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.met == nil {
		s.met = observe.DefaultMetrics()
	}
	if len(cfg.Vocabulary) > 0 {
		s.corrector = transcript.NewVocabCorrector(phonetic.New(), cfg.Vocabulary)
	}
	return s, nil
}

// WriteSamples appends captured mono samples to the session's ring buffer.
// It is the only method meant for the capture callback: it never blocks,
// never allocates, and shares no locks with the processing loop.
func (s *Session) WriteSamples(samples []float32) {
	s.ring.Write(samples)
}

// Start launches the processing loop. Audio written before Start is not
// processed; the loop picks up at the live edge of the ring. Returns an
// error if the session is already running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("dictation: session already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.met.ActiveSessions.Add(context.Background(), 1)
	s.wg.Add(1)
	go s.run(ctx, s.ring.TotalWritten())
	return nil
}

// Stop halts the processing loop and waits for it to exit. Any in-flight
// recognizer result is discarded when it returns. The transcript survives a
// Stop and the session may be started again; use [Session.Reset] to also
// discard accumulated text.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.det.Reset()
	s.met.ActiveSessions.Add(context.Background(), -1)
}

// Running reports whether the processing loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Processed reports the ring index the processing loop has analyzed through,
// including any inference triggered by those frames. While running it trails
// the write side by at most a frame plus the loop cadence. Feeders of finite
// input can poll it to let the pipeline catch up before stopping.
func (s *Session) Processed() int64 {
	return s.processed.Load()
}

// Reset discards the transcript, the prompt context, and any utterance in
// progress. Results of in-flight recognizer calls are dropped when they
// return. Safe to call whether or not the session is running; resetting an
// already-empty session is a no-op.
func (s *Session) Reset() {
	s.epoch.Add(1)
	s.engine.Reset()
	s.accum.Reset()
}

// Transcript returns the committed text accumulated so far, vocabulary
// corrections applied. Committed text is never retracted.
func (s *Session) Transcript() string {
	return s.accum.FullText()
}

// Hypothesis returns the current unstable tail, empty outside an utterance.
func (s *Session) Hypothesis() string {
	return s.engine.Hypothesis()
}

// SetVocabulary replaces the correction term list, taking effect from the
// next committed delta. Already-committed text is not rewritten. An empty
// list disables correction.
func (s *Session) SetVocabulary(terms []string) {
	var corr *transcript.VocabCorrector
	if len(terms) > 0 {
		corr = transcript.NewVocabCorrector(phonetic.New(), terms)
	}
	s.mu.Lock()
	s.corrector = corr
	s.mu.Unlock()
}

// run is the processing loop; cursor is the ring index processing starts at.
// All windowing and utterance state lives here; confining it to one goroutine
// keeps hypothesis application serialized and temporally ordered without
// extra locking.
func (s *Session) run(ctx context.Context, cursor int64) {
	defer s.wg.Done()

	var (
		rate         = s.cfg.SampleRate
		frameSamples = audio.SampleCount(s.cfg.FrameDuration, rate)
		inferStride  = audio.SampleCount(s.cfg.InferenceInterval, rate)
		windowCap    = audio.SampleCount(s.cfg.MaxWindow, rate)
		onsetReach   = audio.SampleCount(s.det.Config().MinSpeechDuration+s.cfg.LeadIn, rate)
	)

	var (
		epoch       = s.epoch.Load()
		inUtterance bool
		windowStart int64
		nextInferAt int64
		lastPartial string
		failures    int
	)

	// translate shifts window-relative segment times onto the session
	// timeline so the engine's watermark stays meaningful across windows.
	translate := func(segments []stt.Segment, offset time.Duration) []stt.Segment {
		out := make([]stt.Segment, len(segments))
		copy(out, segments)
		for i := range out {
			out[i].Start += offset
			out[i].End += offset
		}
		return out
	}

	// deliver applies one consensus update: vocabulary correction, metrics,
	// context accumulation, and the outbound events.
	deliver := func(upd consensus.Update) {
		delta := upd.Delta
		if delta != "" {
			s.mu.Lock()
			corr := s.corrector
			s.mu.Unlock()
			if corrected, fixes := corr.Apply(delta); len(fixes) > 0 {
				for _, fix := range fixes {
					s.log.Debug("vocabulary correction",
						"from", fix.Original, "to", fix.Corrected, "confidence", fix.Confidence)
				}
				s.met.RecordVocabCorrections(ctx, len(fixes))
				delta = corrected
			}

			var tokens []stt.Token
			for _, seg := range upd.DeltaSegments {
				tokens = append(tokens, seg.Tokens...)
			}
			words := strings.Fields(delta)
			if len(tokens) == 0 {
				// Backend exposes no token ids; synthesize text-only
				// tokens so prompt context still carries the words.
				for _, w := range words {
					tokens = append(tokens, stt.Token{Text: " " + w})
				}
			}
			s.accum.Append(strings.TrimSpace(delta), tokens)
			s.met.RecordCommit(ctx, len(words))
			if s.events.OnCommitted != nil {
				s.events.OnCommitted(delta)
			}
		}
		if upd.Hypothesis != lastPartial {
			lastPartial = upd.Hypothesis
			if s.events.OnPartial != nil {
				s.events.OnPartial(upd.Hypothesis)
			}
		}
	}

	// transcribeWindow runs one inference cycle over [windowStart, end).
	// A failed cycle degrades to "no update"; the next window supersedes it.
	transcribeWindow := func(end int64) {
		samples := s.ring.Snapshot(windowStart, end)
		if len(samples) == 0 {
			return
		}
		offset := audio.Duration(windowStart, rate)
		windowDur := audio.Duration(int64(len(samples)), rate)

		started := time.Now()
		res, err := s.rec.Transcribe(ctx, samples, s.accum.Context())
		elapsed := time.Since(started)

		if ctx.Err() != nil || s.epoch.Load() != epoch {
			return // session stopped or reset; result is stale
		}
		if err != nil {
			failures++
			s.met.RecordSTT(ctx, s.cfg.Backend, "error", elapsed.Seconds())
			s.met.RecordRecognizerError(ctx, s.cfg.Backend)
			s.log.Warn("transcription failed",
				"backend", s.cfg.Backend, "window", windowDur, "consecutive", failures, "error", err)
			if failures == s.cfg.FailureThreshold && s.events.OnError != nil {
				s.events.OnError(fmt.Errorf("dictation: recognizer %s failing (%d consecutive errors): %w",
					s.cfg.Backend, failures, err))
			}
			return
		}
		failures = 0
		s.met.RecordSTT(ctx, s.cfg.Backend, "ok", elapsed.Seconds())
		s.met.WindowDuration.Record(ctx, windowDur.Seconds())

		if !res.Timed() {
			// Plain-text backends cannot participate in Local Agreement:
			// the result is final as delivered and the window is consumed,
			// so the next cycle transcribes only new audio.
			deliver(s.engine.CommitText(strings.TrimSpace(res.Text), offset+windowDur))
			windowStart = end
			return
		}

		upd, err := s.engine.Advance(translate(res.Segments, offset))
		if err != nil {
			s.log.Warn("rejected malformed hypothesis", "backend", s.cfg.Backend, "error", err)
			return
		}
		deliver(upd)
	}

	ticker := time.NewTicker(s.cfg.FrameDuration)
	defer ticker.Stop()
	s.processed.Store(cursor)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A bumped epoch means Reset was called: abandon the current
		// utterance and start clean from the live edge.
		if e := s.epoch.Load(); e != epoch {
			epoch = e
			s.det.Reset()
			s.engine.Reset()
			s.accum.Reset()
			inUtterance = false
			lastPartial = ""
			failures = 0
			cursor = s.ring.TotalWritten()
			s.processed.Store(cursor)
		}

		for s.ring.TotalWritten()-cursor >= frameSamples {
			if ctx.Err() != nil {
				return
			}
			if oldest := s.ring.TotalWritten() - int64(s.ring.Capacity()); cursor < oldest {
				s.log.Warn("capture overran the processing loop",
					"dropped", audio.Duration(oldest-cursor, rate))
				cursor = oldest
			}

			frame := s.ring.Snapshot(cursor, cursor+frameSamples)
			cursor += frameSamples

			switch s.det.Process(frame, s.cfg.FrameDuration) {
			case vad.SpeechStart:
				inUtterance = true
				windowStart = max(cursor-onsetReach, 0)
				nextInferAt = cursor + inferStride
				s.log.Debug("speech started", "at", audio.Duration(cursor, rate))
				if s.events.OnSpeechStart != nil {
					s.events.OnSpeechStart()
				}

			case vad.SpeechEnd:
				if inUtterance {
					transcribeWindow(cursor)
					deliver(s.engine.Flush())
					inUtterance = false
					s.met.RecordUtterance(ctx)
				}
				s.log.Debug("speech ended", "at", audio.Duration(cursor, rate))
				if s.events.OnSpeechEnd != nil {
					s.events.OnSpeechEnd()
				}

			default:
				if !inUtterance || cursor < nextInferAt {
					break
				}
				transcribeWindow(cursor)
				nextInferAt = cursor + inferStride

				// Slide the window once it outgrows the cap: audio behind
				// the committed watermark carries no new information. If
				// nothing has been committed, clamp hard and accept the
				// recognizer losing the clipped prefix.
				if cursor-windowStart > windowCap {
					if ws := audio.SampleCount(s.engine.Watermark(), rate); ws > windowStart {
						windowStart = ws
					}
					if floor := cursor - windowCap; windowStart < floor {
						windowStart = floor
					}
				}
			}
			s.processed.Store(cursor)
		}
	}
}
