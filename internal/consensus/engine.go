// Package consensus implements the Local Agreement finalization policy for
// streaming speech recognition.
//
// A streaming recognizer re-transcribes a growing audio window on every
// inference cycle, so the same words are emitted over and over — and the most
// recent words are the ones it is still likely to revise ("type" often becomes
// "typing" once more audio arrives). The [Engine] turns this stream of
// overlapping hypotheses into a transcript with a hard guarantee: text that has
// been committed is never retracted or rewritten, only appended to.
//
// It does so by keeping the trailing stabilityThreshold words of every
// hypothesis provisional and committing only what is older than that window.
// Already-committed words are recognized by their end timestamp against a
// monotonic watermark, never by text equality, so a speaker repeating the same
// word at a later time is not mistaken for a re-emission.
package consensus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quillvoice/quill/pkg/stt"
)

// DefaultStabilityThreshold is the number of trailing hypothesis words kept
// provisional when no explicit threshold is configured. The value is an
// empirical choice, not a derived one; treat it as a starting point.
const DefaultStabilityThreshold = 2

// Update describes the outcome of one engine step. Committed is cumulative;
// Delta carries only what this call added.
type Update struct {
	// Committed is the full committed transcript so far. It never shrinks
	// across calls.
	Committed string

	// Delta is the text committed by this call, concatenated verbatim with
	// each word's own spacing prefix preserved. Empty when nothing new was
	// committed.
	Delta string

	// DeltaSegments are the segments behind Delta in commit order, including
	// their tokens for prompt-context accumulation.
	DeltaSegments []stt.Segment

	// Hypothesis is the concatenation of the uncommitted tail — the words
	// still subject to revision. Empty after a flush.
	Hypothesis string
}

// Engine accumulates committed text across successive recognizer hypotheses.
//
// All methods are safe for concurrent use, though callers are expected to
// serialize hypothesis delivery anyway so that temporal order is preserved.
type Engine struct {
	threshold int

	mu        sync.Mutex
	committed string
	watermark time.Duration
	tail      []stt.Segment
}

// NewEngine creates an [Engine] keeping the trailing stabilityThreshold words
// of every hypothesis provisional. If stabilityThreshold is zero or negative,
// [DefaultStabilityThreshold] is used.
func NewEngine(stabilityThreshold int) *Engine {
	if stabilityThreshold <= 0 {
		stabilityThreshold = DefaultStabilityThreshold
	}
	return &Engine{threshold: stabilityThreshold}
}

// Advance feeds one recognizer hypothesis to the engine.
//
// Segments whose end time is at or before the commit watermark are discarded
// first; they cover audio that is already committed. Of the n remaining
// segments, the oldest n - stabilityThreshold are committed (strictly more
// than the threshold must remain, so a hypothesis of exactly threshold
// segments commits nothing) and the rest become the new provisional tail.
//
// Malformed input — a segment ending at or before its own start, or segments
// out of temporal order — is rejected with an error and leaves the engine
// state untouched. Committed text cannot be repaired downstream, so refusing
// the hypothesis beats guessing.
func (e *Engine) Advance(segments []stt.Segment) (Update, error) {
	for i, s := range segments {
		if s.End <= s.Start {
			return Update{}, fmt.Errorf("consensus: segment %d (%q): end %v not after start %v", i, s.Word, s.End, s.Start)
		}
		if i > 0 && s.Start < segments[i-1].Start {
			return Update{}, fmt.Errorf("consensus: segment %d (%q): start %v precedes segment %d start %v",
				i, s.Word, s.Start, i-1, segments[i-1].Start)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := make([]stt.Segment, 0, len(segments))
	for _, s := range segments {
		if s.End <= e.watermark {
			continue
		}
		kept = append(kept, s)
	}

	var update Update
	if n := len(kept); n > e.threshold {
		stable := kept[:n-e.threshold]
		var delta strings.Builder
		for _, s := range stable {
			delta.WriteString(s.Word)
		}
		update.Delta = delta.String()
		update.DeltaSegments = append([]stt.Segment(nil), stable...)

		e.committed += update.Delta
		e.watermark = stable[len(stable)-1].End
		kept = kept[n-e.threshold:]
	}

	e.tail = append(e.tail[:0], kept...)

	update.Committed = e.committed
	update.Hypothesis = concatWords(e.tail)
	return update, nil
}

// CommitText finalizes a plain-text recognizer result in one step.
//
// Backends without per-word timing cannot participate in Local Agreement, so
// their output is treated as already final: text is joined onto the committed
// transcript with a single space (no separator onto empty) and the watermark
// advances to windowEnd so re-transcriptions of the same window are filtered.
// The provisional tail is cleared; plain-text results have no unstable part.
func (e *Engine) CommitText(text string, windowEnd time.Duration) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	var update Update
	if text != "" {
		update.Delta = text
		if e.committed != "" {
			update.Delta = " " + text
		}
		e.committed += update.Delta
	}
	if windowEnd > e.watermark {
		e.watermark = windowEnd
	}
	e.tail = e.tail[:0]

	update.Committed = e.committed
	return update
}

// Flush commits the provisional tail unconditionally and clears it.
//
// Called when an utterance ends: the recognizer will produce no further
// revisions of this audio, so holding the trailing words hypothetical forever
// would silently drop them.
func (e *Engine) Flush() Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	var update Update
	if len(e.tail) > 0 {
		update.Delta = concatWords(e.tail)
		update.DeltaSegments = append([]stt.Segment(nil), e.tail...)

		e.committed += update.Delta
		e.watermark = e.tail[len(e.tail)-1].End
		e.tail = e.tail[:0]
	}

	update.Committed = e.committed
	return update
}

// Committed returns the full committed transcript so far.
func (e *Engine) Committed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed
}

// Hypothesis returns the current provisional tail as text.
func (e *Engine) Hypothesis() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return concatWords(e.tail)
}

// Watermark returns the end time of the last committed segment. Segments
// ending at or before it are filtered on the next [Engine.Advance].
func (e *Engine) Watermark() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermark
}

// Reset clears the committed text, the watermark and the provisional tail.
// Resetting an already-empty engine is a no-op.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed = ""
	e.watermark = 0
	e.tail = e.tail[:0]
}

func concatWords(segments []stt.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Word)
	}
	return b.String()
}
