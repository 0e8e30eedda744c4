// Package transcript owns the committed dictation transcript: accumulation of
// finalized text, the bounded token context used to prompt the recognizer, and
// optional custom-vocabulary correction of committed increments.
package transcript

import (
	"strings"
	"sync"

	"github.com/quillvoice/quill/pkg/stt"
)

// DefaultMaxContextTokens is the token-context budget used when none is
// configured. Whisper-family models accept at most 224 prompt tokens; the
// value is inherited as-is rather than derived.
const DefaultMaxContextTokens = 224

// Accumulator collects committed text increments and their recognizer tokens
// over a dictation session.
//
// The text side grows without bound (it is the user's transcript); the token
// side is trimmed to the most recent maxContext tokens so that long sessions
// never exceed the recognizer's prompt window. Trimming keeps the suffix:
// recent words prime the next inference call far better than old ones.
//
// All methods are safe for concurrent use.
type Accumulator struct {
	maxContext int

	mu       sync.Mutex
	fullText string
	context  []stt.Token
}

// NewAccumulator creates an [Accumulator] whose token context is bounded to
// maxContextTokens. If maxContextTokens is zero or negative,
// [DefaultMaxContextTokens] is used.
func NewAccumulator(maxContextTokens int) *Accumulator {
	if maxContextTokens <= 0 {
		maxContextTokens = DefaultMaxContextTokens
	}
	return &Accumulator{maxContext: maxContextTokens}
}

// Append joins text onto the accumulated transcript with a single space (no
// separator when the transcript is still empty) and appends tokens to the
// context, trimming it to the most recent maxContext tokens. An empty text
// contributes no separator; tokens are still recorded.
func (a *Accumulator) Append(text string, tokens []stt.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if text != "" {
		if a.fullText == "" {
			a.fullText = text
		} else {
			a.fullText += " " + text
		}
	}

	a.context = append(a.context, tokens...)
	if len(a.context) > a.maxContext {
		a.context = a.context[len(a.context)-a.maxContext:]
	}
}

// FullText returns the full accumulated committed transcript.
func (a *Accumulator) FullText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fullText
}

// Context returns a copy of the retained token context, at most maxContext
// tokens, oldest first.
func (a *Accumulator) Context() []stt.Token {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]stt.Token, len(a.context))
	copy(out, a.context)
	return out
}

// ContextText returns the retained context rendered as prompt text.
func (a *Accumulator) ContextText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var b strings.Builder
	for _, tok := range a.context {
		b.WriteString(tok.Text)
	}
	return b.String()
}

// Reset clears both the transcript and the token context. Resetting an
// already-empty accumulator is a no-op.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fullText = ""
	a.context = a.context[:0]
}
