package stt

import (
	"strings"
	"time"
)

// Token is a single recognizer vocabulary token. Tokens accompany committed
// words into the transcript accumulator and come back to the recognizer as
// prompt context for subsequent windows.
type Token struct {
	// ID is the token id in the recognizer's vocabulary.
	ID int

	// Text is the token's surface form.
	Text string
}

// Segment is one hypothesized word within an inference window.
//
// Word carries the recognizer's own spacing convention: whisper-style
// backends emit every word after the first with a leading space (" word"),
// and consumers concatenate Words verbatim rather than inventing separators.
type Segment struct {
	// Word is the hypothesized text, spacing prefix included.
	Word string

	// Start and End bound the word within the inference window. End is
	// always after Start for well-formed output.
	Start time.Duration
	End   time.Duration

	// Probability is the recognizer's confidence in [0, 1].
	Probability float64

	// Tokens are the vocabulary tokens making up the word. May be empty
	// for backends that do not expose token ids.
	Tokens []Token
}

// Result is the outcome of transcribing one audio window.
//
// Backends with word-level timing populate Segments; plain-text backends
// populate only Text. The two shapes are handled differently downstream:
// timed segments flow through stability tracking, while plain text is final
// as delivered.
type Result struct {
	// Segments is the ordered word hypothesis sequence, empty for
	// plain-text backends.
	Segments []Segment

	// Text is the full transcription for backends without word timing.
	Text string
}

// Timed reports whether the result carries word-level timing.
func (r Result) Timed() bool { return len(r.Segments) > 0 }

// Transcript returns the result's text regardless of shape: the verbatim
// concatenation of segment words when timed, Text otherwise.
func (r Result) Transcript() string {
	if !r.Timed() {
		return r.Text
	}
	var b strings.Builder
	for _, seg := range r.Segments {
		b.WriteString(seg.Word)
	}
	return b.String()
}

// PromptText joins prompt tokens into the free-text prompt form most
// recognizer APIs accept.
func PromptText(prompt []Token) string {
	var b strings.Builder
	for _, tok := range prompt {
		b.WriteString(tok.Text)
	}
	return b.String()
}
