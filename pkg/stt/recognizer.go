// Package stt defines the Recognizer interface for speech-to-text backends.
//
// A Recognizer transcribes one audio window at a time: the dictation core
// hands it a snapshot of mono float32 samples plus recent context tokens and
// receives a Result back. Local backends (whisper.cpp) return word-level
// timed Segments; remote backends may only return plain text. The core
// treats a plain-text Result as final as delivered, since stability tracking
// across overlapping windows requires per-word timing.
//
// Calls from the core are strictly serialized, but implementations must
// still be safe for concurrent use so they can be shared across sessions
// and probed by health checks.
package stt

import "context"

// Recognizer transcribes audio windows.
type Recognizer interface {
	// Transcribe converts one window of mono float32 samples at the
	// session sample rate into a Result. prompt carries the most recent
	// context tokens and may be empty; backends use it to prime decoding.
	//
	// A failed call means "no result this cycle": the caller logs it,
	// skips the window, and continues. Transcribe must honor ctx
	// cancellation and return promptly when the session stops.
	Transcribe(ctx context.Context, samples []float32, prompt []Token) (Result, error)
}
