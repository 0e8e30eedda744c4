// Package mock provides a scripted test double for the stt.Recognizer
// interface.
//
// Pre-populate Results with the outcomes successive Transcribe calls should
// return, then inspect Calls to verify what the pipeline sent.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    Results: []mock.ScriptedResult{
//	        {Result: stt.Result{Segments: segs}},
//	        {Err: errors.New("model busy")},
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/quillvoice/quill/pkg/stt"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	// SampleCount is the number of samples in the transcribed window.
	SampleCount int

	// Prompt is a copy of the context tokens passed to Transcribe.
	Prompt []stt.Token
}

// ScriptedResult is one pre-programmed Transcribe outcome.
type ScriptedResult struct {
	// Result is returned when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned instead of Result.
	Err error
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results are consumed in order by successive Transcribe calls. Once
	// exhausted, the final entry repeats. An empty script returns a zero
	// Result with no error.
	Results []ScriptedResult

	// Delay, when positive, makes each Transcribe call wait before
	// returning, honoring context cancellation. Useful for exercising
	// in-flight cancellation paths.
	Delay time.Duration

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted outcome.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, prompt []stt.Token) (stt.Result, error) {
	r.mu.Lock()
	cp := make([]stt.Token, len(prompt))
	copy(cp, prompt)
	r.Calls = append(r.Calls, TranscribeCall{SampleCount: len(samples), Prompt: cp})
	scripted, ok := r.take()
	delay := r.Delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if !ok {
		return stt.Result{}, nil
	}
	return scripted.Result, scripted.Err
}

// take must be called with mu held.
func (r *Recognizer) take() (ScriptedResult, bool) {
	if len(r.Results) == 0 {
		return ScriptedResult{}, false
	}
	if r.next >= len(r.Results) {
		return r.Results[len(r.Results)-1], true
	}
	out := r.Results[r.next]
	r.next++
	return out, true
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// ResetCalls clears all recorded calls and rewinds the script. Thread-safe.
func (r *Recognizer) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
	r.next = 0
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
