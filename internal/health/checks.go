package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillvoice/quill/pkg/stt"
)

// Availability is implemented by recognizer front-ends that track whether
// any backend is currently accepting work, such as a failover chain with
// per-backend circuit breakers.
type Availability interface {
	Healthy() bool
}

// RecognizerReady returns a [Checker] named "recognizer" that fails when a
// reports no backend available. It reads breaker state and is cheap enough
// to call on every probe.
func RecognizerReady(a Availability) Checker {
	return Checker{
		Name: "recognizer",
		Check: func(_ context.Context) error {
			if !a.Healthy() {
				return errors.New("all backends down")
			}
			return nil
		},
	}
}

// RecognizerProbe returns a [Checker] named "recognizer" that transcribes a
// 100 ms silent window against rec, exercising the full backend path: model
// loaded, API reachable, credentials valid. Unlike [RecognizerReady] each
// probe costs a real recognizer call, so it suits backends where that is
// cheap or where breaker state alone is not trustworthy.
func RecognizerProbe(rec stt.Recognizer, sampleRate int) Checker {
	return Checker{
		Name: "recognizer",
		Check: func(ctx context.Context) error {
			silence := make([]float32, sampleRate/10)
			if _, err := rec.Transcribe(ctx, silence, nil); err != nil {
				return fmt.Errorf("probe window: %w", err)
			}
			return nil
		},
	}
}

// Runner is implemented by sessions that can report whether their processing
// loop is active.
type Runner interface {
	Running() bool
}

// SessionRunning returns a [Checker] named "session" that fails while r's
// processing loop is stopped.
func SessionRunning(r Runner) Checker {
	return Checker{
		Name: "session",
		Check: func(_ context.Context) error {
			if !r.Running() {
				return errors.New("session not running")
			}
			return nil
		},
	}
}
