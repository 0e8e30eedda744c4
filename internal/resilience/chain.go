package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/quillvoice/quill/internal/observe"
	"github.com/quillvoice/quill/pkg/stt"
)

// ErrAllBackendsDown is returned by [RecognizerChain.Transcribe] when every
// backend in the chain either failed or had an open circuit breaker.
var ErrAllBackendsDown = errors.New("all recognizer backends down")

// ChainConfig configures the per-backend circuit breaker created for each
// entry in a [RecognizerChain].
type ChainConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// chainEntry pairs a named backend with its dedicated circuit breaker.
type chainEntry struct {
	name    string
	rec     stt.Recognizer
	breaker *CircuitBreaker
}

// RecognizerChain implements [stt.Recognizer] with automatic failover across
// an ordered list of backends, each guarded by its own circuit breaker. A
// window goes to the first backend whose breaker admits the call; on failure
// the same window and prompt move on to the next backend, never back to one
// that already failed it. Once a backend's breaker opens, it is skipped
// outright until the reset timeout elapses, so a dead local model or an
// unreachable API stops adding its timeout to every inference cycle.
//
// Register every backend before the first Transcribe call; the entry list is
// read without locking afterwards.
type RecognizerChain struct {
	entries []chainEntry
	cfg     ChainConfig
}

// Compile-time interface assertion.
var _ stt.Recognizer = (*RecognizerChain)(nil)

// NewRecognizerChain creates a chain with primary as the preferred backend.
// Additional backends are registered via [RecognizerChain.AddFallback].
func NewRecognizerChain(primaryName string, primary stt.Recognizer, cfg ChainConfig) *RecognizerChain {
	rc := &RecognizerChain{cfg: cfg}
	rc.add(primaryName, primary)
	return rc
}

// AddFallback appends a fallback backend. Fallbacks are tried in the order
// they are added, after the primary.
func (rc *RecognizerChain) AddFallback(name string, rec stt.Recognizer) {
	rc.add(name, rec)
}

func (rc *RecognizerChain) add(name string, rec stt.Recognizer) {
	cbCfg := rc.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.OnStateChange = func(_, to State) {
		observe.DefaultMetrics().RecordBreakerTransition(context.Background(), name, to.String())
	}
	rc.entries = append(rc.entries, chainEntry{
		name:    name,
		rec:     rec,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Transcribe hands the window to the first healthy backend. Backends with an
// open breaker are skipped. Returns [ErrAllBackendsDown] wrapped with the
// last error if every backend fails or is skipped.
func (rc *RecognizerChain) Transcribe(ctx context.Context, samples []float32, prompt []stt.Token) (stt.Result, error) {
	var lastErr error
	for i := range rc.entries {
		entry := &rc.entries[i]
		if err := ctx.Err(); err != nil {
			return stt.Result{}, err
		}
		attemptCtx, span := observe.StartInference(ctx, entry.name, len(samples))
		var res stt.Result
		err := entry.breaker.Execute(func() error {
			var innerErr error
			res, innerErr = entry.rec.Transcribe(attemptCtx, samples, prompt)
			return innerErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err == nil {
			if i > 0 {
				slog.Debug("window served by fallback backend", "backend", entry.name)
			}
			return res, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping backend (circuit open)", "backend", entry.name)
		case ctx.Err() != nil:
			// The caller is gone; do not burn fallback calls on a window
			// nobody will consume.
			return stt.Result{}, err
		default:
			slog.Warn("backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}
	return stt.Result{}, fmt.Errorf("%w: %v", ErrAllBackendsDown, lastErr)
}

// Healthy reports whether at least one backend is currently accepting calls
// (breaker closed or half-open).
func (rc *RecognizerChain) Healthy() bool {
	for i := range rc.entries {
		if rc.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// States reports the current breaker state of every backend, keyed by backend
// name.
func (rc *RecognizerChain) States() map[string]State {
	out := make(map[string]State, len(rc.entries))
	for i := range rc.entries {
		out[rc.entries[i].name] = rc.entries[i].breaker.State()
	}
	return out
}
