// Package vad implements energy-based voice activity detection with
// hysteresis. A two-threshold state machine debounces both directions:
// sustained energy above the activation threshold is required before speech
// starts, and a sustained hangover below the deactivation threshold is
// required before it ends, so single-frame spikes and brief pauses do not
// flicker the state.
package vad

import (
	"time"

	"github.com/quillvoice/quill/pkg/audio"
)

// Default tuning for 16 kHz mono capture with 20 ms frames. Thresholds are
// RMS energy over samples in [-1, 1].
const (
	DefaultActivationThreshold   = 0.015
	DefaultDeactivationThreshold = 0.008
	DefaultMinSpeechDuration     = 60 * time.Millisecond
	DefaultMinSilenceDuration    = 600 * time.Millisecond
)

// State is the detector's current classification.
type State int

const (
	// Silence indicates no active speech.
	Silence State = iota

	// Speech indicates an utterance is in progress.
	Speech
)

func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case Speech:
		return "speech"
	default:
		return "unknown"
	}
}

// Event is emitted by Process when a state transition completes.
type Event int

const (
	// None indicates no transition occurred on this frame.
	None Event = iota

	// SpeechStart indicates the detector entered the Speech state.
	SpeechStart

	// SpeechEnd indicates the detector returned to Silence.
	SpeechEnd
)

func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Config tunes the detector. Zero fields take the package defaults.
type Config struct {
	// ActivationThreshold is the RMS energy a frame must exceed to count
	// toward starting speech.
	ActivationThreshold float64

	// DeactivationThreshold is the RMS energy a frame must fall below to
	// count toward ending speech. Must not exceed ActivationThreshold.
	DeactivationThreshold float64

	// HangoverResetThreshold is the energy above which a frame zeroes the
	// accumulated hangover during speech. Defaults to ActivationThreshold,
	// leaving a dead zone between the two thresholds in which frames
	// neither extend nor reset the hangover. Setting it equal to
	// DeactivationThreshold makes any non-quiet frame reset instead.
	HangoverResetThreshold float64

	// MinSpeechDuration is the cumulative above-activation time required
	// before SpeechStart fires. Any sub-threshold frame restarts the count.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is the hangover: cumulative below-deactivation
	// time required before SpeechEnd fires.
	MinSilenceDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.ActivationThreshold == 0 {
		c.ActivationThreshold = DefaultActivationThreshold
	}
	if c.DeactivationThreshold == 0 {
		c.DeactivationThreshold = DefaultDeactivationThreshold
	}
	if c.HangoverResetThreshold == 0 {
		c.HangoverResetThreshold = c.ActivationThreshold
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.MinSilenceDuration == 0 {
		c.MinSilenceDuration = DefaultMinSilenceDuration
	}
	return c
}

// Detector is the hysteresis state machine. Not safe for concurrent use;
// drive it from a single goroutine.
type Detector struct {
	cfg        Config
	state      State
	speechDur  time.Duration
	silenceDur time.Duration
}

// New creates a Detector with cfg, applying defaults for zero fields.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// State returns the current classification.
func (d *Detector) State() State { return d.state }

// Config returns the effective configuration with defaults applied.
func (d *Detector) Config() Config { return d.cfg }

// Process classifies one frame and returns the transition event, if any.
// Energy is the RMS of the frame; an empty frame contributes zero energy and
// is treated as silence. Comparisons against the thresholds are strict, so a
// frame exactly at a threshold changes nothing.
func (d *Detector) Process(frame []float32, frameDuration time.Duration) Event {
	energy := audio.RMS(frame)

	switch d.state {
	case Silence:
		if energy > d.cfg.ActivationThreshold {
			d.speechDur += frameDuration
			if d.speechDur >= d.cfg.MinSpeechDuration {
				d.state = Speech
				d.speechDur = 0
				d.silenceDur = 0
				return SpeechStart
			}
		} else {
			d.speechDur = 0
		}

	case Speech:
		switch {
		case energy < d.cfg.DeactivationThreshold:
			d.silenceDur += frameDuration
			if d.silenceDur >= d.cfg.MinSilenceDuration {
				d.state = Silence
				d.speechDur = 0
				d.silenceDur = 0
				return SpeechEnd
			}
		case energy > d.cfg.HangoverResetThreshold:
			d.silenceDur = 0
		}
		// Frames between the two thresholds leave the hangover untouched.
	}
	return None
}

// Reset forces the detector to Silence and zeroes all accumulators. Safe to
// call at any time; resetting an already-idle detector is a no-op.
func (d *Detector) Reset() {
	d.state = Silence
	d.speechDur = 0
	d.silenceDur = 0
}
