package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/quillvoice/quill/internal/config"
	"github.com/quillvoice/quill/internal/dictation"
	"github.com/quillvoice/quill/pkg/audio"
)

// feedInput streams the chosen audio source into the session and returns once
// everything has been analyzed, tail utterance included. The session must be
// started, with this feeder as its only writer.
func feedInput(ctx context.Context, s *dictation.Session, cfg *config.Config, path string, realtime bool, rawRate int) error {
	if path == "-" {
		if rawRate == 0 {
			rawRate = cfg.Audio.SampleRate
		}
		return feedStdin(ctx, s, cfg, rawRate)
	}
	return feedFile(ctx, s, cfg, path, realtime)
}

func feedFile(ctx context.Context, s *dictation.Session, cfg *config.Config, path string, realtime bool) error {
	samples, rate, err := decodeWAV(path)
	if err != nil {
		return err
	}
	target := cfg.Audio.SampleRate
	if rate != target {
		slog.Info("resampling input", "from", rate, "to", target)
		samples = audio.Resample(samples, rate, target)
	}
	slog.Info("feeding audio", "file", path,
		"duration", audio.Duration(int64(len(samples)), target).Round(time.Millisecond))

	frameDur := time.Duration(cfg.Audio.FrameMs) * time.Millisecond
	frame := int(audio.SampleCount(frameDur, target))

	if realtime {
		ticker := time.NewTicker(frameDur)
		defer ticker.Stop()
		for off := 0; off < len(samples); off += frame {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			s.WriteSamples(samples[off:min(off+frame, len(samples))])
		}
	} else {
		// Bulk feed with backpressure: stay well inside the ring capacity so
		// the processing loop is never lapped.
		headroom := audio.SampleCount(time.Duration(cfg.Audio.RingSeconds)*time.Second, target) / 2
		for off := 0; off < len(samples); off += frame {
			for int64(off)-s.Processed() > headroom {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(frameDur):
				}
			}
			s.WriteSamples(samples[off:min(off+frame, len(samples))])
		}
	}
	return drainTail(ctx, s, cfg, int64(len(samples)))
}

// feedStdin reads raw little-endian PCM16 mono from stdin until EOF,
// resampling to the session rate when the rates differ.
func feedStdin(ctx context.Context, s *dictation.Session, cfg *config.Config, rate int) error {
	target := cfg.Audio.SampleRate
	slog.Info("reading raw PCM16 from stdin", "rate", rate)

	// 100 ms reads; a trailing odd byte is carried into the next read so
	// int16 frames are never split.
	buf := make([]byte, 2*audio.SampleCount(100*time.Millisecond, rate))
	var carry []byte
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			if len(data)%2 != 0 {
				carry = []byte{data[len(data)-1]}
				data = data[:len(data)-1]
			} else {
				carry = nil
			}
			samples := audio.PCM16ToFloat32(data)
			if rate != target {
				samples = audio.Resample(samples, rate, target)
			}
			s.WriteSamples(samples)
			written += int64(len(samples))
		}
		if err != nil {
			if err == io.EOF {
				return drainTail(ctx, s, cfg, written)
			}
			return fmt.Errorf("read stdin: %w", err)
		}
	}
}

// drainTail appends enough silence to push the detector through its hangover,
// closing any open utterance, then waits for the processing loop to consume
// everything written.
func drainTail(ctx context.Context, s *dictation.Session, cfg *config.Config, written int64) error {
	rate := cfg.Audio.SampleRate
	frameDur := time.Duration(cfg.Audio.FrameMs) * time.Millisecond
	frame := audio.SampleCount(frameDur, rate)

	hangover := time.Duration(cfg.VAD.MinSilenceMs) * time.Millisecond
	tail := audio.SampleCount(hangover+time.Second, rate)
	if rem := (written + tail) % frame; rem != 0 {
		// Frame-align the total so the loop can consume it exactly.
		tail += frame - rem
	}
	s.WriteSamples(make([]float32, tail))

	total := written + tail
	for s.Processed() < total {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(frameDur):
		}
	}
	return nil
}

// decodeWAV loads a WAV file as mono float32 samples, mixing down multichannel
// input. Returns the samples and the file's native rate.
func decodeWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%q is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav %q: %w", path, err)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	if ch := buf.Format.NumChannels; ch > 1 {
		samples = audio.MixToMono(samples, ch)
	}
	return samples, buf.Format.SampleRate, nil
}
