// Package deepgram provides a recognizer backed by the Deepgram streaming
// WebSocket API.
//
// Each Transcribe call opens a connection, streams the window as raw
// linear16 PCM, sends a CloseStream message to flush, and collects the final
// results into word-level timed segments. Deepgram reports word timing in
// seconds relative to the streamed audio, which maps directly onto the
// window-relative timing the dictation core expects.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/quillvoice/quill/pkg/audio"
	"github.com/quillvoice/quill/pkg/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// writeChunkBytes keeps outgoing frames modest so the server starts
	// decoding before the whole window has arrived.
	writeChunkBytes = 8192
)

// Ensure Recognizer implements the stt.Recognizer interface.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(r *Recognizer) {
		r.language = language
	}
}

// WithSampleRate sets the sample rate of windows passed to Transcribe.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) {
		r.sampleRate = rate
	}
}

// WithEndpoint overrides the Deepgram endpoint URL. Useful for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) {
		r.endpoint = endpoint
	}
}

// Recognizer implements stt.Recognizer backed by the Deepgram streaming API.
//
// Deepgram has no prompt-priming equivalent, so context tokens passed to
// Transcribe are ignored.
type Recognizer struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Transcribe streams the window to Deepgram and returns the flushed final
// results as timed segments.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, _ []stt.Token) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{}, nil
	}

	wsURL, err := r.buildURL()
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "window complete")

	// Collect finals concurrently with the upload so the server never has
	// to buffer its responses against our unread socket.
	segsCh := make(chan []stt.Segment, 1)
	go func() {
		var segments []stt.Segment
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				segsCh <- segments
				return
			}
			resp, ok := parseResponse(msg)
			if !ok {
				// Metadata arrives after the flush completes.
				if isMetadata(msg) {
					segsCh <- segments
					return
				}
				continue
			}
			if resp.IsFinal {
				segments = appendWords(segments, resp)
			}
		}
	}()

	pcm := audio.Float32ToPCM16(samples)
	for off := 0; off < len(pcm); off += writeChunkBytes {
		end := off + writeChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case segments := <-segsCh:
		return stt.Result{Segments: segments}, nil
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	}
}

// buildURL constructs the streaming endpoint URL for raw linear16 input.
func (r *Recognizer) buildURL() (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", r.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the JSON structure returned by Deepgram for a Results event.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse parses a raw Deepgram WebSocket message.
// Returns (response, true) on success, or (zero, false) if the message
// should be ignored.
func parseResponse(data []byte) (response, bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return response{}, false
	}
	if resp.Type != "Results" {
		return response{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return response{}, false
	}
	return resp, true
}

// isMetadata reports whether the message is Deepgram's end-of-stream summary.
func isMetadata(data []byte) bool {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return false
	}
	return envelope.Type == "Metadata"
}

// appendWords converts the best alternative's words into segments. Deepgram
// words carry no spacing, so every word after the first in the overall
// sequence gets a leading space, matching the whisper spacing convention the
// rest of the pipeline concatenates verbatim.
func appendWords(segments []stt.Segment, resp response) []stt.Segment {
	for _, w := range resp.Channel.Alternatives[0].Words {
		word := w.Word
		if len(segments) > 0 {
			word = " " + word
		}
		segments = append(segments, stt.Segment{
			Word:        word,
			Start:       time.Duration(w.Start * float64(time.Second)),
			End:         time.Duration(w.End * float64(time.Second)),
			Probability: w.Confidence,
		})
	}
	return segments
}
