package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	r, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	r, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

// ---- JSON parsing tests ----

func TestParseResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"confidence": 0.95,
				"words": [
					{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "world", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	resp, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !resp.IsFinal {
		t.Error("expected IsFinal=true")
	}
	if len(resp.Channel.Alternatives[0].Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(resp.Channel.Alternatives[0].Words))
	}
}

func TestParseResponse_NonResultsType(t *testing.T) {
	raw := []byte(`{"type":"Metadata","request_id":"abc"}`)
	if _, ok := parseResponse(raw); ok {
		t.Error("expected ok=false for non-Results message")
	}
	if !isMetadata(raw) {
		t.Error("expected isMetadata=true for Metadata message")
	}
}

func TestParseResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`)
	if _, ok := parseResponse(raw); ok {
		t.Error("expected ok=false when alternatives is empty")
	}
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	if _, ok := parseResponse([]byte(`{invalid`)); ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- word conversion tests ----

func TestAppendWords_SpacingAndTiming(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Ghost type",
				"confidence": 0.9,
				"words": [
					{"word": "Ghost", "start": 0.0, "end": 0.5, "confidence": 0.9},
					{"word": "type", "start": 0.5, "end": 1.0, "confidence": 0.8}
				]
			}]
		}
	}`)
	resp, ok := parseResponse(raw)
	if !ok {
		t.Fatal("parseResponse failed")
	}

	segs := appendWords(nil, resp)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	assertEqual(t, "word[0]", "Ghost", segs[0].Word)
	assertEqual(t, "word[1]", " type", segs[1].Word)
	if segs[1].Start != 500*time.Millisecond || segs[1].End != time.Second {
		t.Errorf("timing: got [%v,%v], want [500ms,1s]", segs[1].Start, segs[1].End)
	}
	if segs[1].Probability != 0.8 {
		t.Errorf("probability: got %v, want 0.8", segs[1].Probability)
	}

	// A second final batch continues the sequence: its first word is not
	// the first overall, so it gets the leading space too.
	segs = appendWords(segs, resp)
	assertEqual(t, "word[2]", " Ghost", segs[2].Word)
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	r, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, r.model)
	assertEqual(t, "language", defaultLanguage, r.language)
	if r.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, r.sampleRate)
	}
}

// ---- round-trip test against a stub server ----

func TestTranscribe_RoundTrip(t *testing.T) {
	final := `{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Ghost typing",
				"confidence": 0.92,
				"words": [
					{"word": "Ghost", "start": 0.0, "end": 0.5, "confidence": 0.95},
					{"word": "typing", "start": 0.5, "end": 1.1, "confidence": 0.89}
				]
			}]
		}
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Authorization"); got != "Token key" {
			t.Errorf("authorization header: got %q", got)
		}
		c, err := websocket.Accept(w, req, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := req.Context()

		var audioBytes int
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				audioBytes += len(data)
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		if audioBytes == 0 {
			t.Error("no audio received before CloseStream")
		}
		if err := c.Write(ctx, websocket.MessageText, []byte(final)); err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
	}))
	defer srv.Close()

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	r, err := New("key", WithEndpoint(endpoint))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := r.Transcribe(ctx, make([]float32, 16000), nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.Timed() {
		t.Fatal("expected timed segments")
	}
	if got := res.Transcript(); got != "Ghost typing" {
		t.Errorf("transcript: got %q, want %q", got, "Ghost typing")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
