// Command quill is the main entry point for the Quill streaming dictation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quillvoice/quill/internal/config"
	"github.com/quillvoice/quill/internal/dictation"
	"github.com/quillvoice/quill/internal/health"
	"github.com/quillvoice/quill/internal/observe"
	"github.com/quillvoice/quill/internal/resilience"
	"github.com/quillvoice/quill/pkg/stt"
	"github.com/quillvoice/quill/pkg/stt/deepgram"
	"github.com/quillvoice/quill/pkg/stt/mock"
	"github.com/quillvoice/quill/pkg/stt/openai"
	"github.com/quillvoice/quill/pkg/stt/whispercpp"
	"github.com/quillvoice/quill/pkg/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", `audio input: a WAV file, or "-" for raw PCM16 on stdin`)
	realtime := flag.Bool("realtime", false, "pace file input at the capture rate instead of feeding it at once")
	inputRate := flag.Int("rate", 0, "sample rate of raw stdin input (defaults to audio.sample_rate)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "quill: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// rebuilding the handler.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("quill starting",
		"config", *configPath,
		"recognizer", cfg.Recognizer.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:  "quill",
		OTLPEndpoint: cfg.Server.OTLPEndpoint,
		OTLPInsecure: cfg.Server.OTLPInsecure,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Recognizer chain ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg, cfg.Audio)

	chain, err := buildRecognizerChain(cfg, reg)
	if err != nil {
		slog.Error("failed to build recognizer", "err", err)
		return 1
	}

	// ── Session ───────────────────────────────────────────────────────────────
	session, err := dictation.New(chain, sessionConfig(cfg), dictation.Events{
		OnPartial: func(text string) {
			if text != "" {
				fmt.Printf("partial:   %s\n", strings.TrimSpace(text))
			}
		},
		OnCommitted: func(text string) {
			fmt.Printf("committed: %s\n", strings.TrimSpace(text))
		},
		OnSpeechStart: func() { fmt.Println("[speech start]") },
		OnSpeechEnd:   func() { fmt.Println("[speech end]") },
		OnError: func(err error) {
			slog.Error("recognizer failing", "err", err)
		},
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *inputPath)

	// ── Metrics and health server (optional) ──────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.RecognizerReady(chain),
			health.SessionRunning(session),
		).Register(mux)

		srv := &http.Server{
			Addr:         cfg.Server.ListenAddr,
			Handler:      observe.Middleware(observe.DefaultMetrics())(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// Log level and vocabulary apply live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
		d := config.Diff(prev, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.VocabularyChanged {
			session.SetVocabulary(d.NewVocabulary)
			slog.Info("vocabulary updated", "terms", len(d.NewVocabulary))
		}
		if d.RequiresRestart {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config reload disabled", "err", err)
	} else {
		defer watcher.Stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					slog.Info("reloading config on SIGHUP")
					watcher.CheckNow()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	if err := session.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feedInput(ctx, session, cfg, *inputPath, *realtime, *inputRate)
	}()

	slog.Info("session running — press Ctrl+C to stop")

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-feedErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("input feed failed", "err", err)
			exitCode = 1
		}
	}
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping…")
	session.Stop()

	if err := g.Wait(); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}

	fmt.Println()
	fmt.Println("transcript:", session.Transcript())
	slog.Info("goodbye")
	return exitCode
}

// ── Recognizer wiring ─────────────────────────────────────────────────────────

// registerBuiltinRecognizers wires the recognizer factories that ship with
// Quill into reg. Each factory receives a config.RecognizerEntry and
// constructs the backend from the real implementation packages. API backends
// that upload audio are pinned to the configured capture rate.
func registerBuiltinRecognizers(reg *config.Registry, audioCfg config.AudioConfig) {
	reg.RegisterRecognizer("whispercpp", func(entry config.RecognizerEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whispercpp.Option
		if entry.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(entry.Language))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whispercpp.WithThreads(uint(n)))
		}
		if optBool(entry.Options, "translate") {
			opts = append(opts, whispercpp.WithTranslate(true))
		}
		if entry.IdleUnloadSeconds > 0 {
			opts = append(opts, whispercpp.WithIdleTimeout(time.Duration(entry.IdleUnloadSeconds)*time.Second))
		}
		return whispercpp.New(modelPath, opts...)
	})

	reg.RegisterRecognizer("openai", func(entry config.RecognizerEntry) (stt.Recognizer, error) {
		opts := []openai.Option{openai.WithSampleRate(audioCfg.SampleRate)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, openai.WithLanguage(entry.Language))
		}
		if secs := optInt(entry.Options, "timeout_seconds"); secs > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(secs)*time.Second))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterRecognizer("deepgram", func(entry config.RecognizerEntry) (stt.Recognizer, error) {
		opts := []deepgram.Option{deepgram.WithSampleRate(audioCfg.SampleRate)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// mock transcribes every window as empty; it lets the full pipeline run
	// without a model or an API key.
	reg.RegisterRecognizer("mock", func(config.RecognizerEntry) (stt.Recognizer, error) {
		return &mock.Recognizer{}, nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered recognizer", "name", name)
	}
}

// buildRecognizerChain instantiates the configured primary backend and its
// fallbacks, each behind its own circuit breaker. A single backend still gets
// the breaker so a dead model cannot burn an inference call every cycle.
func buildRecognizerChain(cfg *config.Config, reg *config.Registry) (*resilience.RecognizerChain, error) {
	primary, err := reg.CreateRecognizer(cfg.Recognizer.RecognizerEntry)
	if err != nil {
		if errors.Is(err, config.ErrRecognizerNotRegistered) {
			return nil, fmt.Errorf("unknown recognizer %q (registered: %s)",
				cfg.Recognizer.Name, strings.Join(reg.Names(), ", "))
		}
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Recognizer.Name, err)
	}
	slog.Info("recognizer created", "name", cfg.Recognizer.Name, "model", cfg.Recognizer.Model)

	chain := resilience.NewRecognizerChain(cfg.Recognizer.Name, primary, resilience.ChainConfig{})
	for _, fb := range cfg.Recognizer.Fallbacks {
		rec, err := reg.CreateRecognizer(fb)
		if err != nil {
			if errors.Is(err, config.ErrRecognizerNotRegistered) {
				return nil, fmt.Errorf("unknown fallback recognizer %q (registered: %s)",
					fb.Name, strings.Join(reg.Names(), ", "))
			}
			return nil, fmt.Errorf("create fallback recognizer %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, rec)
		slog.Info("fallback recognizer created", "name", fb.Name, "model", fb.Model)
	}
	return chain, nil
}

// sessionConfig translates the YAML schema into the session's native units.
func sessionConfig(cfg *config.Config) dictation.Config {
	return dictation.Config{
		SampleRate:         cfg.Audio.SampleRate,
		FrameDuration:      time.Duration(cfg.Audio.FrameMs) * time.Millisecond,
		InferenceInterval:  time.Duration(cfg.Pipeline.InferenceIntervalMs) * time.Millisecond,
		MaxWindow:          time.Duration(cfg.Pipeline.MaxWindowSeconds) * time.Second,
		LeadIn:             time.Duration(cfg.Pipeline.LeadInMs) * time.Millisecond,
		RingCapacity:       time.Duration(cfg.Audio.RingSeconds) * time.Second,
		StabilityThreshold: cfg.Consensus.StabilityThreshold,
		MaxContextTokens:   cfg.Context.MaxTokens,
		Backend:            cfg.Recognizer.Name,
		VAD: vad.Config{
			ActivationThreshold:    cfg.VAD.ActivationThreshold,
			DeactivationThreshold:  cfg.VAD.DeactivationThreshold,
			HangoverResetThreshold: cfg.VAD.HangoverResetThreshold,
			MinSpeechDuration:      time.Duration(cfg.VAD.MinSpeechMs) * time.Millisecond,
			MinSilenceDuration:     time.Duration(cfg.VAD.MinSilenceMs) * time.Millisecond,
		},
		Vocabulary: cfg.Vocabulary,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, input string) {
	fallbacks := "(none)"
	if len(cfg.Recognizer.Fallbacks) > 0 {
		names := make([]string, len(cfg.Recognizer.Fallbacks))
		for i, fb := range cfg.Recognizer.Fallbacks {
			names[i] = fb.Name
		}
		fallbacks = strings.Join(names, ", ")
	}
	if input == "-" {
		input = "stdin (raw pcm16)"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Quill — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Recognizer", recognizerLabel(cfg.Recognizer.Name, cfg.Recognizer.Model))
	printRow("Fallbacks", fallbacks)
	printRow("Input", input)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Stability", fmt.Sprintf("%d", cfg.Consensus.StabilityThreshold))
	printRow("Vocabulary", fmt.Sprintf("%d terms", len(cfg.Vocabulary)))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func recognizerLabel(name, model string) string {
	if model == "" {
		return name
	}
	return name + " / " + model
}

func printRow(label, value string) {
	if len(value) > 18 {
		value = value[:15] + "…"
	}
	fmt.Printf("║  %-15s : %-18s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a recognizer Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a recognizer Options map, tolerating
// the numeric types the YAML decoder may produce.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func optBool(opts map[string]any, key string) bool {
	if opts == nil {
		return false
	}
	b, _ := opts[key].(bool)
	return b
}
