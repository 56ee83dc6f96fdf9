// Command voicebridge runs the real-time spoken-language interpreter
// pipeline: capture, voice activity detection, speech-to-text, translation,
// speech synthesis, and playback, supervised end to end.
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
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/internal/health"
	"github.com/YoSoyDavidB/voicebridge/internal/observe"
	"github.com/YoSoyDavidB/voicebridge/internal/pipeline"
	"github.com/YoSoyDavidB/voicebridge/pkg/audio"
	"github.com/YoSoyDavidB/voicebridge/pkg/audio/malgo"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt/deepgram"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt/openai"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/translator"
	translatoropenai "github.com/YoSoyDavidB/voicebridge/pkg/provider/translator/openai"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/tts"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/tts/coqui"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/tts/elevenlabs"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/vad"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/vad/rms"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/vad/silero"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Environment ────────────────────────────────────────────────────────────
	// Provider API keys are typically supplied via .env in development; a
	// missing file is not an error, since production deployments set these
	// through the environment directly.
	_ = godotenv.Load()

	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"languages", fmt.Sprintf("%s->%s", cfg.Translator.SourceLanguage, cfg.Translator.TargetLanguage),
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Observability ─────────────────────────────────────────────────────────
	ctxInit, cancelInit := context.WithTimeout(context.Background(), 5*time.Second)
	otelShutdown, err := observe.InitProvider(ctxInit, observe.ProviderConfig{ServiceName: "voicebridge"})
	cancelInit()
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()
	metrics := observe.DefaultMetrics()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pl, err := pipeline.Build(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}
	defer pl.Close()

	printStartupSummary(cfg)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		applyConfigDiff(pl, config.Diff(old, newCfg))
	})
	if err != nil {
		slog.Warn("config watcher: disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Health server ─────────────────────────────────────────────────────────
	var httpServer *http.Server
	if cfg.Server.ListenAddr != "" {
		httpServer = startHealthServer(cfg.Server.ListenAddr, pl, metrics)
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	runErr := pl.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("pipeline run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in provider implementation into
// reg under the name configs refer to it by. cfg supplies the settings that
// live outside [config.ProviderEntry]: the translator's temperature, token
// limit and system prompt, the TTS voice settings, the VAD model path, and
// the capture/output device IDs.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{}
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []openai.Option{}
		if e.Model != "" {
			opts = append(opts, openai.WithModel(e.Model))
		}
		return openai.New(e.APIKey, opts...)
	})

	reg.RegisterTranslator("openai", func(e config.ProviderEntry) (translator.Provider, error) {
		opts := []translatoropenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, translatoropenai.WithBaseURL(e.BaseURL))
		}
		if cfg.Translator.Temperature != 0 {
			opts = append(opts, translatoropenai.WithTemperature(cfg.Translator.Temperature))
		}
		if cfg.Translator.MaxTokens > 0 {
			opts = append(opts, translatoropenai.WithMaxTokens(int64(cfg.Translator.MaxTokens)))
		}
		if cfg.Translator.SystemPrompt != "" {
			opts = append(opts, translatoropenai.WithSystemPrompt(cfg.Translator.SystemPrompt))
		}
		model := e.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return translatoropenai.New(e.APIKey, model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{}
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		voice := cfg.TTS.Voice
		if voice.Stability != 0 {
			opts = append(opts, elevenlabs.WithStability(voice.Stability))
		}
		if voice.SimilarityBoost != 0 {
			opts = append(opts, elevenlabs.WithSimilarityBoost(voice.SimilarityBoost))
		}
		if voice.Style != 0 {
			opts = append(opts, elevenlabs.WithStyle(voice.Style))
		}
		if voice.LatencyPreset != 0 {
			opts = append(opts, elevenlabs.WithLatencyPreset(voice.LatencyPreset))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(e.BaseURL)
	})

	reg.RegisterVAD("rms", func(config.ProviderEntry) (vad.Engine, error) {
		return rms.New(), nil
	})
	reg.RegisterVAD("silero", func(config.ProviderEntry) (vad.Engine, error) {
		return silero.New(cfg.VAD.ModelPath)
	})

	reg.RegisterAudio("malgo", func(config.ProviderEntry) (audio.Device, error) {
		if cfg.Capture.DeviceID != "" || cfg.Output.DeviceID != "" {
			return malgo.NewWithDevices(cfg.Capture.DeviceID, cfg.Output.DeviceID)
		}
		return malgo.New()
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        VoiceBridge — startup summary  ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Translator", cfg.Providers.Translator.Name, cfg.Providers.Translator.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Alt. TTS", cfg.Providers.AlternateTTS.Name, cfg.Providers.AlternateTTS.Model)
	printProvider("Fallback STT", cfg.Providers.FallbackSTT.Name, cfg.Providers.FallbackSTT.Model)
	printProvider("Fallback Tr.", cfg.Providers.FallbackTranslator.Name, cfg.Providers.FallbackTranslator.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Translation     : %-19s ║\n", cfg.Translator.SourceLanguage+" -> "+cfg.Translator.TargetLanguage)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Health server ──────────────────────────────────────────────────────────────

// startHealthServer serves /healthz and /readyz, with readiness reflecting
// the pipeline's current Orchestrator mode: Active and Degraded both report
// ready, Passthrough reports not ready since translated audio is not being
// produced.
func startHealthServer(addr string, pl *pipeline.Pipeline, metrics *observe.Metrics) *http.Server {
	handler := health.New(health.Checker{
		Name: "pipeline",
		Check: func(ctx context.Context) error {
			if mode := pl.CurrentMode(); mode.String() == "passthrough" {
				return fmt.Errorf("pipeline is in passthrough mode")
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: observe.Middleware(metrics)(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server exited", "err", err)
		}
	}()
	return srv
}

// ── Config hot reload ────────────────────────────────────────────────────────

// applyConfigDiff reacts to a reloaded config file. Orchestrator thresholds
// and the force-passthrough switch are applied live; the other tracked
// changes (voice, VAD thresholds, translator languages, provider selection)
// require rebuilding the owning stage, which this pass does not support, so
// they are only logged as a prompt to restart.
func applyConfigDiff(pl *pipeline.Pipeline, diff config.ConfigDiff) {
	if diff.OrchestratorChanged {
		pl.UpdateOrchestratorConfig(diff.NewOrchestrator)
		slog.Info("config reload: applied orchestrator threshold change",
			"degraded_after", diff.NewOrchestrator.DegradedAfterFailures,
			"passthrough_after", diff.NewOrchestrator.PassthroughAfterFailures,
			"force_passthrough", diff.NewOrchestrator.ForcePassthrough,
		)
	}
	if diff.LogLevelChanged {
		slog.SetDefault(newLogger(diff.NewLogLevel))
		slog.Info("config reload: applied log level change", "level", diff.NewLogLevel)
	}
	if diff.VoiceChanged {
		slog.Warn("config reload: tts.voice changed — restart required to take effect")
	}
	if diff.VADThresholdsChanged {
		slog.Warn("config reload: vad thresholds changed — restart required to take effect")
	}
	if diff.TranslatorLanguagesChanged {
		slog.Warn("config reload: translator languages changed — restart required to take effect")
	}
	if diff.STTProviderChanged || diff.TranslatorProviderChanged || diff.TTSProviderChanged {
		slog.Warn("config reload: provider selection changed — restart required to take effect")
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
