package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram", "openai"},
	"translator": {"openai"},
	"tts":        {"elevenlabs", "coqui"},
	"vad":        {"rms", "silero"},
	"audio":      {"malgo"},
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields with the pipeline's documented
// defaults so a minimal config file only needs to set provider credentials.
func applyDefaults(cfg *Config) {
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = 16000
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = 1
	}
	if cfg.Capture.FrameMillis == 0 {
		cfg.Capture.FrameMillis = 30
	}
	if cfg.Capture.GainMultiplier == 0 {
		cfg.Capture.GainMultiplier = 1.0
	}
	if cfg.Capture.QueueDepth == 0 {
		cfg.Capture.QueueDepth = 64
	}
	if cfg.VAD.SpeechThreshold == 0 {
		cfg.VAD.SpeechThreshold = 0.5
	}
	if cfg.VAD.MaxUtteranceMillis == 0 {
		cfg.VAD.MaxUtteranceMillis = 15000
	}
	if cfg.VAD.MinSilenceMillis == 0 {
		cfg.VAD.MinSilenceMillis = 300
	}
	if cfg.VAD.MinSpeechMillis == 0 {
		cfg.VAD.MinSpeechMillis = 250
	}
	if cfg.VAD.PadMillis == 0 {
		cfg.VAD.PadMillis = 100
	}
	if cfg.Output.SampleRate == 0 {
		cfg.Output.SampleRate = 16000
	}
	if cfg.Output.Channels == 0 {
		cfg.Output.Channels = 1
	}
	if cfg.TTS.FadeMillis == 0 {
		cfg.TTS.FadeMillis = 5
	}
	if cfg.TTS.Voice.Stability == 0 {
		cfg.TTS.Voice.Stability = 0.5
	}
	if cfg.TTS.Voice.SimilarityBoost == 0 {
		cfg.TTS.Voice.SimilarityBoost = 0.8
	}
	if cfg.Translator.Temperature == 0 {
		cfg.Translator.Temperature = 0.3
	}
	if cfg.Orchestrator.DegradedAfterFailures == 0 {
		cfg.Orchestrator.DegradedAfterFailures = 3
	}
	if cfg.Orchestrator.PassthroughAfterFailures == 0 {
		cfg.Orchestrator.PassthroughAfterFailures = 6
	}
	if cfg.Orchestrator.MetricsIntervalSeconds == 0 {
		cfg.Orchestrator.MetricsIntervalSeconds = 30
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("translator", cfg.Providers.Translator.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	if cfg.Providers.AlternateTTS.Name != "" {
		validateProviderName("tts", cfg.Providers.AlternateTTS.Name)
	}

	// Required providers — the pipeline cannot be built without these three.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.Translator.Name == "" {
		errs = append(errs, errors.New("providers.translator.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	// Capture
	if cfg.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels != 1 {
		errs = append(errs, fmt.Errorf("capture.channels %d must be 1; only mono capture is supported", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameMillis <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_millis %d must be positive", cfg.Capture.FrameMillis))
	}

	// VAD
	if cfg.VAD.SpeechThreshold < cfg.VAD.SilenceThreshold {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f must be >= vad.silence_threshold %.2f", cfg.VAD.SpeechThreshold, cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.MaxUtteranceMillis <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_utterance_millis %d must be positive", cfg.VAD.MaxUtteranceMillis))
	}

	// Translator
	if cfg.Translator.SourceLanguage == "" {
		errs = append(errs, errors.New("translator.source_language is required"))
	}
	if cfg.Translator.TargetLanguage == "" {
		errs = append(errs, errors.New("translator.target_language is required"))
	}
	if cfg.Translator.SourceLanguage != "" && cfg.Translator.SourceLanguage == cfg.Translator.TargetLanguage {
		errs = append(errs, fmt.Errorf("translator.source_language and target_language are both %q", cfg.Translator.SourceLanguage))
	}
	if cfg.Translator.Temperature < 0 || cfg.Translator.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("translator.temperature %.2f is out of range [0, 2.0]", cfg.Translator.Temperature))
	}
	if cfg.Translator.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("translator.max_tokens %d must not be negative", cfg.Translator.MaxTokens))
	}

	// TTS
	if cfg.TTS.Voice.SpeedFactor != 0 {
		if cfg.TTS.Voice.SpeedFactor < 0.5 || cfg.TTS.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("tts.voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.TTS.Voice.SpeedFactor))
		}
	}
	if cfg.TTS.Voice.Stability < 0 || cfg.TTS.Voice.Stability > 1.0 {
		errs = append(errs, fmt.Errorf("tts.voice.stability %.2f is out of range [0, 1.0]", cfg.TTS.Voice.Stability))
	}
	if cfg.TTS.Voice.SimilarityBoost < 0 || cfg.TTS.Voice.SimilarityBoost > 1.0 {
		errs = append(errs, fmt.Errorf("tts.voice.similarity_boost %.2f is out of range [0, 1.0]", cfg.TTS.Voice.SimilarityBoost))
	}
	if cfg.TTS.Voice.Style < 0 || cfg.TTS.Voice.Style > 1.0 {
		errs = append(errs, fmt.Errorf("tts.voice.style %.2f is out of range [0, 1.0]", cfg.TTS.Voice.Style))
	}
	if cfg.TTS.Voice.LatencyPreset < 0 || cfg.TTS.Voice.LatencyPreset > 4 {
		errs = append(errs, fmt.Errorf("tts.voice.latency_preset %d is out of range [0, 4]", cfg.TTS.Voice.LatencyPreset))
	}
	if cfg.TTS.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && cfg.TTS.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("tts voice provider does not match configured TTS provider",
			"voice_provider", cfg.TTS.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Output
	if cfg.Output.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("output.sample_rate %d must be positive", cfg.Output.SampleRate))
	}

	// Orchestrator
	if cfg.Orchestrator.PassthroughAfterFailures < cfg.Orchestrator.DegradedAfterFailures {
		errs = append(errs, fmt.Errorf("orchestrator.passthrough_after_failures %d must be >= degraded_after_failures %d",
			cfg.Orchestrator.PassthroughAfterFailures, cfg.Orchestrator.DegradedAfterFailures))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
