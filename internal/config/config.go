// Package config provides the configuration schema, loader, and provider
// registry for the VoiceBridge interpreter pipeline.
package config

import "time"

// Config is the root configuration structure for VoiceBridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Capture      CaptureConfig      `yaml:"capture"`
	VAD          VADConfig          `yaml:"vad"`
	STT          STTConfig          `yaml:"stt"`
	Translator   TranslatorConfig   `yaml:"translator"`
	TTS          TTSConfig          `yaml:"tts"`
	Output       OutputConfig       `yaml:"output"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ServerConfig holds network and logging settings for the VoiceBridge process.
type ServerConfig struct {
	// ListenAddr is the TCP address the health-check server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	Translator ProviderEntry `yaml:"translator"`
	TTS        ProviderEntry `yaml:"tts"`
	VAD        ProviderEntry `yaml:"vad"`
	Audio      ProviderEntry `yaml:"audio"`

	// AlternateTTS is an optional second synthesizer used for fallback
	// level 3 when the primary TTS provider is unavailable. Name left empty
	// disables this fallback level; the chain then goes straight to silence.
	AlternateTTS ProviderEntry `yaml:"alternate_tts"`

	// FallbackSTT is an optional second transcription backend. Name left
	// empty means the STT stage's own reconnect logic is the only
	// resilience layer; set it to put a circuit-breaker-guarded failover
	// backend in front of the primary.
	FallbackSTT ProviderEntry `yaml:"fallback_stt"`

	// FallbackTranslator is an optional second translation backend,
	// guarded the same way as FallbackSTT.
	FallbackTranslator ProviderEntry `yaml:"fallback_translator"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig controls how raw audio is pulled from the input device and
// framed for the VAD stage.
type CaptureConfig struct {
	// SampleRate is the capture device's sample rate in Hz. VoiceBridge runs
	// 16kHz mono PCM end to end; other rates are resampled at the Output stage.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of capture channels. Only 1 (mono) is supported.
	Channels int `yaml:"channels"`

	// FrameMillis is the fixed frame duration delivered to the VAD stage.
	FrameMillis int `yaml:"frame_millis"`

	// GainMultiplier scales captured sample amplitude before framing.
	// 1.0 leaves the signal unchanged.
	GainMultiplier float64 `yaml:"gain_multiplier"`

	// QueueDepth is the capacity of the channel connecting Capture to VAD.
	// When full, the Capture stage drops the oldest buffered frame.
	QueueDepth int `yaml:"queue_depth"`

	// DeviceID selects the input device to open by its opaque, backend-
	// assigned identifier (see [Registry.CreateAudio]). Empty means the
	// backend's default capture device.
	DeviceID string `yaml:"device_id"`
}

// VADConfig controls speech/silence segmentation.
type VADConfig struct {
	// SpeechThreshold is the minimum per-frame speech probability that marks
	// a frame as speech.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the probability below which a frame is considered
	// silence. Frames between SilenceThreshold and SpeechThreshold continue
	// whatever state the session is already in.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MaxUtteranceMillis forces an Utterance to be emitted even if speech is
	// still continuous, preventing unbounded buffering during long monologue.
	MaxUtteranceMillis int `yaml:"max_utterance_millis"`

	// MinSilenceMillis is the duration of continuous silence required to
	// close an in-progress Utterance.
	MinSilenceMillis int `yaml:"min_silence_millis"`

	// ModelPath is the filesystem path to a neural VAD model (e.g. the Silero
	// ONNX graph). Ignored by energy-threshold backends.
	ModelPath string `yaml:"model_path"`

	// MinSpeechMillis is the minimum continuous duration of above-threshold
	// frames required before Idle transitions to Speech, filtering out
	// transient blips (coughs, clicks) that never become an utterance.
	MinSpeechMillis int `yaml:"min_speech_millis"`

	// PadMillis is how much pre-roll audio, captured while still Idle, is
	// retained ahead of the detected speech onset so word onsets are not
	// clipped.
	PadMillis int `yaml:"pad_millis"`
}

// STTConfig controls the speech recognition stage.
type STTConfig struct {
	// Language is the BCP-47 source language hint passed to the recognizer.
	Language string `yaml:"language"`

	// KeywordBoosts biases recognition toward domain-specific vocabulary.
	KeywordBoosts []KeywordBoostConfig `yaml:"keyword_boosts"`

	// StarvationTimeout is the maximum time an open session may go without
	// producing a transcript before the Orchestrator treats it as stalled.
	StarvationTimeout time.Duration `yaml:"starvation_timeout"`

	// Reconnect configures the backoff used when a streaming session drops.
	Reconnect BackoffConfig `yaml:"reconnect"`
}

// KeywordBoostConfig biases recognition toward a specific word or phrase.
type KeywordBoostConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// BackoffConfig describes an exponential retry schedule.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxAttempts is the number of retries before the caller gives up.
	// Zero means retry indefinitely.
	MaxAttempts int `yaml:"max_attempts"`
}

// TranslatorConfig controls the translation stage.
type TranslatorConfig struct {
	// SourceLanguage and TargetLanguage are BCP-47 language tags.
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`

	// Timeout bounds a single translation call.
	Timeout time.Duration `yaml:"timeout"`

	// Retry configures the backoff used when a translation call fails.
	Retry BackoffConfig `yaml:"retry"`

	// Temperature controls the chat completion model's sampling randomness,
	// in the usual [0, 2] range. Zero means "unset"; [applyDefaults] fills
	// in the provider's documented default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the length of a single translation completion. Zero
	// leaves the provider's own default limit in place.
	MaxTokens int `yaml:"max_tokens"`

	// SystemPrompt overrides the instruction given to the translation model.
	// Empty uses the provider's built-in prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

// TTSConfig controls speech synthesis.
type TTSConfig struct {
	// Voice selects the synthesis voice profile.
	Voice VoiceConfig `yaml:"voice"`

	// FadeMillis is the linear fade-in/fade-out duration applied at
	// subsession boundaries to avoid audible clicks.
	FadeMillis int `yaml:"fade_millis"`

	// SilenceFallbackMillis is the duration of generated silence used as the
	// level-4 fallback when all TTS backends are unavailable.
	SilenceFallbackMillis int `yaml:"silence_fallback_millis"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// Provider is the TTS provider name (e.g., "elevenlabs", "coqui").
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 1.0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`

	// Stability controls voice consistency across a synthesis in the range
	// [0, 1]; lower values are more expressive but less consistent.
	Stability float64 `yaml:"stability"`

	// SimilarityBoost controls how closely synthesis adheres to the
	// original voice sample, in the range [0, 1].
	SimilarityBoost float64 `yaml:"similarity_boost"`

	// Style controls exaggeration of the voice's speaking style, in the
	// range [0, 1]. Zero disables style exaggeration.
	Style float64 `yaml:"style"`

	// LatencyPreset selects the provider's streaming-latency/quality
	// tradeoff, where supported. Range and meaning are provider-specific
	// (ElevenLabs uses 0-4, 0 being highest quality).
	LatencyPreset int `yaml:"latency_preset"`
}

// OutputConfig controls the playback sink.
type OutputConfig struct {
	// SampleRate and Channels describe the playback device's native format;
	// TTS audio is resampled to match before being written.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// BufferMillis sizes the channel connecting TTS to Output.
	BufferMillis int `yaml:"buffer_millis"`

	// DeviceID selects the playback device to open by its opaque,
	// backend-assigned identifier (see [Registry.CreateAudio]). Empty means
	// the backend's default playback device.
	DeviceID string `yaml:"device_id"`
}

// OrchestratorConfig controls mode-transition thresholds.
type OrchestratorConfig struct {
	// DegradedAfterFailures is the number of consecutive stage failures that
	// moves the pipeline from Active to Degraded.
	DegradedAfterFailures int `yaml:"degraded_after_failures"`

	// PassthroughAfterFailures is the number of consecutive stage failures
	// that moves the pipeline from Degraded to Passthrough.
	PassthroughAfterFailures int `yaml:"passthrough_after_failures"`

	// RecoveryProbeInterval is how often a Degraded or Passthrough pipeline
	// probes whether it can return to Active.
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`

	// ForcePassthrough pins the pipeline in Passthrough for the entire run,
	// bypassing the health-driven state machine entirely. Used to operate
	// VoiceBridge as a pure audio relay (e.g. during provider maintenance)
	// without reconfiguring every provider entry.
	ForcePassthrough bool `yaml:"force_passthrough"`

	// MetricsIntervalSeconds is how often the Orchestrator publishes a
	// point-in-time metrics snapshot. Zero uses the built-in default.
	MetricsIntervalSeconds int `yaml:"metrics_interval_seconds"`
}
