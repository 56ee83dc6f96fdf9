package config_test

import (
	"testing"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: "info"},
		Translator: config.TranslatorConfig{SourceLanguage: "en", TargetLanguage: "es"},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.VoiceChanged {
		t.Error("expected VoiceChanged=false for identical configs")
	}
	if d.VADThresholdsChanged {
		t.Error("expected VADThresholdsChanged=false for identical configs")
	}
	if d.TranslatorLanguagesChanged {
		t.Error("expected TranslatorLanguagesChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: "info"}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: "debug"}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != "debug" {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		TTS: config.TTSConfig{Voice: config.VoiceConfig{VoiceID: "v1"}},
	}
	new := &config.Config{
		TTS: config.TTSConfig{Voice: config.VoiceConfig{VoiceID: "v2"}},
	}

	d := config.Diff(old, new)
	if !d.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
	if d.NewVoice.VoiceID != "v2" {
		t.Errorf("expected NewVoice.VoiceID=v2, got %q", d.NewVoice.VoiceID)
	}
}

func TestDiff_VADThresholdsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		VAD: config.VADConfig{SpeechThreshold: 0.5, SilenceThreshold: 0.2},
	}
	new := &config.Config{
		VAD: config.VADConfig{SpeechThreshold: 0.6, SilenceThreshold: 0.2},
	}

	d := config.Diff(old, new)
	if !d.VADThresholdsChanged {
		t.Error("expected VADThresholdsChanged=true")
	}
	if d.NewVAD.SpeechThreshold != 0.6 {
		t.Errorf("expected NewVAD.SpeechThreshold=0.6, got %v", d.NewVAD.SpeechThreshold)
	}
}

func TestDiff_ProviderNameChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			STT:        config.ProviderEntry{Name: "deepgram"},
			Translator: config.ProviderEntry{Name: "openai"},
			TTS:        config.ProviderEntry{Name: "elevenlabs"},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			STT:        config.ProviderEntry{Name: "openai"},
			Translator: config.ProviderEntry{Name: "openai"},
			TTS:        config.ProviderEntry{Name: "coqui"},
		},
	}

	d := config.Diff(old, new)
	if !d.STTProviderChanged {
		t.Error("expected STTProviderChanged=true")
	}
	if d.TranslatorProviderChanged {
		t.Error("expected TranslatorProviderChanged=false")
	}
	if !d.TTSProviderChanged {
		t.Error("expected TTSProviderChanged=true")
	}
}

func TestDiff_TranslatorLanguagesChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Translator: config.TranslatorConfig{SourceLanguage: "en", TargetLanguage: "es"},
	}
	new := &config.Config{
		Translator: config.TranslatorConfig{SourceLanguage: "en", TargetLanguage: "fr"},
	}

	d := config.Diff(old, new)
	if !d.TranslatorLanguagesChanged {
		t.Error("expected TranslatorLanguagesChanged=true")
	}
	if d.NewTranslator.TargetLanguage != "fr" {
		t.Errorf("expected NewTranslator.TargetLanguage=fr, got %q", d.NewTranslator.TargetLanguage)
	}
}

func TestDiff_OrchestratorChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Orchestrator: config.OrchestratorConfig{DegradedAfterFailures: 3, PassthroughAfterFailures: 6},
	}
	new := &config.Config{
		Orchestrator: config.OrchestratorConfig{DegradedAfterFailures: 2, PassthroughAfterFailures: 6},
	}

	d := config.Diff(old, new)
	if !d.OrchestratorChanged {
		t.Error("expected OrchestratorChanged=true")
	}
	if d.NewOrchestrator.DegradedAfterFailures != 2 {
		t.Errorf("expected NewOrchestrator.DegradedAfterFailures=2, got %d", d.NewOrchestrator.DegradedAfterFailures)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: "info"},
		TTS:    config.TTSConfig{Voice: config.VoiceConfig{VoiceID: "v1"}},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: "warn"},
		TTS:    config.TTSConfig{Voice: config.VoiceConfig{VoiceID: "v2"}},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
}
