package config

// ConfigDiff describes what changed between two configs. It tracks a fixed
// set of fields (log level, TTS voice, VAD thresholds, provider names,
// translator languages, orchestrator settings); it does not say whether a
// change can be applied to a running pipeline, and several of them cannot.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     string

	VoiceChanged bool
	NewVoice     VoiceConfig

	VADThresholdsChanged bool
	NewVAD               VADConfig

	STTProviderChanged        bool
	TranslatorProviderChanged bool
	TTSProviderChanged        bool

	TranslatorLanguagesChanged bool
	NewTranslator              TranslatorConfig

	OrchestratorChanged bool
	NewOrchestrator     OrchestratorConfig
}

// Diff compares old and new configs and returns what changed among the
// fields ConfigDiff tracks.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.TTS.Voice != new.TTS.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.TTS.Voice
	}

	if old.VAD.SpeechThreshold != new.VAD.SpeechThreshold ||
		old.VAD.SilenceThreshold != new.VAD.SilenceThreshold ||
		old.VAD.MaxUtteranceMillis != new.VAD.MaxUtteranceMillis ||
		old.VAD.MinSilenceMillis != new.VAD.MinSilenceMillis {
		d.VADThresholdsChanged = true
		d.NewVAD = new.VAD
	}

	if old.Providers.STT.Name != new.Providers.STT.Name {
		d.STTProviderChanged = true
	}
	if old.Providers.Translator.Name != new.Providers.Translator.Name {
		d.TranslatorProviderChanged = true
	}
	if old.Providers.TTS.Name != new.Providers.TTS.Name {
		d.TTSProviderChanged = true
	}

	if old.Translator.SourceLanguage != new.Translator.SourceLanguage ||
		old.Translator.TargetLanguage != new.Translator.TargetLanguage {
		d.TranslatorLanguagesChanged = true
		d.NewTranslator = new.Translator
	}

	if old.Orchestrator != new.Orchestrator {
		d.OrchestratorChanged = true
		d.NewOrchestrator = new.Orchestrator
	}

	return d
}
