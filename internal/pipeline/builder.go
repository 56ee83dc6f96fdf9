package pipeline

import (
	"context"
	"fmt"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/internal/observe"
	"github.com/YoSoyDavidB/voicebridge/internal/resilience"
	"github.com/YoSoyDavidB/voicebridge/pkg/audio"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/tts"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

// healthBufferSize bounds the shared health channel every stage reports on.
// Sized generously; a full buffer only means the Orchestrator is falling
// behind on health reports, in which case the offending stage logs a
// warning and drops the report rather than blocking.
const healthBufferSize = 64

// Pipeline is the fully wired, sealed VoiceBridge signal chain: Capture,
// VAD, STT, Translator, TTS, and Output, supervised by an Orchestrator.
// Apart from Run, its only mutation is [Pipeline.UpdateOrchestratorConfig],
// which swaps the Orchestrator's mode-transition settings; stages and
// providers cannot be reconfigured after Build returns it.
type Pipeline struct {
	orchestrator *Orchestrator
	device       audio.Device
}

// Run starts the pipeline and blocks until ctx is cancelled or a stage
// returns a non-recoverable error.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.orchestrator.Run(ctx)
}

// Mode returns the channel of Orchestrator mode transitions.
func (p *Pipeline) Mode() <-chan types.OrchestratorMode {
	return p.orchestrator.ModeChanges()
}

// CurrentMode returns the Orchestrator's mode as of its most recent
// transition, useful for a health endpoint to report the pipeline's
// current operating state without racing a one-shot channel read.
func (p *Pipeline) CurrentMode() types.OrchestratorMode {
	return p.orchestrator.CurrentMode()
}

// UpdateOrchestratorConfig applies a new set of mode-transition thresholds
// to the running Orchestrator, used by the config file watcher to apply a
// hot-reloaded orchestrator.* change without rebuilding the pipeline.
func (p *Pipeline) UpdateOrchestratorConfig(cfg config.OrchestratorConfig) {
	p.orchestrator.UpdateConfig(cfg)
}

// Close releases the pipeline's audio device.
func (p *Pipeline) Close() error {
	if p.device == nil {
		return nil
	}
	return p.device.Close()
}

// Build constructs every stage and channel described in the pipeline and
// returns the sealed result. reg must already have every provider named in
// cfg.Providers registered.
func Build(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Pipeline, error) {
	device, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build audio device: %w", err)
	}

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build stt provider: %w", err)
	}
	translatorProvider, err := reg.CreateTranslator(cfg.Providers.Translator)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build translator provider: %w", err)
	}
	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build tts provider: %w", err)
	}
	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build vad engine: %w", err)
	}

	if cfg.Providers.FallbackSTT.Name != "" {
		fallback, err := reg.CreateSTT(cfg.Providers.FallbackSTT)
		if err != nil {
			return nil, fmt.Errorf("pipeline: build fallback stt provider: %w", err)
		}
		guarded := resilience.NewSTTFallback(sttProvider, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		guarded.AddFallback(cfg.Providers.FallbackSTT.Name, fallback)
		sttProvider = guarded
	}

	if cfg.Providers.FallbackTranslator.Name != "" {
		fallback, err := reg.CreateTranslator(cfg.Providers.FallbackTranslator)
		if err != nil {
			return nil, fmt.Errorf("pipeline: build fallback translator provider: %w", err)
		}
		guarded := resilience.NewTranslatorFallback(translatorProvider, cfg.Providers.Translator.Name, resilience.FallbackConfig{})
		guarded.AddFallback(cfg.Providers.FallbackTranslator.Name, fallback)
		translatorProvider = guarded
	}

	var alternateTTS tts.Provider
	if cfg.Providers.AlternateTTS.Name != "" {
		alt, err := reg.CreateTTS(cfg.Providers.AlternateTTS)
		if err != nil {
			return nil, fmt.Errorf("pipeline: build alternate tts provider: %w", err)
		}
		alternateTTS = alt
	}

	seq := &SeqAllocator{}
	health := make(chan *Error, healthBufferSize)

	reopen := func() (audio.Device, error) {
		return reg.CreateAudio(cfg.Providers.Audio)
	}

	capture := NewCaptureStage(cfg.Capture, device, reopen, health, seq)
	vadStage, err := NewVADStage(cfg.VAD, cfg.Capture, vadEngine, capture.Out(), health, seq)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build vad stage: %w", err)
	}
	sttStage := NewSTTStage(cfg.STT, sttProvider, vadStage.Out(), health, seq)
	translatorStage := NewTranslatorStage(cfg.Translator, translatorProvider, sttStage.Out(), health, seq)
	ttsStage := NewTTSStage(cfg.TTS, ttsProvider, alternateTTS, translatorStage.Out(), health, seq)
	outputStage := NewOutputStage(cfg.Output, cfg.TTS.FadeMillis, device, false, ttsStage.Out(), health, seq)

	orchestrator := NewOrchestrator(cfg.Orchestrator, metrics, health,
		NamedStage("capture", capture),
		NamedStage("vad", vadStage),
		NamedStage("stt", sttStage),
		NamedStage("translator", translatorStage),
		NamedStage("tts", ttsStage),
		NamedStage("output", outputStage),
	)

	return &Pipeline{orchestrator: orchestrator, device: device}, nil
}
