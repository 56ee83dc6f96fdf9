package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	audiomock "github.com/YoSoyDavidB/voicebridge/pkg/audio/mock"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt"
	sttmock "github.com/YoSoyDavidB/voicebridge/pkg/provider/stt/mock"
	translatormock "github.com/YoSoyDavidB/voicebridge/pkg/provider/translator/mock"
	ttsmock "github.com/YoSoyDavidB/voicebridge/pkg/provider/tts/mock"
	vadpkg "github.com/YoSoyDavidB/voicebridge/pkg/provider/vad"
	vadmock "github.com/YoSoyDavidB/voicebridge/pkg/provider/vad/mock"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

// TestEndToEndNormalUtterance exercises the VAD -> STT -> Translator -> TTS
// -> Output chain for a single utterance (fed directly with the AudioFrame
// values Capture would have produced), confirming rendered audio reaches
// the playback device with no health errors along the happy path.
func TestEndToEndNormalUtterance(t *testing.T) {
	t.Parallel()

	device := audiomock.NewDevice()
	seq := &SeqAllocator{}
	health := make(chan *Error, 16)

	captureCfg := config.CaptureConfig{SampleRate: 16000, Channels: 1, FrameMillis: 10, QueueDepth: 64}
	vadCfg := config.VADConfig{SpeechThreshold: 0.5, SilenceThreshold: 0.3, MinSilenceMillis: 30, MaxUtteranceMillis: 5000}
	outputCfg := config.OutputConfig{SampleRate: synthesizedSampleRate, Channels: 1}

	capIn := make(chan types.AudioFrame, 64)

	vadSession := &vadmock.Session{}
	vadEngine := &vadmock.Engine{Session: vadSession}
	vadStage, err := NewVADStage(vadCfg, captureCfg, vadEngine, capIn, health, seq)
	if err != nil {
		t.Fatalf("unexpected error building VAD stage: %v", err)
	}

	sttSession := &sttmock.Session{FinalsCh: make(chan stt.Transcript, 1)}
	sttSession.FinalsCh <- stt.Transcript{Text: "hello there", IsFinal: true, Confidence: 0.95}
	sttProvider := &sttmock.Provider{Session: sttSession}
	sttStage := NewSTTStage(config.STTConfig{}, sttProvider, vadStage.Out(), health, seq)

	translatorProvider := &translatormock.Provider{StreamChunks: []string{"hola amigo"}}
	translatorCfg := config.TranslatorConfig{SourceLanguage: "en", TargetLanguage: "es"}
	translatorStage := NewTranslatorStage(translatorCfg, translatorProvider, sttStage.Out(), health, seq)

	ttsProvider := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2, 3, 4}}}
	ttsStage := NewTTSStage(config.TTSConfig{}, ttsProvider, nil, translatorStage.Out(), health, seq)

	outputStage := NewOutputStage(outputCfg, 5, device, false, ttsStage.Out(), health, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vadStage.Run(ctx)
	go sttStage.Run(ctx)
	go translatorStage.Run(ctx)
	go ttsStage.Run(ctx)
	go outputStage.Run(ctx)

	// Drive enough speech frames to open an utterance, then silence to close it.
	vadSession.EventResult = vadpkg.VADEvent{Type: vadpkg.VADSpeechContinue, Probability: 0.9}
	for i := 0; i < 30; i++ {
		capIn <- types.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1, Timestamp: time.Now()}
	}
	vadSession.EventResult = vadpkg.VADEvent{Type: vadpkg.VADSilence, Probability: 0.0}
	for i := 0; i < 5; i++ {
		capIn <- types.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1, Timestamp: time.Now()}
	}

	select {
	case out := <-device.PlaybackCh:
		if len(out.Data) == 0 {
			t.Fatalf("expected a non-empty rendered audio frame")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for rendered audio to reach the playback device")
	}

	select {
	case herr := <-health:
		t.Fatalf("did not expect a health error on the happy path, got %v", herr)
	default:
	}
}

// TestTwoUtterancesNeverOverlapTTSSubsessions drives two Translations back
// to back, directly at the TTS stage, and checks the emitted SynthChunks
// never interleave between the two UtteranceSeqs: every chunk for
// utterance 1 (including its Final marker) must appear before the first
// chunk of utterance 2.
func TestTwoUtterancesNeverOverlapTTSSubsessions(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1}, {2}, {3}}}

	in := make(chan types.Translation, 4)
	seq := &SeqAllocator{}
	stage := NewTTSStage(config.TTSConfig{}, primary, nil, in, nil, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	now := time.Now()
	in <- types.Translation{UtteranceSeq: 1, Origin: now, Text: "first", IsFinal: true}
	in <- types.Translation{UtteranceSeq: 2, Origin: now, Text: "second", IsFinal: true}

	var sawUtt1Final, sawUtt2Start bool
	deadline := time.After(3 * time.Second)
	for i := 0; i < 8; i++ {
		select {
		case chunk := <-stage.Out():
			if chunk.UtteranceSeq == 2 {
				sawUtt2Start = true
				if !sawUtt1Final {
					t.Fatalf("utterance 2 audio arrived before utterance 1's final marker")
				}
			}
			if chunk.UtteranceSeq == 1 && chunk.Final {
				sawUtt1Final = true
			}
		case <-deadline:
			t.Fatal("timed out collecting synth chunks")
		}
		if sawUtt2Start {
			break
		}
	}
	if !sawUtt1Final || !sawUtt2Start {
		t.Fatalf("expected to observe both utterances' chunks, utt1Final=%v utt2Start=%v", sawUtt1Final, sawUtt2Start)
	}
}

// TestSequenceNumbersIncreaseAcrossRecordTypes confirms the shared
// SeqAllocator hands out strictly increasing numbers regardless of which
// record type draws from it, matching the cross-stage invariant.
func TestSequenceNumbersIncreaseAcrossRecordTypes(t *testing.T) {
	t.Parallel()

	seq := &SeqAllocator{}
	var last uint64
	for i := 0; i < 100; i++ {
		n := seq.Next()
		if n <= last {
			t.Fatalf("sequence number did not increase: prev=%d next=%d", last, n)
		}
		last = n
	}
}
