package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	ttsmock "github.com/YoSoyDavidB/voicebridge/pkg/provider/tts/mock"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

func drainSynthChunks(t *testing.T, out <-chan types.SynthChunk, timeout time.Duration) []types.SynthChunk {
	t.Helper()
	var chunks []types.SynthChunk
	for {
		select {
		case c, ok := <-out:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
			if c.Final {
				return chunks
			}
		case <-time.After(timeout):
			t.Fatal("timed out draining synth chunks")
		}
	}
}

func TestTTSStageStreamsAndEmitsFinalMarker(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}}

	in := make(chan types.Translation, 4)
	seq := &SeqAllocator{}
	stage := NewTTSStage(config.TTSConfig{}, primary, nil, in, nil, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	in <- types.Translation{UtteranceSeq: 1, Origin: time.Now(), Text: "hola", IsFinal: true}

	chunks := drainSynthChunks(t, stage.Out(), 2*time.Second)
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	last := chunks[len(chunks)-1]
	if !last.Final {
		t.Fatalf("expected the last chunk to be marked Final")
	}
	if last.Silence {
		t.Fatalf("did not expect the streaming path to fall back to silence")
	}
}

func TestTTSStageFallsThroughToSilenceWhenAllLevelsFail(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{
		SynthesizeErr:      errors.New("stream unavailable"),
		SynthesizeErr1Shot: errors.New("one-shot unavailable"),
	}

	in := make(chan types.Translation, 4)
	health := make(chan *Error, 4)
	seq := &SeqAllocator{}
	cfg := config.TTSConfig{SilenceFallbackMillis: 100}
	stage := NewTTSStage(cfg, primary, nil, in, health, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	in <- types.Translation{UtteranceSeq: 1, Origin: time.Now(), Text: "hola", IsFinal: true}

	chunks := drainSynthChunks(t, stage.Out(), 5*time.Second)
	if len(chunks) != 1 {
		t.Fatalf("want exactly one fallback chunk, got %d", len(chunks))
	}
	if !chunks[0].Silence {
		t.Fatalf("expected the final fallback chunk to be marked Silence")
	}
	if !chunks[0].Final {
		t.Fatalf("expected the fallback chunk to be marked Final")
	}

	select {
	case err := <-health:
		if err.Kind() != KindTransport {
			t.Fatalf("want KindTransport, got %v", err.Kind())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a transport health report when every fallback level fails")
	}
}

func TestTTSStageFallsBackToAlternateVoice(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{
		SynthesizeErr:      errors.New("stream unavailable"),
		SynthesizeErr1Shot: errors.New("one-shot unavailable"),
	}
	alternate := &ttsmock.Provider{
		ListVoicesResult: []types.VoiceProfile{
			{ID: "cloned-1", Cloned: true},
			{ID: "stock-1", Cloned: false},
		},
		SynthesizeResult: []byte{9, 9},
	}

	in := make(chan types.Translation, 4)
	seq := &SeqAllocator{}
	stage := NewTTSStage(config.TTSConfig{}, primary, alternate, in, nil, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	in <- types.Translation{UtteranceSeq: 1, Origin: time.Now(), Text: "hola", IsFinal: true}

	chunks := drainSynthChunks(t, stage.Out(), 5*time.Second)
	if len(chunks) != 1 {
		t.Fatalf("want exactly one fallback chunk, got %d", len(chunks))
	}
	if chunks[0].Silence {
		t.Fatalf("expected the alternate-voice fallback to produce real audio, not silence")
	}
	if len(alternate.SynthesizeStreamCalls) != 0 {
		t.Fatalf("the alternate provider's streaming path should never be used")
	}
}

func TestSuffixDiffDetectsNonMonotonicCorrection(t *testing.T) {
	t.Parallel()

	diff, corrected := suffixDiff("hello wor", "hello world")
	if corrected {
		t.Fatalf("growing prefix must not be flagged as corrected")
	}
	if diff != "ld" {
		t.Fatalf("want diff %q, got %q", "ld", diff)
	}

	_, corrected = suffixDiff("hello world", "hello wor")
	if !corrected {
		t.Fatalf("a shrinking prefix must be flagged as a non-monotonic correction")
	}
}
