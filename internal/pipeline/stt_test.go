package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt"
	sttmock "github.com/YoSoyDavidB/voicebridge/pkg/provider/stt/mock"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

func testUtterance(seq uint64) types.Utterance {
	return types.Utterance{
		Seq:    seq,
		Frames: []types.AudioFrame{{Data: []byte{1, 2}}, {Data: []byte{3, 4}}},
		Origin: time.Now(),
	}
}

func TestSTTStageForwardsFinalTranscript(t *testing.T) {
	t.Parallel()

	session := &sttmock.Session{
		FinalsCh: make(chan stt.Transcript, 1),
	}
	session.FinalsCh <- stt.Transcript{Text: "hello there", IsFinal: true, Confidence: 0.9}

	provider := &sttmock.Provider{Session: session}

	in := make(chan types.Utterance, 1)
	health := make(chan *Error, 4)
	seq := &SeqAllocator{}

	stage := NewSTTStage(config.STTConfig{}, provider, in, health, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	in <- testUtterance(1)

	select {
	case transcript := <-stage.Out():
		if transcript.Text != "hello there" {
			t.Fatalf("want %q, got %q", "hello there", transcript.Text)
		}
		if !transcript.IsFinal {
			t.Fatalf("expected IsFinal transcript")
		}
		if transcript.UtteranceSeq != 1 {
			t.Fatalf("want UtteranceSeq 1, got %d", transcript.UtteranceSeq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}

func TestSTTStageSkipsEmptyUtterance(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{}
	in := make(chan types.Utterance, 1)
	health := make(chan *Error, 4)
	seq := &SeqAllocator{}

	stage := NewSTTStage(config.STTConfig{}, provider, in, health, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	in <- types.Utterance{Seq: 1}

	select {
	case err := <-health:
		if err.Kind() != KindSemantic {
			t.Fatalf("want KindSemantic, got %v", err.Kind())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a semantic health report for an empty utterance")
	}

	if len(provider.StartStreamCalls) != 0 {
		t.Fatalf("expected no StartStream call for an empty utterance")
	}
}

// sequencingProvider returns a different session on each call to StartStream,
// used to simulate a dropped connection recovering on reconnect.
type sequencingProvider struct {
	mu       sync.Mutex
	sessions []stt.SessionHandle
	calls    int
}

func (p *sequencingProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[p.calls]
	p.calls++
	return s, nil
}

func TestSTTStageReconnectsAfterStreamInterruption(t *testing.T) {
	t.Parallel()

	failingSession := &sttmock.Session{
		FinalsCh: make(chan stt.Transcript),
	}
	close(failingSession.FinalsCh) // channel closes early, simulating a dropped connection

	succeedingSession := &sttmock.Session{
		FinalsCh: make(chan stt.Transcript, 1),
	}
	succeedingSession.FinalsCh <- stt.Transcript{Text: "recovered", IsFinal: true}

	provider := &sequencingProvider{sessions: []stt.SessionHandle{failingSession, succeedingSession}}

	in := make(chan types.Utterance, 1)
	seq := &SeqAllocator{}
	stage := NewSTTStage(config.STTConfig{}, provider, in, nil, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	in <- testUtterance(1)

	select {
	case transcript := <-stage.Out():
		if transcript.Text != "recovered" {
			t.Fatalf("want %q after reconnect, got %q", "recovered", transcript.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reconnect to succeed")
	}
}

func TestTrivialDiffDetectsWordBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prev, curr string
		want       bool
	}{
		{"hel", "hello", true},
		{"hello", "hello world", false},
		{"hello", "hello", true},
		{"hello", "goodbye", false},
	}
	for _, c := range cases {
		if got := trivialDiff(c.prev, c.curr); got != c.want {
			t.Errorf("trivialDiff(%q, %q) = %v, want %v", c.prev, c.curr, got, c.want)
		}
	}
}
