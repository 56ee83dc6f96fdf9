// Package silero provides a VAD engine backed by the Silero VAD ONNX model,
// run locally through ONNX Runtime's direct tensor API. It is the
// "precompiled lightweight model" backend referenced by the pipeline's VAD
// stage design: a single shared model is loaded once and each session keeps
// its own recurrent state tensors so concurrent streams don't interfere.
package silero

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/YoSoyDavidB/voicebridge/pkg/provider/vad"
)

const (
	contextSize = 64  // samples of look-back context Silero v5 expects at 16kHz
	stateSize   = 128 // LSTM state width used by the v5 graph
)

// Engine implements vad.Engine using a Silero VAD ONNX model loaded once at
// construction and shared (read-only) across sessions.
type Engine struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// New loads the Silero VAD model from modelPath and initializes the ONNX
// Runtime environment. Call ort.SetSharedLibraryPath before calling New if
// the onnxruntime shared library is not on the default search path.
func New(modelPath string) (*Engine, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("silero: initialize onnxruntime: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: load model %s: %w", modelPath, err)
	}

	return &Engine{session: session}, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 16000 && cfg.SampleRate != 8000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d, must be 8000 or 16000", cfg.SampleRate)
	}
	state := make([]float32, 2*1*stateSize)
	return &session{engine: e, cfg: cfg, state: state}, nil
}

// Close releases the shared ONNX Runtime session. Call once, after all
// sessions created from this Engine have been closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// session is a single Silero VAD stream. It owns its own recurrent state
// tensor; ProcessFrame calls are serialized by the caller (the VAD pipeline
// stage calls ProcessFrame synchronously from one goroutine per stream).
type session struct {
	engine  *Engine
	cfg     vad.Config
	state   []float32
	context []float32 // trailing contextSize samples carried from the previous frame
	closed  bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("silero: session is closed")
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, errors.New("silero: frame length must be a multiple of 2 (16-bit PCM)")
	}

	samples := pcm16ToFloat32(frame)
	input := make([]float32, 0, len(s.context)+len(samples))
	input = append(input, s.context...)
	input = append(input, samples...)

	if len(input) >= contextSize {
		s.context = append([]float32(nil), input[len(input)-contextSize:]...)
	}

	prob, nextState, err := s.engine.infer(input, s.state, int64(s.cfg.SampleRate))
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("silero: inference: %w", err)
	}
	s.state = nextState

	evtType := vad.VADSilence
	if prob >= s.cfg.SpeechThreshold {
		evtType = vad.VADSpeechContinue
	}
	return vad.VADEvent{Type: evtType, Probability: float64(prob)}, nil
}

// Reset implements vad.SessionHandle, clearing the recurrent state so a new
// utterance does not inherit stale history from a previous one.
func (s *session) Reset() {
	for i := range s.state {
		s.state[i] = 0
	}
	s.context = nil
}

// Close implements vad.SessionHandle. The underlying ONNX session is shared
// across sessions and is not torn down here; call Engine.Close for that.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// infer runs one forward pass of the Silero graph, serialized by the
// Engine's mutex since the underlying ONNX Runtime session handle is shared.
func (e *Engine) infer(samples []float32, state []float32, sampleRate int64) (float32, []float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return 0, nil, err
	}
	defer inputTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		return 0, nil, err
	}
	defer srTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, stateSize), state)
	if err != nil {
		return 0, nil, err
	}
	defer stateTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, nil, err
	}
	defer outputTensor.Destroy()

	stateOutTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		return 0, nil, err
	}
	defer stateOutTensor.Destroy()

	if err := e.session.Run(
		[]ort.Value{inputTensor, srTensor, stateTensor},
		[]ort.Value{outputTensor, stateOutTensor},
	); err != nil {
		return 0, nil, err
	}

	prob := outputTensor.GetData()[0]
	nextState := append([]float32(nil), stateOutTensor.GetData()...)
	return prob, nextState, nil
}

// pcm16ToFloat32 converts little-endian int16 PCM to [-1, 1] float32 samples,
// the input range the Silero graph was trained on.
func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)
