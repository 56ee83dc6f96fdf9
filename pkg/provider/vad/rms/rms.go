// Package rms provides an energy-threshold VAD engine. It has no external
// model dependency and is the backend used when no ONNX Runtime model file
// is configured, or as a lightweight fallback.
package rms

import (
	"errors"
	"math"

	"github.com/YoSoyDavidB/voicebridge/pkg/provider/vad"
)

// Engine implements vad.Engine using a simple root-mean-square energy
// heuristic: a frame's speech probability is its normalized RMS energy
// clamped to [0, 1].
type Engine struct{}

// New constructs a new RMS-based VAD Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("rms: SampleRate must be positive")
	}
	if cfg.SpeechThreshold < cfg.SilenceThreshold {
		return nil, errors.New("rms: SpeechThreshold must be >= SilenceThreshold")
	}
	return &session{cfg: cfg}, nil
}

// session is a single RMS VAD session. It is stateless between frames beyond
// the config it was created with, since RMS energy requires no history.
type session struct {
	cfg    vad.Config
	closed bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("rms: session is closed")
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, errors.New("rms: frame length must be a multiple of 2 (16-bit PCM)")
	}

	prob := rmsProbability(frame)

	evtType := vad.VADSilence
	switch {
	case prob >= s.cfg.SpeechThreshold:
		evtType = vad.VADSpeechContinue
	case prob < s.cfg.SilenceThreshold:
		evtType = vad.VADSilence
	default:
		evtType = vad.VADSpeechContinue
	}

	return vad.VADEvent{Type: evtType, Probability: prob}, nil
}

// Reset implements vad.SessionHandle. RMS detection is stateless per frame,
// so there is nothing to clear.
func (s *session) Reset() {}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rmsProbability computes the normalized RMS energy of a little-endian
// int16 PCM frame as a value in [0, 1]. Silence (all-zero frames) maps to 0;
// full-scale noise maps close to 1.
func rmsProbability(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		v := float64(s)
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(n))
	prob := rms / 32768.0
	if prob > 1 {
		prob = 1
	}
	return prob
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)
