package pipeline

import "fmt"

// Kind classifies a pipeline [Error] so the Orchestrator can decide a state
// transition by switching on it rather than matching error strings.
type Kind int

const (
	// KindConfiguration marks an invalid or missing setting, detected at
	// startup before any stage goroutine runs.
	KindConfiguration Kind = iota

	// KindDevice marks a capture/playback hardware failure.
	KindDevice

	// KindTransport marks a network or provider connectivity failure (STT,
	// Translator, TTS backends).
	KindTransport

	// KindSemantic marks a provider response that was unusable — an empty
	// transcript, a malformed translation, and similar.
	KindSemantic

	// KindStarvation marks a stage whose input channel has seen no traffic
	// for longer than its expected cadence, suggesting an upstream stall.
	KindStarvation
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDevice:
		return "device"
	case KindTransport:
		return "transport"
	case KindSemantic:
		return "semantic"
	case KindStarvation:
		return "starvation"
	default:
		return "unknown"
	}
}

// Error is the error type every pipeline stage reports over the health
// channel. It carries enough context — which stage, which kind — for the
// Orchestrator to make a single centralized transition decision without
// string matching.
type Error struct {
	// Stage identifies the reporting stage ("capture", "vad", "stt",
	// "translator", "tts", "output").
	Stage string

	// kind classifies the failure.
	kind Kind

	// Err is the underlying error, if any.
	Err error
}

// NewError wraps err as a pipeline [Error] of the given kind, reported by stage.
func NewError(stage string, kind Kind, err error) *Error {
	return &Error{Stage: stage, kind: kind, Err: err}
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline: %s: %s", e.Stage, e.kind)
	}
	return fmt.Sprintf("pipeline: %s: %s: %v", e.Stage, e.kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
