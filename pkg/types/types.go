// Package types defines the shared data model used across all VoiceBridge
// packages.
//
// These types form the lingua franca between providers, pipeline stages, and
// the orchestrator. They are intentionally minimal — each package defines its
// own domain types where useful, but cross-cutting data structures live here
// to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of raw PCM audio flowing through the
// capture side of the pipeline. Frames are the atomic unit of audio
// transport — captured from the input device, consumed by VAD, and
// forwarded to STT.
type AudioFrame struct {
	// Data is little-endian 16-bit PCM audio.
	Data []byte

	// SampleRate in Hz. VoiceBridge captures at 16000.
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Seq is a monotonically increasing sequence number, unique within a
	// single pipeline run.
	Seq uint64

	// Timestamp is the wall-clock time this frame was captured.
	Timestamp time.Time
}

// Utterance is a bounded span of audio delimited by VAD: a contiguous run of
// AudioFrame values between a speech-start and speech-end transition,
// including the configured edge padding.
type Utterance struct {
	// Seq is this utterance's sequence number.
	Seq uint64

	// Frames is the audio captured for this utterance, in order.
	Frames []AudioFrame

	// Origin is the wall-clock time the utterance began (the first frame's
	// timestamp, minus leading padding). Every downstream record derived
	// from this utterance carries Origin unchanged; per-stage timeout
	// budgets are measured from it.
	Origin time.Time

	// Duration is the span of audio carried in Frames.
	Duration time.Duration

	// Forced indicates the utterance was emitted because maxUtterance was
	// reached while speech was still continuing, rather than because
	// silence was detected.
	Forced bool
}

// Transcript is an STT result for an utterance. Both interim (non-final) and
// final transcripts use this type; IsFinal distinguishes them.
type Transcript struct {
	// Seq is this transcript's sequence number.
	Seq uint64

	// UtteranceSeq identifies the Utterance this transcript was produced for.
	UtteranceSeq uint64

	// Origin is inherited unchanged from the originating Utterance.
	Origin time.Time

	// Text is the transcribed speech content so far. For interim
	// transcripts this is a growing prefix of the eventual final text.
	Text string

	// IsFinal indicates this is the authoritative, non-revisable transcript
	// for the utterance.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when the provider supplies it. May be
	// nil.
	Words []WordDetail
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Translation is the Translator's output for a Transcript. Like Transcript,
// a non-final Translation carries a growing prefix of the eventual final
// text.
type Translation struct {
	// Seq is this translation's sequence number.
	Seq uint64

	// UtteranceSeq identifies the Utterance this translation derives from.
	UtteranceSeq uint64

	// Origin is inherited unchanged from the originating Utterance.
	Origin time.Time

	// SourceText is the source-language text snapshot that produced this
	// translation (the Transcript text at the moment of translation).
	SourceText string

	// Text is the translated text.
	Text string

	// IsFinal mirrors the finality of the Transcript it was derived from.
	IsFinal bool
}

// SynthChunk is a single piece of synthesized audio emitted by the TTS
// stage for one Utterance's subsession.
type SynthChunk struct {
	// Seq is this chunk's sequence number.
	Seq uint64

	// UtteranceSeq identifies the Utterance this audio belongs to.
	UtteranceSeq uint64

	// Origin is inherited unchanged from the originating Utterance.
	Origin time.Time

	// PCM is little-endian 16-bit audio at the synthesizer's native rate.
	PCM []byte

	// Final marks the last chunk of the subsession; no further SynthChunks
	// will be emitted for this UtteranceSeq.
	Final bool

	// Silence marks a chunk that was synthesized as fallback silence
	// (TTS fallback chain level 4) rather than real speech.
	Silence bool
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Cloned indicates this voice was produced by CloneVoice rather than
	// being a stock catalogue voice. The TTS fallback chain's level-3 step
	// specifically requires a non-cloned voice.
	Cloned bool

	// Metadata holds provider-specific voice attributes (gender, age,
	// accent, language, etc.).
	Metadata map[string]string
}

// KeywordBoost is a vocabulary hint passed to STT to raise the recognition
// probability of a specific word or phrase (proper nouns, domain jargon).
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// VADEvent represents a voice activity detection result for a single audio
// frame.
type VADEvent struct {
	Type        VADEventType
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates the Idle to Speech transition has just fired.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech, no transition.
	VADSpeechContinue

	// VADSpeechEnd indicates the Speech to Idle transition has just fired;
	// an Utterance is ready for emission.
	VADSpeechEnd

	// VADSilence indicates ongoing silence, no transition.
	VADSilence
)

// OrchestratorMode is the Orchestrator's current operating state.
type OrchestratorMode int

const (
	// ModeActive: the full pipeline is operating normally.
	ModeActive OrchestratorMode = iota

	// ModeDegraded: a non-essential stage has failed over or is retrying,
	// but the pipeline is still producing translated output.
	ModeDegraded

	// ModePassthrough: STT/Translator/TTS are unavailable; raw captured
	// audio is routed directly to Output.
	ModePassthrough
)

// String returns the human-readable name of the mode.
func (m OrchestratorMode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeDegraded:
		return "degraded"
	case ModePassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// StageLatency is a single stage's point-in-time latency summary.
type StageLatency struct {
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	QueueDepth int
	Dropped    uint64
}

// PipelineMetrics is a point-in-time health and latency snapshot published
// by the Orchestrator on its reporting cadence.
type PipelineMetrics struct {
	Mode      OrchestratorMode
	Capture   StageLatency
	VAD       StageLatency
	STT       StageLatency
	Translate StageLatency
	TTS       StageLatency
	Output    StageLatency
	Timestamp time.Time
}
