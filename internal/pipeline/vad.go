package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/vad"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

const (
	defaultMinSpeech = 250 * time.Millisecond
	defaultPad       = 100 * time.Millisecond
)

// vadPhase is the VAD stage's own Idle/Speech state, distinct from the raw
// per-frame classification a [vad.SessionHandle] returns. The debounce and
// edge-padding logic live here; engines only ever report whether a single
// frame is above or below threshold.
type vadPhase int

const (
	phaseIdle vadPhase = iota
	phaseSpeech
)

// VADStage turns a stream of raw AudioFrames into bounded Utterances,
// debouncing the underlying engine's per-frame speech/silence classification
// into Idle→Speech and Speech→Idle transitions, retaining edge padding so
// word onsets and codas are not clipped.
type VADStage struct {
	cfg      config.VADConfig
	frameDur time.Duration

	session vad.SessionHandle
	in      <-chan types.AudioFrame
	out     chan types.Utterance
	health  chan<- *Error
	seq     *SeqAllocator
}

// NewVADStage creates a VAD session from engine and wires it to consume in.
func NewVADStage(cfg config.VADConfig, captureCfg config.CaptureConfig, engine vad.Engine, in <-chan types.AudioFrame, health chan<- *Error, seq *SeqAllocator) (*VADStage, error) {
	frameDur := time.Duration(captureCfg.FrameMillis) * time.Millisecond
	if frameDur <= 0 {
		frameDur = 30 * time.Millisecond
	}

	session, err := engine.NewSession(vad.Config{
		SampleRate:       captureCfg.SampleRate,
		FrameSizeMs:      captureCfg.FrameMillis,
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
	})
	if err != nil {
		return nil, NewError("vad", KindConfiguration, err)
	}

	return &VADStage{
		cfg:      cfg,
		frameDur: frameDur,
		session:  session,
		in:       in,
		out:      make(chan types.Utterance, 10),
		health:   health,
		seq:      seq,
	}, nil
}

// Out returns the channel of emitted Utterances. The caller (the STT stage)
// reads this channel; it blocks rather than drops, since an Utterance is
// comparatively rare and must never be silently lost.
func (v *VADStage) Out() <-chan types.Utterance {
	return v.out
}

// Run drives the state machine until ctx is cancelled or in is closed.
func (v *VADStage) Run(ctx context.Context) error {
	defer close(v.out)
	defer v.session.Close()

	minSpeechMillis := v.cfg.MinSpeechMillis
	if minSpeechMillis <= 0 {
		minSpeechMillis = int(defaultMinSpeech / time.Millisecond)
	}
	minSpeechFrames := framesFor(time.Duration(minSpeechMillis)*time.Millisecond, v.frameDur)
	minSilenceMillis := v.cfg.MinSilenceMillis
	if minSilenceMillis <= 0 {
		minSilenceMillis = 300
	}
	minSilenceFrames := framesFor(time.Duration(minSilenceMillis)*time.Millisecond, v.frameDur)
	padMillis := v.cfg.PadMillis
	if padMillis <= 0 {
		padMillis = int(defaultPad / time.Millisecond)
	}
	padFrames := framesFor(time.Duration(padMillis)*time.Millisecond, v.frameDur)
	maxUtteranceMillis := v.cfg.MaxUtteranceMillis
	if maxUtteranceMillis <= 0 {
		maxUtteranceMillis = 15000
	}
	maxFrames := framesFor(time.Duration(maxUtteranceMillis)*time.Millisecond, v.frameDur)

	phase := phaseIdle
	var preroll []types.AudioFrame
	var collected []types.AudioFrame
	var aboveCount, belowCount int
	var origin time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-v.in:
			if !ok {
				return nil
			}

			event, err := v.session.ProcessFrame(frame.Data)
			if err != nil {
				v.report(KindSemantic, err)
				continue
			}
			isSpeech := event.Probability >= v.cfg.SpeechThreshold

			switch phase {
			case phaseIdle:
				// The ring also holds the frames counted toward
				// minSpeechFrames, so they are kept when Speech begins.
				preroll = appendRing(preroll, frame, padFrames+minSpeechFrames)
				if isSpeech {
					aboveCount++
					if aboveCount >= minSpeechFrames {
						phase = phaseSpeech
						belowCount = 0
						collected = append([]types.AudioFrame(nil), preroll...)
						if len(collected) > 0 {
							origin = collected[0].Timestamp
						} else {
							origin = frame.Timestamp
						}
					}
				} else {
					aboveCount = 0
				}

			case phaseSpeech:
				if len(collected) == 0 {
					origin = frame.Timestamp
				}
				collected = append(collected, frame)
				if isSpeech {
					belowCount = 0
				} else {
					belowCount++
				}

				switch {
				case belowCount >= minSilenceFrames:
					// minSilenceFrames already exceeds padFrames at default
					// settings (300ms > 100ms), so the trailing silence
					// collected above naturally covers the required pad
					// without further trimming.
					v.emit(collected, origin, false)
					phase = phaseIdle
					aboveCount = 0
					belowCount = 0
					collected = nil
					preroll = nil

				case len(collected) >= maxFrames:
					// Forced split on max utterance duration: stay in Speech
					// with an empty buffer so the next frame continues the
					// same utterance window with no gap in recognition,
					// instead of re-entering through the idle phase's
					// shorter pre-roll ring.
					v.emit(collected, origin, true)
					collected = nil
				}
			}
		}
	}
}

// emit builds and sends an Utterance, blocking if the output channel is
// full rather than dropping it.
func (v *VADStage) emit(frames []types.AudioFrame, origin time.Time, forced bool) {
	if len(frames) == 0 {
		return
	}
	dur := time.Duration(len(frames)) * v.frameDur
	utt := types.Utterance{
		Seq:      v.seq.Next(),
		Frames:   frames,
		Origin:   origin,
		Duration: dur,
		Forced:   forced,
	}
	v.out <- utt
}

func (v *VADStage) report(kind Kind, err error) {
	if v.health == nil {
		return
	}
	select {
	case v.health <- NewError("vad", kind, err):
	default:
		slog.Warn("vad: health channel full, dropping error report")
	}
}

// framesFor converts a duration to a frame count at the given per-frame
// duration, rounding up and never returning less than 1.
func framesFor(d, frameDur time.Duration) int {
	if frameDur <= 0 {
		return 1
	}
	n := int((d + frameDur - 1) / frameDur)
	if n < 1 {
		return 1
	}
	return n
}

// appendRing appends frame to buf, discarding the oldest entry once buf
// reaches cap frames. Used to retain pre-roll padding while idle.
func appendRing(buf []types.AudioFrame, frame types.AudioFrame, capFrames int) []types.AudioFrame {
	if capFrames <= 0 {
		return buf
	}
	buf = append(buf, frame)
	if len(buf) > capFrames {
		buf = buf[len(buf)-capFrames:]
	}
	return buf
}
