package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/tts"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

const ttsStreamRetries = 3

// TTSStage operates one subsession per Utterance using a BOS/suffix-send/EOS
// protocol against the primary synthesizer. On failure it works down a
// four-level fallback chain: retry streaming, fall back to a one-shot call
// on the same vendor, fall back to an alternate synthesizer's stock voice,
// and finally emit a single silence chunk so downstream never hangs.
//
// Subsessions are strictly sequential — the stage never opens a new one
// before the previous Utterance's EOS has been flushed, since overlapping
// subsessions would interleave audio.
type TTSStage struct {
	cfg       config.TTSConfig
	primary   tts.Provider
	alternate tts.Provider

	primaryVoice       types.VoiceProfile
	alternateVoice     *types.VoiceProfile
	alternateResolved  bool
	silenceFallbackDur time.Duration

	in     <-chan types.Translation
	out    chan types.SynthChunk
	health chan<- *Error
	seq    *SeqAllocator
}

// NewTTSStage wires a TTSStage to consume Translations from in. alternate
// may be nil if no fallback synthesizer is configured (level 3 is then
// skipped in favor of level 4 directly).
func NewTTSStage(cfg config.TTSConfig, primary, alternate tts.Provider, in <-chan types.Translation, health chan<- *Error, seq *SeqAllocator) *TTSStage {
	silenceMillis := cfg.SilenceFallbackMillis
	if silenceMillis <= 0 {
		silenceMillis = 500
	}
	return &TTSStage{
		cfg:                cfg,
		primary:            primary,
		alternate:          alternate,
		primaryVoice:       voiceFromConfig(cfg.Voice),
		silenceFallbackDur: time.Duration(silenceMillis) * time.Millisecond,
		in:                 in,
		out:                make(chan types.SynthChunk, 50),
		health:             health,
		seq:                seq,
	}
}

// Out returns the channel of emitted SynthChunks.
func (t *TTSStage) Out() <-chan types.SynthChunk {
	return t.out
}

// subsession tracks one Utterance's in-progress BOS/suffix/EOS exchange.
type subsession struct {
	utteranceSeq uint64
	origin       time.Time
	fullText     string
	lastPrefix   string

	streaming bool
	textCh    chan string
	audioDone chan struct{}
}

// Run drives the stage until ctx is cancelled or in closes.
func (t *TTSStage) Run(ctx context.Context) error {
	defer close(t.out)

	var sub *subsession

	for {
		select {
		case <-ctx.Done():
			if sub != nil {
				t.finalizeSubsession(ctx, sub)
			}
			return nil
		case translation, ok := <-t.in:
			if !ok {
				if sub != nil {
					t.finalizeSubsession(ctx, sub)
				}
				return nil
			}

			if sub == nil || sub.utteranceSeq != translation.UtteranceSeq {
				if sub != nil {
					// Defensive: the previous subsession should already be
					// closed by its own final marker. Force EOS so the next
					// one never overlaps it.
					t.finalizeSubsession(ctx, sub)
				}
				sub = t.openSubsession(ctx, translation)
			}

			diff, corrected := suffixDiff(sub.lastPrefix, translation.Text)
			if corrected {
				t.report(KindSemantic, errors.New("translator: non-monotonic correction received after audio already spoken"))
			}
			sub.fullText = translation.Text
			sub.lastPrefix = translation.Text

			if diff != "" && sub.streaming {
				select {
				case sub.textCh <- diff:
				case <-ctx.Done():
					return nil
				}
			}

			if translation.IsFinal {
				t.finalizeSubsession(ctx, sub)
				sub = nil
			}
		}
	}
}

// openSubsession begins a new BOS, attempting streaming synthesis against
// the primary provider up to ttsStreamRetries times before degrading to
// buffered fallback (resolved at finalizeSubsession once the final text is
// known).
func (t *TTSStage) openSubsession(ctx context.Context, translation types.Translation) *subsession {
	sub := &subsession{
		utteranceSeq: translation.UtteranceSeq,
		origin:       translation.Origin,
	}

	delay := 200 * time.Millisecond
	for attempt := 1; attempt <= ttsStreamRetries; attempt++ {
		textCh := make(chan string, 8)
		audioCh, err := t.primary.SynthesizeStream(ctx, textCh, t.primaryVoice)
		if err == nil {
			sub.streaming = true
			sub.textCh = textCh
			sub.audioDone = make(chan struct{})
			go t.forwardAudio(audioCh, sub)
			return sub
		}
		close(textCh)
		slog.Warn("tts: stream start failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return sub
		case <-time.After(delay):
		}
		delay *= 2
	}

	slog.Warn("tts: streaming unavailable, degrading to buffered fallback", "utterance_seq", sub.utteranceSeq)
	return sub
}

// forwardAudio drains audioCh, emitting each chunk as a non-final
// SynthChunk, and closes audioDone once the provider closes its channel.
func (t *TTSStage) forwardAudio(audioCh <-chan []byte, sub *subsession) {
	defer close(sub.audioDone)
	for pcm := range audioCh {
		t.out <- types.SynthChunk{
			Seq:          t.seq.Next(),
			UtteranceSeq: sub.utteranceSeq,
			Origin:       sub.origin,
			PCM:          pcm,
			Final:        false,
		}
	}
}

// finalizeSubsession closes out sub's EOS. If streaming was in progress it
// waits for the in-flight audio to drain and emits a final marker chunk. If
// streaming never started (or broke), it works down the remaining fallback
// levels using the full accumulated text.
func (t *TTSStage) finalizeSubsession(ctx context.Context, sub *subsession) {
	if sub.streaming {
		close(sub.textCh)
		<-sub.audioDone
		t.out <- types.SynthChunk{
			Seq:          t.seq.Next(),
			UtteranceSeq: sub.utteranceSeq,
			Origin:       sub.origin,
			Final:        true,
		}
		return
	}

	t.runFallback(ctx, sub)
}

// runFallback attempts fallback levels 2-4 in order: a one-shot call on the
// same vendor, an alternate synthesizer's stock voice, and finally a single
// silence chunk.
func (t *TTSStage) runFallback(ctx context.Context, sub *subsession) {
	if sub.fullText != "" {
		if pcm, err := t.primary.Synthesize(ctx, sub.fullText, t.primaryVoice); err == nil {
			t.emitFinal(sub, pcm, false)
			t.reportFallbackLevel(2)
			return
		} else {
			slog.Warn("tts: fallback level 2 failed", "err", err)
		}

		if t.alternate != nil {
			if voice, err := t.resolveAlternateVoice(ctx); err == nil {
				if pcm, err := t.alternate.Synthesize(ctx, sub.fullText, *voice); err == nil {
					t.emitFinal(sub, pcm, false)
					t.reportFallbackLevel(3)
					return
				} else {
					slog.Warn("tts: fallback level 3 failed", "err", err)
				}
			} else {
				slog.Warn("tts: no alternate stock voice available", "err", err)
			}
		}
	}

	t.report(KindTransport, errors.New("tts: all synthesis levels failed, emitting silence"))
	t.reportFallbackLevel(4)
	t.emitFinal(sub, silencePCM(t.silenceFallbackDur), true)
}

func (t *TTSStage) emitFinal(sub *subsession, pcm []byte, silence bool) {
	t.out <- types.SynthChunk{
		Seq:          t.seq.Next(),
		UtteranceSeq: sub.utteranceSeq,
		Origin:       sub.origin,
		PCM:          pcm,
		Final:        true,
		Silence:      silence,
	}
}

// resolveAlternateVoice finds and caches a non-cloned stock voice from the
// alternate synthesizer, as required by fallback level 3.
func (t *TTSStage) resolveAlternateVoice(ctx context.Context) (*types.VoiceProfile, error) {
	if t.alternateResolved {
		if t.alternateVoice == nil {
			return nil, errors.New("tts: no non-cloned voice available on alternate provider")
		}
		return t.alternateVoice, nil
	}
	t.alternateResolved = true

	voices, err := t.alternate.ListVoices(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range voices {
		if !v.Cloned {
			t.alternateVoice = &v
			return t.alternateVoice, nil
		}
	}
	return nil, errors.New("tts: no non-cloned voice available on alternate provider")
}

func (t *TTSStage) reportFallbackLevel(level int) {
	slog.Info("tts: fallback chain resolved", "level", level)
}

func (t *TTSStage) report(kind Kind, err error) {
	if t.health == nil {
		return
	}
	select {
	case t.health <- NewError("tts", kind, err):
	default:
		slog.Warn("tts: health channel full, dropping error report")
	}
}

// voiceFromConfig builds the VoiceProfile the pipeline requests from the
// primary synthesizer. SpeedFactor has no dedicated field on VoiceProfile,
// so it travels in Metadata for providers that honor it.
func voiceFromConfig(cfg config.VoiceConfig) types.VoiceProfile {
	profile := types.VoiceProfile{
		ID:       cfg.VoiceID,
		Provider: cfg.Provider,
	}
	if cfg.SpeedFactor != 0 {
		profile.Metadata = map[string]string{
			"speed_factor": formatSpeed(cfg.SpeedFactor),
		}
	}
	return profile
}

func formatSpeed(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// silencePCM returns d of little-endian 16-bit silence at 16kHz mono.
func silencePCM(d time.Duration) []byte {
	samples := int(d.Seconds() * 16000)
	return make([]byte, samples*2)
}

// suffixDiff returns the new suffix of curr relative to prev, or corrected
// is true when curr is not a growing extension of prev — e.g. the STT
// stage revised an earlier interim after audio for it may already have
// been spoken, which must not be resent.
func suffixDiff(prev, curr string) (diff string, corrected bool) {
	if strings.HasPrefix(curr, prev) {
		return curr[len(prev):], false
	}
	return "", true
}
