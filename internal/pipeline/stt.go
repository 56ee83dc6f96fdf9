package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

const (
	sttReconnectBase    = 500 * time.Millisecond
	sttReconnectFactor  = 2.0
	sttReconnectCap     = 30 * time.Second
	sttReconnectJitter  = 0.25
	sttMaxAttempts      = 5
	sttKeepaliveEvery   = 10 * time.Second
	sttStabilizationGap = 500 * time.Millisecond
)

// STTStage opens one streaming recognition session per Utterance, forwards
// only its final Transcript downstream (an interim whose text stays
// unchanged for sttStabilizationGap is forwarded as final in its place), and
// reconnects with exponential backoff on connection loss.
type STTStage struct {
	cfg      config.STTConfig
	provider stt.Provider

	in     <-chan types.Utterance
	out    chan types.Transcript
	health chan<- *Error
	seq    *SeqAllocator
}

// NewSTTStage wires an STTStage to consume Utterances from in.
func NewSTTStage(cfg config.STTConfig, provider stt.Provider, in <-chan types.Utterance, health chan<- *Error, seq *SeqAllocator) *STTStage {
	return &STTStage{
		cfg:      cfg,
		provider: provider,
		in:       in,
		out:      make(chan types.Transcript, 10),
		health:   health,
		seq:      seq,
	}
}

// Out returns the channel of emitted Transcripts.
func (s *STTStage) Out() <-chan types.Transcript {
	return s.out
}

// Run drives the stage until ctx is cancelled or in closes.
func (s *STTStage) Run(ctx context.Context) error {
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case utt, ok := <-s.in:
			if !ok {
				return nil
			}
			if len(utt.Frames) == 0 {
				// Boundary behavior: a zero-length Utterance never reaches STT.
				s.report(KindSemantic, errors.New("empty utterance"))
				continue
			}
			s.processUtterance(ctx, utt)
		}
	}
}

// processUtterance streams one Utterance's audio through the provider,
// reconnecting with exponential backoff up to sttMaxAttempts times before
// reporting a transport failure for this utterance.
func (s *STTStage) processUtterance(ctx context.Context, utt types.Utterance) {
	delay := sttReconnectBase
	for attempt := 1; attempt <= sttMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		session, err := s.provider.StartStream(ctx, s.streamConfig())
		if err != nil {
			slog.Warn("stt: start stream failed", "attempt", attempt, "err", err)
			if !s.sleepBackoff(ctx, &delay) {
				return
			}
			continue
		}

		if len(s.cfg.KeywordBoosts) > 0 {
			if kerr := session.SetKeywords(s.keywords()); kerr != nil {
				slog.Warn("stt: set keywords failed", "err", kerr)
			}
		}

		complete, streamErr := s.stream(ctx, session, utt)
		_ = session.Close()
		if streamErr == nil && complete {
			return
		}

		slog.Warn("stt: stream interrupted, reconnecting", "attempt", attempt, "err", streamErr)
		if !s.sleepBackoff(ctx, &delay) {
			return
		}
	}

	s.report(KindTransport, errors.New("stt: reconnect attempts exhausted"))
}

// stream sends utt's audio and forwards Partials/Finals until the provider
// reports the final transcript or its channels close early (connection
// loss). Returns complete=true only once a final Transcript was forwarded.
func (s *STTStage) stream(ctx context.Context, session stt.SessionHandle, utt types.Utterance) (complete bool, err error) {
	keepalive := time.NewTicker(sttKeepaliveEvery)
	defer keepalive.Stop()

	sendDone := make(chan error, 1)
	go func() {
		for _, frame := range utt.Frames {
			if sendErr := session.SendAudio(frame.Data); sendErr != nil {
				sendDone <- sendErr
				return
			}
		}
		sendDone <- nil
	}()

	var lastInterim stt.Transcript
	var stable <-chan time.Time

	partials := session.Partials()
	finals := session.Finals()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-keepalive.C:
			// Keepalive audio keeps the provider's idle timeout from firing
			// during long utterances; an empty payload is a no-op for the
			// recognizer but resets its read deadline.
			_ = session.SendAudio(nil)

		case sendErr := <-sendDone:
			if sendErr != nil {
				return false, sendErr
			}

		case t, ok := <-finals:
			if !ok {
				return complete, nil
			}
			if t.Text == "" {
				continue // boundary: empty text never reaches the Translator
			}
			s.forward(toTypesTranscript(t, utt, s.seq))
			return true, nil

		case <-stable:
			// An interim unchanged for sttStabilizationGap stands in for a
			// final the recognizer has not sent yet.
			lastInterim.IsFinal = true
			s.forward(toTypesTranscript(lastInterim, utt, s.seq))
			return true, nil

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if strings.TrimFunc(t.Text, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsPunct(r) }) == "" {
				continue
			}
			if t.Text != lastInterim.Text {
				lastInterim = t
				stable = time.After(sttStabilizationGap)
			}
		}
	}
}

func (s *STTStage) forward(t types.Transcript) {
	s.out <- t
}

func (s *STTStage) streamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   s.cfg.Language,
		Keywords:   s.keywords(),
	}
}

func (s *STTStage) keywords() []stt.KeywordBoost {
	boosts := make([]stt.KeywordBoost, len(s.cfg.KeywordBoosts))
	for i, kb := range s.cfg.KeywordBoosts {
		boosts[i] = stt.KeywordBoost{Keyword: kb.Keyword, Boost: kb.Boost}
	}
	return boosts
}

func (s *STTStage) sleepBackoff(ctx context.Context, delay *time.Duration) bool {
	jittered := jitter(*delay, sttReconnectJitter)
	*delay = time.Duration(float64(*delay) * sttReconnectFactor)
	if *delay > sttReconnectCap {
		*delay = sttReconnectCap
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(jittered):
		return true
	}
}

func (s *STTStage) report(kind Kind, err error) {
	if s.health == nil {
		return
	}
	select {
	case s.health <- NewError("stt", kind, err):
	default:
		slog.Warn("stt: health channel full, dropping error report")
	}
}

// jitter returns d scaled by a random factor in [1-frac, 1+frac].
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + delta))
}

// trivialDiff reports whether curr is prev with characters appended to the
// same trailing word, i.e. no new word boundary was crossed.
func trivialDiff(prev, curr string) bool {
	if prev == curr {
		return true
	}
	if !strings.HasPrefix(curr, prev) {
		return false
	}
	added := curr[len(prev):]
	return !strings.ContainsAny(added, " \t\n")
}

// toTypesTranscript converts a provider-level stt.Transcript into the
// pipeline's canonical types.Transcript, assigning a new sequence number and
// inheriting the Utterance's origin timestamp unchanged.
func toTypesTranscript(t stt.Transcript, utt types.Utterance, seq *SeqAllocator) types.Transcript {
	var words []types.WordDetail
	if len(t.Words) > 0 {
		words = make([]types.WordDetail, len(t.Words))
		for i, w := range t.Words {
			words[i] = types.WordDetail{
				Word:       w.Word,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
			}
		}
	}
	return types.Transcript{
		Seq:          seq.Next(),
		UtteranceSeq: utt.Seq,
		Origin:       utt.Origin,
		Text:         t.Text,
		IsFinal:      t.IsFinal,
		Confidence:   t.Confidence,
		Words:        words,
	}
}
