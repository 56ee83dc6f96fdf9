package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/provider/translator"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

const (
	translateCadence   = 60 * time.Millisecond
	translateMinTokens = 4
	translateTimeout   = 5 * time.Second
	translateRetries   = 3
)

// TranslatorStage issues one streaming translation request per Transcript
// and forwards growing-prefix Translations downstream as token deltas
// arrive, speculatively ahead of the stream's completion.
type TranslatorStage struct {
	cfg      config.TranslatorConfig
	provider translator.Provider

	in     <-chan types.Transcript
	out    chan types.Translation
	health chan<- *Error
	seq    *SeqAllocator
}

// NewTranslatorStage wires a TranslatorStage to consume Transcripts from in.
func NewTranslatorStage(cfg config.TranslatorConfig, provider translator.Provider, in <-chan types.Transcript, health chan<- *Error, seq *SeqAllocator) *TranslatorStage {
	return &TranslatorStage{
		cfg:      cfg,
		provider: provider,
		in:       in,
		out:      make(chan types.Translation, 10),
		health:   health,
		seq:      seq,
	}
}

// Out returns the channel of emitted Translations.
func (t *TranslatorStage) Out() <-chan types.Translation {
	return t.out
}

// Run drives the stage until ctx is cancelled or in closes. Each incoming
// Transcript is translated in full before the next one is read: a Transcript
// only reaches this stage once it is final, so there is never more than one
// stream in flight.
func (t *TranslatorStage) Run(ctx context.Context) error {
	defer close(t.out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case transcript, ok := <-t.in:
			if !ok {
				return nil
			}
			if transcript.Text == "" {
				continue
			}
			t.translateStreaming(ctx, transcript)
		}
	}
}

// translateStreaming opens a single TranslateStream call for transcript and
// relays its deltas downstream as growing-prefix Translation records, at a
// cadence of every ~60ms or every 4 new tokens, whichever fires first. The
// call is bound to a hard deadline measured from the Utterance's origin
// timestamp; on expiry, whatever text has been received so far is emitted
// as the final Translation.
func (t *TranslatorStage) translateStreaming(ctx context.Context, transcript types.Transcript) {
	deadline := transcript.Origin.Add(translateTimeout)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	req := translator.Request{
		Text:           transcript.Text,
		SourceLanguage: t.cfg.SourceLanguage,
		TargetLanguage: t.cfg.TargetLanguage,
		Final:          transcript.IsFinal,
	}

	deltas, err := t.openStreamWithRetry(callCtx, req)
	if err != nil {
		t.report(KindTransport, err)
		return
	}

	var prefix strings.Builder
	var lastSend time.Time
	var lastTokenCount int

	emit := func(final bool) {
		text := prefix.String()
		if text == "" && !final {
			return
		}
		select {
		case t.out <- types.Translation{
			Seq:          t.seq.Next(),
			UtteranceSeq: transcript.UtteranceSeq,
			Origin:       transcript.Origin,
			SourceText:   transcript.Text,
			Text:         text,
			IsFinal:      final,
		}:
		case <-ctx.Done():
		}
		lastSend = time.Now()
		lastTokenCount = len(strings.Fields(text))
	}

	for {
		select {
		case <-callCtx.Done():
			// Hard timeout: whatever has been received becomes the final
			// Translation, per the stage's timeout contract.
			emit(true)
			return
		case delta, ok := <-deltas:
			if !ok {
				emit(true)
				return
			}
			prefix.WriteString(delta.Text)
			if delta.Err != nil {
				t.report(KindTransport, delta.Err)
			}
			if delta.Done {
				emit(true)
				return
			}

			tokenCount := len(strings.Fields(prefix.String()))
			due := lastSend.IsZero() ||
				time.Since(lastSend) >= translateCadence ||
				tokenCount-lastTokenCount >= translateMinTokens
			if due {
				emit(false)
			}
		}
	}
}

// openStreamWithRetry retries only stream-open failures (the provider
// rejecting or failing to start the call), up to translateRetries times
// with exponential backoff. Once a stream has started, delivery failures
// surface as a Done delta carrying Err rather than retrying here.
func (t *TranslatorStage) openStreamWithRetry(ctx context.Context, req translator.Request) (<-chan translator.Delta, error) {
	delay := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= translateRetries; attempt++ {
		deltas, err := t.provider.TranslateStream(ctx, req)
		if err == nil {
			return deltas, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Warn("translator: stream open failed, retrying", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return nil, lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
	if lastErr == nil {
		lastErr = errors.New("translator: unknown failure")
	}
	return nil, lastErr
}

func (t *TranslatorStage) report(kind Kind, err error) {
	if t.health == nil {
		return
	}
	select {
	case t.health <- NewError("translator", kind, err):
	default:
		slog.Warn("translator: health channel full, dropping error report")
	}
}
