// Package mock provides a test double for the translator.Provider interface.
//
// Use Provider in unit tests to verify that the Translator stage sends
// correct Requests and to feed controlled Responses without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/YoSoyDavidB/voicebridge/pkg/provider/translator"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Ctx context.Context
	Req translator.Request
}

// TranslateStreamCall records a single invocation of TranslateStream.
type TranslateStreamCall struct {
	Ctx context.Context
	Req translator.Request
}

// Provider is a mock implementation of translator.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned by every call to Translate, unless Err is set.
	Response translator.Response

	// Err, if non-nil, is returned as the error from Translate and as the
	// (synchronous) stream-open error from TranslateStream.
	Err error

	// Responses, if non-empty, is consumed one entry per call instead of
	// the fixed Response field; the last entry repeats once exhausted.
	Responses []translator.Response

	// StreamChunks, if non-empty, is the sequence of text fragments
	// TranslateStream emits as successive Deltas, followed by one
	// terminal Delta{Done: true}. Ignored when Err is set.
	StreamChunks []string

	// StreamErr, if non-nil, is carried on the terminal Delta instead of a
	// clean Done, simulating a mid-stream transport failure after some
	// chunks have already been delivered.
	StreamErr error

	// TranslateCalls records every invocation of Translate in order.
	TranslateCalls []TranslateCall

	// TranslateStreamCalls records every invocation of TranslateStream in order.
	TranslateStreamCalls []TranslateStreamCall
}

// Translate records the call and returns Response/Responses, Err.
func (p *Provider) Translate(ctx context.Context, req translator.Request) (translator.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return translator.Response{}, p.Err
	}
	if len(p.Responses) == 0 {
		return p.Response, nil
	}
	idx := len(p.TranslateCalls) - 1
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	return p.Responses[idx], nil
}

// TranslateStream records the call and, unless Err is set, returns a channel
// that emits one Delta per entry in StreamChunks followed by a terminal
// Delta carrying StreamErr (nil for a clean completion).
func (p *Provider) TranslateStream(ctx context.Context, req translator.Request) (<-chan translator.Delta, error) {
	p.mu.Lock()
	p.TranslateStreamCalls = append(p.TranslateStreamCalls, TranslateStreamCall{Ctx: ctx, Req: req})
	err := p.Err
	chunks := append([]string(nil), p.StreamChunks...)
	streamErr := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan translator.Delta, len(chunks)+1)
	for _, c := range chunks {
		ch <- translator.Delta{Text: c}
	}
	ch <- translator.Delta{Done: true, Err: streamErr}
	close(ch)
	return ch, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
	p.TranslateStreamCalls = nil
}

// Ensure Provider implements translator.Provider at compile time.
var _ translator.Provider = (*Provider)(nil)
