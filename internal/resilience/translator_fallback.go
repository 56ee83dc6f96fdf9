package resilience

import (
	"context"

	"github.com/YoSoyDavidB/voicebridge/pkg/provider/translator"
)

// TranslatorFallback implements [translator.Provider] with automatic failover
// across multiple translation backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type TranslatorFallback struct {
	group *FallbackGroup[translator.Provider]
}

// Compile-time interface assertion.
var _ translator.Provider = (*TranslatorFallback)(nil)

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend.
func NewTranslatorFallback(primary translator.Provider, primaryName string, cfg FallbackConfig) *TranslatorFallback {
	return &TranslatorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation provider as a fallback.
func (f *TranslatorFallback) AddFallback(name string, provider translator.Provider) {
	f.group.AddFallback(name, provider)
}

// Translate sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *TranslatorFallback) Translate(ctx context.Context, req translator.Request) (translator.Response, error) {
	return ExecuteWithResult(f.group, func(p translator.Provider) (translator.Response, error) {
		return p.Translate(ctx, req)
	})
}

// TranslateStream opens a streaming translation against the first healthy
// provider. Only stream setup is covered by failover; a mid-stream error is
// reported on the returned channel's terminal Delta, not retried here.
func (f *TranslatorFallback) TranslateStream(ctx context.Context, req translator.Request) (<-chan translator.Delta, error) {
	return ExecuteWithResult(f.group, func(p translator.Provider) (<-chan translator.Delta, error) {
		return p.TranslateStream(ctx, req)
	})
}
