// Package openai provides a translator.Provider backed by the OpenAI chat
// completion API, used as a general-purpose translation engine.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/YoSoyDavidB/voicebridge/pkg/provider/translator"
)

// defaultTemperature matches the low-but-nonzero setting that keeps
// translations literal without making them robotic and repetitive.
const defaultTemperature = 0.3

// Provider implements translator.Provider using the OpenAI chat completion
// API, prompted to act as a literal, low-latency translator.
type Provider struct {
	client       oai.Client
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	timeout      time.Duration
	temperature  float64
	maxTokens    int64
	systemPrompt string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithTemperature overrides the default sampling temperature. Values
// outside [0, 2] are the caller's responsibility; the API rejects them.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTokens caps the number of tokens the model may generate for a
// single translation. Zero (the default) leaves the API's own limit in
// effect.
func WithMaxTokens(n int64) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithSystemPrompt overrides the instruction prompt built by
// buildSystemPrompt. Leave unset to use the built-in literal-translator
// prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// New constructs a new OpenAI-backed translator Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{temperature: defaultTemperature}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{
		client:       client,
		model:        model,
		temperature:  cfg.temperature,
		maxTokens:    cfg.maxTokens,
		systemPrompt: cfg.systemPrompt,
	}, nil
}

// buildParams assembles the chat completion request shared by Translate and
// TranslateStream.
func (p *Provider) buildParams(req translator.Request) oai.ChatCompletionNewParams {
	sys := p.systemPrompt
	if sys == "" {
		sys = buildSystemPrompt(req.SourceLanguage, req.TargetLanguage)
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(sys),
			oai.UserMessage(req.Text),
		},
		Temperature: param.NewOpt(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.maxTokens)
	}
	return params
}

// Translate implements translator.Provider. It issues a single non-streaming
// chat completion with a system prompt constraining the model to emit only
// the translated text, no commentary.
func (p *Provider) Translate(ctx context.Context, req translator.Request) (translator.Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return translator.Response{}, fmt.Errorf("openai: request text must not be empty")
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return translator.Response{}, fmt.Errorf("openai: translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return translator.Response{}, fmt.Errorf("openai: empty choices in response")
	}

	return translator.Response{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
}

// TranslateStream implements translator.Provider. It issues a single
// streaming chat completion and relays each token-level delta to the
// returned channel as it arrives, closing the channel after a terminal
// Delta (Done == true).
func (p *Provider) TranslateStream(ctx context.Context, req translator.Request) (<-chan translator.Delta, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("openai: request text must not be empty")
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan translator.Delta, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case ch <- translator.Delta{Text: content}:
			case <-ctx.Done():
				return
			}
		}

		done := translator.Delta{Done: true}
		if err := stream.Err(); err != nil {
			done.Err = fmt.Errorf("openai: stream: %w", err)
		}
		select {
		case ch <- done:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// buildSystemPrompt constructs the instruction that constrains the model to
// act as a literal translator rather than a conversational assistant.
func buildSystemPrompt(source, target string) string {
	src := source
	if src == "" {
		src = "the detected source language"
	}
	return fmt.Sprintf(
		"You are a real-time speech interpreter. Translate the user's message from %s into %s. "+
			"Output only the translation, with no quotation marks, explanation, or commentary. "+
			"The input may be an incomplete sentence fragment; translate it as naturally as possible "+
			"without inventing words that were not implied by the source.",
		src, target,
	)
}

// Ensure Provider implements translator.Provider at compile time.
var _ translator.Provider = (*Provider)(nil)
