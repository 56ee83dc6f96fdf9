// Package openai provides an stt.Provider backed by the OpenAI audio
// transcription API (Whisper-compatible models). Unlike Deepgram's native
// duplex streaming, the OpenAI transcription endpoint is request/response
// only, so this provider buffers a rolling window of audio and issues
// incremental transcription calls to approximate a streaming session.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/YoSoyDavidB/voicebridge/pkg/provider/stt"
)

const (
	defaultModel    = "whisper-1"
	pollInterval    = 700 * time.Millisecond
	minWindowMillis = 400
)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the default transcription model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New constructs a new OpenAI-backed STT Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider by starting a local buffering session
// that periodically re-transcribes its accumulated audio window.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{
		provider:   p,
		cfg:        cfg,
		sampleRate: sampleRate,
		partials:   make(chan stt.Transcript, 16),
		finals:     make(chan stt.Transcript, 4),
		audio:      make(chan []byte, 256),
		cancel:     cancel,
	}
	s.wg.Add(1)
	go s.run(sessCtx)
	return s, nil
}

// session accumulates raw PCM and periodically transcribes the whole window,
// emitting the window's full text as an interim Transcript whenever it
// changes and, once the audio
// channel is closed, a final Transcript for the complete window.
type session struct {
	provider   *Provider
	cfg        stt.StreamConfig
	sampleRate int

	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SendAudio implements stt.SessionHandle.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("openai: session is closed")
	}
	s.mu.Unlock()

	select {
	case s.audio <- chunk:
		return nil
	default:
		return errors.New("openai: audio backlog full")
	}
}

// Partials implements stt.SessionHandle.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords is not supported by the OpenAI transcription endpoint mid-session.
func (s *session) SetKeywords(_ []stt.KeywordBoost) error {
	return fmt.Errorf("openai: %w", errNotSupported)
}

var errNotSupported = errors.New("mid-session keyword updates are not supported")

// Close implements stt.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.audio)
	s.wg.Wait()
	return nil
}

// run drains audio into buf and periodically transcribes the current window,
// emitting interim transcripts, then a final transcript when audio closes.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer s.cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastText := ""
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				text, err := s.transcribe(ctx)
				if err == nil && text != "" {
					select {
					case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
					case <-ctx.Done():
					}
				}
				return
			}
			s.mu.Lock()
			s.buf.Write(chunk)
			s.mu.Unlock()
		case <-ticker.C:
			if s.windowMillis() < minWindowMillis {
				continue
			}
			text, err := s.transcribe(ctx)
			if err != nil || text == "" || text == lastText {
				continue
			}
			lastText = text
			select {
			case s.partials <- stt.Transcript{Text: text, IsFinal: false}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// windowMillis returns the duration of buffered audio in milliseconds.
func (s *session) windowMillis() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.buf.Len() / 2
	return samples * 1000 / maxInt(s.sampleRate, 1)
}

// transcribe snapshots the current buffer, wraps it as a WAV file, and
// issues a single transcription request.
func (s *session) transcribe(ctx context.Context) (string, error) {
	s.mu.Lock()
	pcm := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()
	if len(pcm) == 0 {
		return "", nil
	}

	wav := wrapWAV(pcm, s.sampleRate, 1)
	resp, err := s.provider.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(s.provider.model),
		File:  io.NopCloser(bytes.NewReader(wav)),
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return resp.Text, nil
}

// wrapWAV wraps raw little-endian int16 PCM in a minimal RIFF/WAVE header.
func wrapWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * 2)
	blockAlign := uint16(channels * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)
	return buf.Bytes()
}

func maxInt(a, b int) int {
	return int(math.Max(float64(a), float64(b)))
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
