package pipeline

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/audio"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

// synthesizedSampleRate is the nominal sample rate SynthChunk PCM arrives
// at. SynthChunk carries no per-chunk rate field (the pipeline treats it as
// a pipeline-wide constant downstream of TTS), so resampling to the output
// device's native rate is always relative to this value.
const synthesizedSampleRate = 24000

const jitterBufferMillis = 50

// OutputStage renders SynthChunks to a playback device, absorbing upstream
// scheduling jitter with a small ring buffer, resampling to the device's
// native rate, and applying linear fades at subsession boundaries so
// consecutive utterances never click together.
type OutputStage struct {
	cfg         config.OutputConfig
	fadeMillis  int
	device      audio.Device
	silent      bool
	in          <-chan types.SynthChunk
	health      chan<- *Error
	seq         *SeqAllocator
	frameMillis int
}

// NewOutputStage wires an OutputStage to consume SynthChunks from in. If
// silent is true, rendered audio is computed but discarded rather than
// written to device — useful for headless testing.
func NewOutputStage(cfg config.OutputConfig, fadeMillis int, device audio.Device, silent bool, in <-chan types.SynthChunk, health chan<- *Error, seq *SeqAllocator) *OutputStage {
	if fadeMillis <= 0 {
		fadeMillis = 5
	}
	return &OutputStage{
		cfg:         cfg,
		fadeMillis:  fadeMillis,
		device:      device,
		silent:      silent,
		in:          in,
		health:      health,
		seq:         seq,
		frameMillis: 20,
	}
}

// Run drives the stage until ctx is cancelled or in closes.
func (o *OutputStage) Run(ctx context.Context) error {
	jitter := newJitterBuffer(jitterBufferMillis, o.cfg.SampleRate)

	frameDur := time.Duration(o.frameMillis) * time.Millisecond
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	var currentUtt uint64
	haveUtt := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-o.in:
			if !ok {
				return nil
			}
			pcm := resample16(chunk.PCM, synthesizedSampleRate, o.cfg.SampleRate)

			isBoundaryStart := !haveUtt || chunk.UtteranceSeq != currentUtt
			if isBoundaryStart {
				applyFade(pcm, o.fadeSamples(), true)
				currentUtt = chunk.UtteranceSeq
				haveUtt = true
			}
			if chunk.Final {
				applyFade(pcm, o.fadeSamples(), false)
				haveUtt = false
			}

			jitter.write(pcm)

		case <-ticker.C:
			frame := jitter.read(o.frameBytes())
			if o.silent || o.device == nil {
				continue
			}
			select {
			case o.device.Playback() <- types.AudioFrame{
				Data:       frame,
				SampleRate: o.cfg.SampleRate,
				Channels:   o.cfg.Channels,
				Seq:        o.seq.Next(),
				Timestamp:  time.Now(),
			}:
			default:
				o.report(errDroppedPlayback)
			}
		}
	}
}

var errDroppedPlayback = dropError("output: playback channel full, dropped frame")

type dropError string

func (e dropError) Error() string { return string(e) }

func (o *OutputStage) fadeSamples() int {
	return o.cfg.SampleRate * o.fadeMillis / 1000
}

func (o *OutputStage) frameBytes() int {
	return o.cfg.SampleRate * o.frameMillis / 1000 * 2
}

func (o *OutputStage) report(err error) {
	if o.health == nil {
		return
	}
	select {
	case o.health <- NewError("output", KindDevice, err):
	default:
		slog.Warn("output: health channel full, dropping error report")
	}
}

// jitterBuffer is a byte-backed FIFO that absorbs scheduling jitter between
// chunk arrival and the fixed-cadence playback tick. Underruns are filled
// with zero samples rather than repeating stale audio.
type jitterBuffer struct {
	buf []byte
}

func newJitterBuffer(targetMillis, sampleRate int) *jitterBuffer {
	return &jitterBuffer{buf: make([]byte, 0, sampleRate*targetMillis/1000*2)}
}

func (j *jitterBuffer) write(pcm []byte) {
	j.buf = append(j.buf, pcm...)
}

func (j *jitterBuffer) read(n int) []byte {
	out := make([]byte, n)
	avail := len(j.buf)
	if avail > n {
		avail = n
	}
	copy(out, j.buf[:avail])
	j.buf = j.buf[avail:]
	return out
}

// resample16 performs linear-interpolation resampling of little-endian
// 16-bit PCM from fromRate to toRate. A no-op when the rates already match.
func resample16(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || len(data) < 2 {
		return data
	}
	n := len(data) / 2
	src := make([]int16, n)
	for i := 0; i < n; i++ {
		src[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}

	outN := int(float64(n) * float64(toRate) / float64(fromRate))
	out := make([]byte, outN*2)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outN; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		var sample float64
		if idx+1 < n {
			sample = float64(src[idx])*(1-frac) + float64(src[idx+1])*frac
		} else if idx < n {
			sample = float64(src[idx])
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(sample)))
	}
	return out
}

// applyFade applies a linear fade over the first (fadeIn) or last
// (!fadeIn) fadeSamples samples of data. A fade never extends beyond data's
// own length, so fades never bleed across a segment boundary into a
// neighboring chunk.
func applyFade(data []byte, fadeSamples int, fadeIn bool) {
	n := len(data) / 2
	if fadeSamples > n {
		fadeSamples = n
	}
	if fadeSamples <= 0 {
		return
	}
	for i := 0; i < fadeSamples; i++ {
		var idx int
		var gain float64
		if fadeIn {
			idx = i
			gain = float64(i) / float64(fadeSamples)
		} else {
			idx = n - fadeSamples + i
			gain = 1 - float64(i)/float64(fadeSamples)
		}
		sample := int16(binary.LittleEndian.Uint16(data[idx*2 : idx*2+2]))
		scaled := float64(sample) * gain
		binary.LittleEndian.PutUint16(data[idx*2:idx*2+2], uint16(int16(scaled)))
	}
}
