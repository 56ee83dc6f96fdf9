package pipeline

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/pkg/audio"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

// CaptureStage pulls frames from an [audio.Device], applies the configured
// gain, and forwards them downstream. It never blocks on a slow consumer —
// the output channel drops the oldest buffered frame rather than stalling,
// since microphone input cannot be paused.
//
// On device failure the stage reopens the device once; if the reopen also
// fails it falls back to generating silence frames at the capture cadence
// so the rest of the pipeline's timing model stays intact.
type CaptureStage struct {
	cfg    config.CaptureConfig
	device audio.Device
	reopen func() (audio.Device, error)

	out    chan types.AudioFrame
	health chan<- *Error
	seq    *SeqAllocator
}

// NewCaptureStage constructs a CaptureStage reading from device. reopen is
// used to recreate the device once if the capture channel closes
// unexpectedly; pass nil to disable reopening (passthrough is entered
// immediately on failure).
func NewCaptureStage(cfg config.CaptureConfig, device audio.Device, reopen func() (audio.Device, error), health chan<- *Error, seq *SeqAllocator) *CaptureStage {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 50
	}
	return &CaptureStage{
		cfg:    cfg,
		device: device,
		reopen: reopen,
		out:    make(chan types.AudioFrame, depth),
		health: health,
		seq:    seq,
	}
}

// Out returns the channel of captured frames. Closed when the stage stops.
func (c *CaptureStage) Out() <-chan types.AudioFrame {
	return c.out
}

// Run drives the stage until ctx is cancelled or the device fails twice in a
// row (reopen exhausted), in which case it degrades to silence passthrough
// rather than returning an error — Capture must never terminate the process
// over a recoverable hardware hiccup.
func (c *CaptureStage) Run(ctx context.Context) error {
	defer close(c.out)

	frameDur := time.Duration(c.cfg.FrameMillis) * time.Millisecond
	if frameDur <= 0 {
		frameDur = 30 * time.Millisecond
	}

	capture := c.device.Capture()
	reopenedOnce := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-capture:
			if !ok {
				if !reopenedOnce && c.reopen != nil {
					reopenedOnce = true
					slog.Warn("capture device closed, attempting reopen")
					newDevice, err := c.reopen()
					if err != nil {
						c.reportDevice(err)
						return c.passthrough(ctx, frameDur)
					}
					c.device = newDevice
					capture = c.device.Capture()
					continue
				}
				c.reportDevice(nil)
				return c.passthrough(ctx, frameDur)
			}
			c.emit(applyGain(frame, c.cfg.GainMultiplier, c.seq))
		}
	}
}

// passthrough emits silence frames at the capture cadence so downstream
// stages keep receiving timed input even though the real device is gone.
func (c *CaptureStage) passthrough(ctx context.Context, frameDur time.Duration) error {
	frameBytes := int(float64(c.cfg.SampleRate) * frameDur.Seconds() * 2)
	if frameBytes <= 0 {
		frameBytes = 960 // 30ms @ 16kHz mono 16-bit
	}
	silence := make([]byte, frameBytes)

	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.emit(types.AudioFrame{
				Data:       silence,
				SampleRate: c.cfg.SampleRate,
				Channels:   c.cfg.Channels,
				Seq:        c.seq.Next(),
				Timestamp:  time.Now(),
			})
		}
	}
}

// emit sends frame to out, dropping the oldest buffered frame if full.
func (c *CaptureStage) emit(frame types.AudioFrame) {
	select {
	case c.out <- frame:
		return
	default:
	}
	select {
	case <-c.out:
	default:
	}
	select {
	case c.out <- frame:
	default:
	}
}

func (c *CaptureStage) reportDevice(err error) {
	if c.health == nil {
		return
	}
	select {
	case c.health <- NewError("capture", KindDevice, err):
	default:
		slog.Warn("capture: health channel full, dropping device error report")
	}
}

// applyGain scales 16-bit little-endian PCM samples by mult, clamping to the
// int16 range, and stamps the frame's sequence number.
func applyGain(frame types.AudioFrame, mult float64, seq *SeqAllocator) types.AudioFrame {
	frame.Seq = seq.Next()
	if mult == 0 || mult == 1.0 {
		return frame
	}
	scaled := make([]byte, len(frame.Data))
	for i := 0; i+1 < len(frame.Data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(frame.Data[i : i+2]))
		v := float64(sample) * mult
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(scaled[i:i+2], uint16(int16(v)))
	}
	frame.Data = scaled
	return frame
}
