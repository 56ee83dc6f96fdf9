// Package malgo provides an [audio.Device] backed by the system's default
// capture and playback sound devices via miniaudio (through gen2brain/malgo).
package malgo

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/YoSoyDavidB/voicebridge/pkg/audio"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

const (
	sampleRate = 16000
	channels   = 1
)

// Device opens the system's default capture and playback devices at 16kHz
// mono 16-bit PCM, matching the pipeline's Capture stage format.
type Device struct {
	ctx     *malgo.AllocatedContext
	capture *malgo.Device
	output  *malgo.Device

	captureCh  chan types.AudioFrame
	playbackCh chan types.AudioFrame

	closeOnce sync.Once
	seq       uint64
	seqMu     sync.Mutex
}

// New opens the default capture and playback devices and begins streaming.
func New() (*Device, error) {
	return open("", "")
}

// NewWithDevices opens specific capture and playback devices by the opaque
// ID reported in a prior call to [Manager.ListCaptureDevices] /
// [Manager.ListPlaybackDevices]. An empty ID selects that direction's
// default device.
func NewWithDevices(captureID, playbackID string) (*Device, error) {
	return open(captureID, playbackID)
}

func open(captureID, playbackID string) (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo backend log", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	d := &Device{
		ctx:        ctx,
		captureCh:  make(chan types.AudioFrame, 64),
		playbackCh: make(chan types.AudioFrame, 64),
	}

	captureCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	captureCfg.Capture.Format = malgo.FormatS16
	captureCfg.Capture.Channels = channels
	captureCfg.SampleRate = sampleRate
	captureCfg.Alsa.NoMMap = 1
	if id := deviceIDFromString(captureID); id != nil {
		captureCfg.Capture.DeviceID = unsafe.Pointer(id)
	}

	captureDevice, err := malgo.InitDevice(ctx.Context, captureCfg, malgo.DeviceCallbacks{
		Data: d.onCaptureData,
	})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("malgo: init capture device %q: %w", captureID, err)
	}
	d.capture = captureDevice

	playbackCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playbackCfg.Playback.Format = malgo.FormatS16
	playbackCfg.Playback.Channels = channels
	playbackCfg.SampleRate = sampleRate
	if id := deviceIDFromString(playbackID); id != nil {
		playbackCfg.Playback.DeviceID = unsafe.Pointer(id)
	}

	outputDevice, err := malgo.InitDevice(ctx.Context, playbackCfg, malgo.DeviceCallbacks{
		Data: d.onPlaybackData,
	})
	if err != nil {
		d.capture.Uninit()
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("malgo: init playback device %q: %w", playbackID, err)
	}
	d.output = outputDevice

	if err := d.capture.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("malgo: start capture: %w", err)
	}
	if err := d.output.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("malgo: start playback: %w", err)
	}

	return d, nil
}

// deviceIDFromString turns an opaque device ID string, as handed back by
// ListCaptureDevices/ListPlaybackDevices, into the malgo.DeviceID malgo's
// InitDevice expects. Empty selects the default device.
func deviceIDFromString(id string) *malgo.DeviceID {
	if id == "" {
		return nil
	}
	var devID malgo.DeviceID
	copy(devID[:], id)
	return &devID
}

// Manager enumerates and opens devices visible to the malgo backend. A
// package-level value since miniaudio's device list isn't tied to any one
// opened Device.
type manager struct{}

// NewManager returns an [audio.Manager] backed by miniaudio device
// enumeration.
func NewManager() audio.Manager { return manager{} }

func (manager) ListCaptureDevices() ([]audio.DeviceInfo, error) {
	return listDevices(malgo.Capture)
}

func (manager) ListPlaybackDevices() ([]audio.DeviceInfo, error) {
	return listDevices(malgo.Playback)
}

func (manager) OpenByID(captureID, playbackID string) (audio.Device, error) {
	return NewWithDevices(captureID, playbackID)
}

func listDevices(kind malgo.DeviceType) ([]audio.DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("malgo: enumerate devices: %w", err)
	}

	out := make([]audio.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, audio.DeviceInfo{
			ID:        deviceIDToString(info.ID),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// deviceIDToString is the inverse of deviceIDFromString: it trims the
// trailing null bytes off a raw malgo.DeviceID so it round-trips through a
// plain opaque string.
func deviceIDToString(id malgo.DeviceID) string {
	return string(bytes.TrimRight(id[:], "\x00"))
}

// onCaptureData is invoked by miniaudio on its internal audio thread whenever
// a new block of captured samples is available. It must not block.
func (d *Device) onCaptureData(_, in []byte, frameCount uint32) {
	data := make([]byte, len(in))
	copy(data, in)

	d.seqMu.Lock()
	d.seq++
	seq := d.seq
	d.seqMu.Unlock()

	frame := types.AudioFrame{
		Data:       data,
		SampleRate: sampleRate,
		Channels:   channels,
		Seq:        seq,
		Timestamp:  time.Now(),
	}

	select {
	case d.captureCh <- frame:
	default:
		// Drop the oldest buffered frame rather than block the audio
		// callback thread; this mirrors the Capture stage's own
		// drop-oldest policy one layer down.
		select {
		case <-d.captureCh:
		default:
		}
		select {
		case d.captureCh <- frame:
		default:
		}
	}
}

// onPlaybackData is invoked by miniaudio whenever it needs more samples to
// render. It fills out from the playback channel, or with silence if no
// frame is currently available.
func (d *Device) onPlaybackData(out, _ []byte, frameCount uint32) {
	filled := 0
	for filled < len(out) {
		select {
		case frame, ok := <-d.playbackCh:
			if !ok {
				return
			}
			n := copy(out[filled:], frame.Data)
			filled += n
		default:
			for i := filled; i < len(out); i++ {
				out[i] = 0
			}
			return
		}
	}
}

// Capture implements audio.Device.
func (d *Device) Capture() <-chan types.AudioFrame { return d.captureCh }

// Playback implements audio.Device.
func (d *Device) Playback() chan<- types.AudioFrame { return d.playbackCh }

// Close implements audio.Device.
func (d *Device) Close() error {
	var closeErr error
	d.closeOnce.Do(func() {
		if d.capture != nil {
			d.capture.Uninit()
		}
		if d.output != nil {
			d.output.Uninit()
		}
		if d.ctx != nil {
			if err := d.ctx.Uninit(); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
			d.ctx.Free()
		}
		close(d.captureCh)
	})
	return closeErr
}

// Ensure Device implements audio.Device, and manager implements
// audio.Manager, at compile time.
var (
	_ audio.Device  = (*Device)(nil)
	_ audio.Manager = manager{}
)
