// Package mock provides an in-memory [audio.Device] test double.
//
// Tests construct a Device with CaptureCh pre-populated (or fed from a
// producer goroutine) and a buffered PlaybackCh they can drain to assert on
// what the Output stage wrote.
package mock

import (
	"sync"

	"github.com/YoSoyDavidB/voicebridge/pkg/audio"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// CaptureCh is returned by Capture(). Tests own this channel: send
	// frames to it and close it to simulate device shutdown.
	CaptureCh chan types.AudioFrame

	// PlaybackCh is returned by Playback(). Tests should drain this
	// channel to observe frames written by the Output stage.
	PlaybackCh chan types.AudioFrame

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewDevice constructs a Device with sensibly-buffered channels.
func NewDevice() *Device {
	return &Device{
		CaptureCh:  make(chan types.AudioFrame, 64),
		PlaybackCh: make(chan types.AudioFrame, 64),
	}
}

// Capture implements audio.Device.
func (d *Device) Capture() <-chan types.AudioFrame { return d.CaptureCh }

// Playback implements audio.Device.
func (d *Device) Playback() chan<- types.AudioFrame { return d.PlaybackCh }

// Close implements audio.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)
