// Package audio defines the interface for duplex audio capture/playback
// devices and provides shared PCM conversion helpers.
//
// The central abstraction is [Device]: something that can be read from (a
// stream of captured [types.AudioFrame] values) and written to (a stream of
// frames to play back). Implementations wrap a platform-specific backend
// (a real sound card via malgo, or an in-memory test double); the Capture
// and Output pipeline stages depend only on this interface.
//
// This package lives under pkg/ because a third-party device backend could
// implement [Device] without depending on anything else in this module.
package audio

import (
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

// Device is a duplex audio endpoint: one capture stream in, one playback
// stream out. A single Device instance represents one physical or virtual
// sound card opened for the lifetime of a pipeline run.
//
// Implementations must be safe for concurrent use of Capture/Playback/Close
// from different goroutines (the Capture stage reads, the Output stage
// writes, and the Orchestrator may call Close).
type Device interface {
	// Capture returns the channel of frames captured from the input device.
	// The channel is closed when the device is closed or encounters an
	// unrecoverable error.
	Capture() <-chan types.AudioFrame

	// Playback returns the channel to write frames to for output. The
	// device drains this channel and renders frames to the output
	// hardware at their native rate. Callers must not close this channel;
	// Close() handles teardown.
	Playback() chan<- types.AudioFrame

	// Close stops capture and playback and releases all device resources.
	// Safe to call more than once; subsequent calls are no-ops.
	Close() error
}

// DeviceInfo describes one available capture or playback device as reported
// by the backend. ID is opaque to callers — it is meaningful only when
// passed back into [Manager.OpenByID].
type DeviceInfo struct {
	// ID is the backend-assigned device identifier.
	ID string

	// Name is the human-readable label shown to an operator (e.g. when
	// listing devices at startup).
	Name string

	// IsDefault marks the backend's default device for this direction.
	IsDefault bool
}

// Manager enumerates and opens the capture/playback devices a backend makes
// available. Not every [Device] implementation needs one — a fixed, single-
// device backend can skip it — but any backend that can address more than
// one sound card should implement it so the pipeline can select a device by
// identifier instead of always taking the system default.
type Manager interface {
	// ListCaptureDevices returns the capture devices currently visible to
	// the backend.
	ListCaptureDevices() ([]DeviceInfo, error)

	// ListPlaybackDevices returns the playback devices currently visible to
	// the backend.
	ListPlaybackDevices() ([]DeviceInfo, error)

	// OpenByID opens a duplex Device using captureID for the input side and
	// playbackID for the output side. An empty ID selects that direction's
	// default device.
	OpenByID(captureID, playbackID string) (Device, error)
}
