package pipeline

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	audiomock "github.com/YoSoyDavidB/voicebridge/pkg/audio/mock"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
)

func TestCaptureStageForwardsFrames(t *testing.T) {
	t.Parallel()

	device := audiomock.NewDevice()
	health := make(chan *Error, 4)
	seq := &SeqAllocator{}
	cfg := config.CaptureConfig{SampleRate: 16000, Channels: 1, FrameMillis: 30, QueueDepth: 4}

	stage := NewCaptureStage(cfg, device, nil, health, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	device.CaptureCh <- types.AudioFrame{Data: []byte{1, 2, 3, 4}, SampleRate: 16000, Channels: 1, Timestamp: time.Now()}

	select {
	case frame := <-stage.Out():
		if frame.Seq == 0 {
			t.Fatalf("expected a non-zero sequence number")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded frame")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stage did not stop after cancel")
	}
}

func TestCaptureStageAppliesGain(t *testing.T) {
	t.Parallel()

	device := audiomock.NewDevice()
	seq := &SeqAllocator{}
	cfg := config.CaptureConfig{SampleRate: 16000, Channels: 1, FrameMillis: 30, GainMultiplier: 2.0, QueueDepth: 4}
	stage := NewCaptureStage(cfg, device, nil, nil, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	raw := make([]byte, 2)
	binary.LittleEndian.PutUint16(raw, uint16(int16(1000)))
	device.CaptureCh <- types.AudioFrame{Data: raw, SampleRate: 16000, Channels: 1, Timestamp: time.Now()}

	select {
	case frame := <-stage.Out():
		got := int16(binary.LittleEndian.Uint16(frame.Data))
		if got != 2000 {
			t.Fatalf("want gain-scaled sample 2000, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gained frame")
	}
}

func TestCaptureStageFallsBackToSilenceWhenDeviceCloses(t *testing.T) {
	t.Parallel()

	device := audiomock.NewDevice()
	health := make(chan *Error, 4)
	seq := &SeqAllocator{}
	cfg := config.CaptureConfig{SampleRate: 16000, Channels: 1, FrameMillis: 10, QueueDepth: 4}
	stage := NewCaptureStage(cfg, device, nil, health, seq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	close(device.CaptureCh)

	select {
	case frame := <-stage.Out():
		for _, b := range frame.Data {
			if b != 0 {
				t.Fatalf("expected silence passthrough frame, got non-zero byte")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for silence passthrough frame")
	}

	select {
	case err := <-health:
		if err.Kind() != KindDevice {
			t.Fatalf("want KindDevice, got %v", err.Kind())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a device health report")
	}
}
