// Package observe provides application-wide observability primitives for
// VoiceBridge: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoiceBridge metrics.
const meterName = "github.com/YoSoyDavidB/voicebridge"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureLatency tracks the delay between a frame's capture timestamp
	// and its delivery to the VAD stage.
	CaptureLatency metric.Float64Histogram

	// VADLatency tracks the time a VAD session spends processing a single
	// frame, from ProcessFrame call to Event return.
	VADLatency metric.Float64Histogram

	// STTLatency tracks speech-to-text transcription latency, measured
	// from an Utterance's origin timestamp to a Transcript being received.
	STTLatency metric.Float64Histogram

	// TranslateLatency tracks translation latency, measured from an
	// Utterance's origin timestamp to a Translation being received.
	TranslateLatency metric.Float64Histogram

	// TTSLatency tracks text-to-speech synthesis latency, measured from an
	// Utterance's origin timestamp to the first SynthChunk being received.
	TTSLatency metric.Float64Histogram

	// OutputLatency tracks the delay between a SynthChunk's origin
	// timestamp and it being written to the playback device.
	OutputLatency metric.Float64Histogram

	// --- Counters ---

	// StageDrops counts frames or records dropped at a drop-oldest edge.
	// Use with attribute.String("edge", "capture_vad"|"tts_output").
	StageDrops metric.Int64Counter

	// Reconnects counts STT/Translator/TTS reconnect or retry attempts.
	// Use with attribute.String("stage", "stt"|"translator"|"tts").
	Reconnects metric.Int64Counter

	// FallbackLevel counts TTS fallback-chain level activations.
	// Use with attribute.Int("level", 1-4).
	FallbackLevel metric.Int64Counter

	// --- Error counters ---

	// StageErrors counts health-channel errors by stage and error kind.
	// Use with attributes: attribute.String("stage", ...), attribute.String("kind", ...)
	StageErrors metric.Int64Counter

	// --- Gauges ---

	// OrchestratorModeGauge tracks the Orchestrator's current mode, recorded
	// via [Metrics.RecordOrchestratorMode].
	OrchestratorModeGauge metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time (the
	// /healthz and /readyz surface). Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds), chosen to
// resolve the pipeline's sub-second per-stage budgets and the ≤800ms
// end-to-end target.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.5, 3,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureLatency, err = m.Float64Histogram("voicebridge.capture.latency",
		metric.WithDescription("Delay between frame capture and delivery to VAD."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADLatency, err = m.Float64Histogram("voicebridge.vad.latency",
		metric.WithDescription("Per-frame VAD processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTLatency, err = m.Float64Histogram("voicebridge.stt.latency",
		metric.WithDescription("Speech-to-text transcription latency from utterance origin."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateLatency, err = m.Float64Histogram("voicebridge.translate.latency",
		metric.WithDescription("Translation latency from utterance origin."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSLatency, err = m.Float64Histogram("voicebridge.tts.latency",
		metric.WithDescription("Time to first synthesized chunk from utterance origin."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OutputLatency, err = m.Float64Histogram("voicebridge.output.latency",
		metric.WithDescription("Delay between a synth chunk's origin and playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StageDrops, err = m.Int64Counter("voicebridge.stage.drops",
		metric.WithDescription("Records dropped at a drop-oldest backpressure edge, by edge."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voicebridge.stage.reconnects",
		metric.WithDescription("Reconnect or retry attempts, by stage."),
	); err != nil {
		return nil, err
	}
	if met.FallbackLevel, err = m.Int64Counter("voicebridge.tts.fallback_level",
		metric.WithDescription("TTS fallback-chain level activations."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StageErrors, err = m.Int64Counter("voicebridge.stage.errors",
		metric.WithDescription("Health-channel errors by stage and error kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.OrchestratorModeGauge, err = m.Int64Gauge("voicebridge.orchestrator.mode",
		metric.WithDescription("Current Orchestrator mode: 0=active, 1=degraded, 2=passthrough."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop is a convenience method that records a dropped record at a
// drop-oldest edge.
func (m *Metrics) RecordDrop(ctx context.Context, edge string) {
	m.StageDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("edge", edge)))
}

// RecordReconnect is a convenience method that records a reconnect or retry
// attempt for the given stage.
func (m *Metrics) RecordReconnect(ctx context.Context, stage string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordFallbackLevel is a convenience method that records activation of a
// TTS fallback-chain level (1-4, see §4.5 of the design).
func (m *Metrics) RecordFallbackLevel(ctx context.Context, level int) {
	m.FallbackLevel.Add(ctx, 1, metric.WithAttributes(attribute.Int("level", level)))
}

// RecordStageError is a convenience method that records a health-channel
// error counter increment for the given stage and error kind.
func (m *Metrics) RecordStageError(ctx context.Context, stage, kind string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", kind),
		),
	)
}

// RecordOrchestratorMode is a convenience method that sets the Orchestrator
// mode gauge to mode's ordinal value (0=active, 1=degraded, 2=passthrough).
func (m *Metrics) RecordOrchestratorMode(ctx context.Context, mode int64) {
	m.OrchestratorModeGauge.Record(ctx, mode)
}
