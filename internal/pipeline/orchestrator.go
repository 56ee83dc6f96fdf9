package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/YoSoyDavidB/voicebridge/internal/config"
	"github.com/YoSoyDavidB/voicebridge/internal/observe"
	"github.com/YoSoyDavidB/voicebridge/pkg/types"
	"golang.org/x/sync/errgroup"
)

const metricsPublishInterval = 30 * time.Second

// stage is the minimal shape every pipeline stage satisfies, letting the
// Orchestrator start and supervise them uniformly.
type stage interface {
	Run(ctx context.Context) error
}

// Orchestrator supervises the pipeline's stage goroutines, tracks their
// reported health, and drives the Active/Degraded/Passthrough mode machine.
// Apart from Run, its only mutation API is [Orchestrator.UpdateConfig],
// which swaps the mode-transition settings; the stages are fixed once built.
type Orchestrator struct {
	cfgMu   sync.RWMutex
	cfg     config.OrchestratorConfig
	metrics *observe.Metrics

	stages []namedStage
	health chan *Error

	mode             types.OrchestratorMode
	currentMode      atomic.Int32
	consecutiveFails int
	modeCh           chan types.OrchestratorMode
}

type namedStage struct {
	name string
	s    stage
}

// NewOrchestrator builds an Orchestrator over stages, listed in upstream
// order (Capture first, Output last). Run starts them in reverse order. On
// shutdown every stage sees the same context cancellation at once; stages
// are not stopped or drained one after another.
func NewOrchestrator(cfg config.OrchestratorConfig, metrics *observe.Metrics, health chan *Error, stages ...namedStage) *Orchestrator {
	mode := types.ModeActive
	if cfg.ForcePassthrough {
		mode = types.ModePassthrough
	}
	o := &Orchestrator{
		cfg:     cfg,
		metrics: metrics,
		stages:  stages,
		health:  health,
		mode:    mode,
		modeCh:  make(chan types.OrchestratorMode, 1),
	}
	o.currentMode.Store(int32(mode))
	return o
}

// NamedStage pairs a stage with the label used in logs, metrics, and health
// reports.
func NamedStage(name string, s stage) namedStage {
	return namedStage{name: name, s: s}
}

// ModeChanges returns a channel that receives the Orchestrator's mode
// whenever it transitions. Buffered by one; a slow reader only misses
// intermediate transitions, never the most recent mode.
func (o *Orchestrator) ModeChanges() <-chan types.OrchestratorMode {
	return o.modeCh
}

// CurrentMode returns the Orchestrator's mode as of its most recent
// transition. Safe to call concurrently with Run, including from an HTTP
// health handler on another goroutine.
func (o *Orchestrator) CurrentMode() types.OrchestratorMode {
	return types.OrchestratorMode(o.currentMode.Load())
}

// Run starts every stage in order (downstream stages first, so that a
// slower consumer is already draining before its producer starts), then
// supervises health reports and stage termination until ctx is cancelled.
// Stages are started downstream-first per the wiring contract: a stage
// must never be fed before the thing reading its output exists.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := len(o.stages) - 1; i >= 0; i-- {
		ns := o.stages[i]
		g.Go(func() error {
			err := ns.s.Run(gctx)
			if err != nil {
				slog.Warn("pipeline: stage exited with error", "stage", ns.name, "err", err)
			}
			return err
		})
	}

	startCfg := o.snapshotCfg()
	probe := time.NewTicker(recoveryInterval(startCfg))
	defer probe.Stop()

	publish := time.NewTicker(metricsInterval(startCfg))
	defer publish.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()

		case herr, ok := <-o.health:
			if !ok {
				continue
			}
			o.onHealthError(ctx, herr)

		case <-probe.C:
			o.attemptRecovery(ctx)

		case <-publish.C:
			o.publishMetrics(ctx)
		}
	}
}

// onHealthError records a stage failure. A fatal kind (an unusable provider
// response, a device failure that has already exhausted its own retry, or a
// configuration error) jumps straight to Passthrough regardless of mode,
// bypassing Degraded entirely — there is nothing to degrade into when the
// failure is not transient. A non-fatal kind (transport hiccups, input
// starvation) instead accumulates against the configured consecutive-failure
// thresholds, escalating Active to Degraded and Degraded to Passthrough one
// step at a time. The counter is cleared on every mode transition and,
// outside Active, at each recovery probe (see [Orchestrator.attemptRecovery]).
func (o *Orchestrator) onHealthError(ctx context.Context, err *Error) {
	if o.metrics != nil {
		o.metrics.RecordStageError(ctx, err.Stage, err.Kind().String())
	}

	if isFatal(err.Kind()) {
		slog.Warn("pipeline: fatal error, forcing passthrough", "stage", err.Stage, "kind", err.Kind())
		if o.mode != types.ModePassthrough {
			o.transition(ctx, types.ModePassthrough)
		}
		return
	}

	cfg := o.snapshotCfg()
	o.consecutiveFails++
	switch {
	case o.mode == types.ModeActive && o.consecutiveFails >= degradedThreshold(cfg):
		o.transition(ctx, types.ModeDegraded)
	case o.mode == types.ModeDegraded && o.consecutiveFails >= passthroughThreshold(cfg):
		o.transition(ctx, types.ModePassthrough)
	}
}

// snapshotCfg returns a copy of the Orchestrator's current config, safe to
// read concurrently with [Orchestrator.UpdateConfig] applying a hot reload.
func (o *Orchestrator) snapshotCfg() config.OrchestratorConfig {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// UpdateConfig swaps in a new set of mode-transition thresholds, applied to
// the next health event or recovery probe. Used by the config file watcher
// to apply threshold/force-passthrough changes without restarting the
// pipeline; ticker-based intervals (RecoveryProbeInterval,
// MetricsIntervalSeconds) are read once at Run startup and are not affected.
func (o *Orchestrator) UpdateConfig(cfg config.OrchestratorConfig) {
	o.cfgMu.Lock()
	o.cfg = cfg
	o.cfgMu.Unlock()
}

// isFatal reports whether kind can never be recovered from by staying in the
// current mode and waiting — a response that was unusable, a device that has
// already exhausted its own retry, or a configuration error all mean the
// stage cannot make progress, so the pipeline should fall back to
// passthrough immediately rather than count toward a threshold.
func isFatal(kind Kind) bool {
	switch kind {
	case KindSemantic, KindDevice, KindConfiguration:
		return true
	default:
		return false
	}
}

// attemptRecovery re-probes whether a Degraded or Passthrough pipeline can
// return to Active. Recovery is a single step on a quiet probe interval —
// there is no intermediate climb back through Degraded — and only happens if
// no failure arrived during the last interval.
func (o *Orchestrator) attemptRecovery(ctx context.Context) {
	if o.snapshotCfg().ForcePassthrough {
		return
	}
	if o.mode == types.ModeActive {
		return
	}
	if o.consecutiveFails > 0 {
		// A failure landed since the last probe; stay put and start the
		// next probe interval with a cleared counter.
		o.consecutiveFails = 0
		return
	}
	o.transition(ctx, types.ModeActive)
}

func (o *Orchestrator) transition(ctx context.Context, mode types.OrchestratorMode) {
	slog.Info("pipeline: mode transition", "from", o.mode, "to", mode)
	o.mode = mode
	o.currentMode.Store(int32(mode))
	o.consecutiveFails = 0
	if o.metrics != nil {
		o.metrics.RecordOrchestratorMode(ctx, int64(mode))
	}
	select {
	case o.modeCh <- mode:
	default:
		select {
		case <-o.modeCh:
		default:
		}
		select {
		case o.modeCh <- mode:
		default:
		}
	}
}

// publishMetrics emits a point-in-time snapshot. Per-stage latency fields
// are left to the stages' own OpenTelemetry instruments (recorded directly
// via [observe.Metrics] as each stage processes records); the snapshot here
// only carries the Orchestrator's own view, the operating mode.
func (o *Orchestrator) publishMetrics(ctx context.Context) {
	snapshot := types.PipelineMetrics{
		Mode:      o.mode,
		Timestamp: time.Now(),
	}
	if o.metrics != nil {
		o.metrics.RecordOrchestratorMode(ctx, int64(snapshot.Mode))
	}
	slog.Info("pipeline: metrics snapshot", "mode", snapshot.Mode)
}

func recoveryInterval(c config.OrchestratorConfig) time.Duration {
	if c.RecoveryProbeInterval <= 0 {
		return 30 * time.Second
	}
	return c.RecoveryProbeInterval
}

func degradedThreshold(c config.OrchestratorConfig) int {
	if c.DegradedAfterFailures <= 0 {
		return 3
	}
	return c.DegradedAfterFailures
}

func passthroughThreshold(c config.OrchestratorConfig) int {
	if c.PassthroughAfterFailures <= 0 {
		return 6
	}
	return c.PassthroughAfterFailures
}

func metricsInterval(c config.OrchestratorConfig) time.Duration {
	if c.MetricsIntervalSeconds <= 0 {
		return metricsPublishInterval
	}
	return time.Duration(c.MetricsIntervalSeconds) * time.Second
}
