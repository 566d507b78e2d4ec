package warminit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/warmsync/internal/delta"
	"github.com/signalsfoundry/warmsync/internal/logging"
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/model"
	"github.com/signalsfoundry/warmsync/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Window is one open reconciliation window. Provisioning calls accumulate
// into its desired snapshot until End or Abort.
type Window struct {
	id       string
	device   string
	openedAt time.Time
	orch     *Orchestrator
	store    *snapshot.Store
	log      logging.Logger

	// mu guards the lease timer and the context watch.
	mu      sync.Mutex
	lease   timectrl.Timer
	unwatch func() bool
}

// ID returns the window identifier.
func (w *Window) ID() string { return w.id }

// Device returns the device the window belongs to.
func (w *Window) Device() string { return w.device }

// OpenedAt returns when the observed snapshot was captured.
func (w *Window) OpenedAt() time.Time { return w.openedAt }

// Observed returns the hardware readback captured at lock time.
func (w *Window) Observed() snapshot.Snapshot { return w.store.Observed() }

// Desired returns a copy of the desired snapshot accumulated so far.
func (w *Window) Desired() snapshot.Snapshot { return w.store.Desired() }

// Upsert records the replayed configuration of key. A later call for the
// same key replaces the earlier one.
func (w *Window) Upsert(key model.PortKey, rec model.PortRecord) error {
	if err := w.store.Upsert(key, rec); err != nil {
		return fmt.Errorf("upsert port %d: window %s: %w", key, w.id, err)
	}
	w.renewLease()
	return nil
}

// Remove drops key from the desired snapshot.
func (w *Window) Remove(key model.PortKey) error {
	if err := w.store.Remove(key); err != nil {
		return fmt.Errorf("remove port %d: window %s: %w", key, w.id, err)
	}
	w.renewLease()
	return nil
}

// Outcome is the result of a committed window.
type Outcome struct {
	WindowID string
	Device   string
	OpenedAt time.Time
	ClosedAt time.Time
	Observed snapshot.Snapshot
	Desired  snapshot.Snapshot
	Plan     delta.Result
	Report   ApplyReport
}

// End freezes the desired snapshot, computes the corrective actions once and
// hands them to the executor. The device is idle again when End returns.
// Executor failures are reported in the outcome, not as an error.
func (w *Window) End(ctx context.Context) (*Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := w.orch

	o.mu.Lock()
	if o.window != w || o.state != StateReplaying {
		o.mu.Unlock()
		return nil, fmt.Errorf("end window %s: %w", w.id, ErrWindowClosed)
	}
	o.state = StateReconciling
	desired := w.store.Freeze()
	o.mu.Unlock()

	w.release()
	defer o.close(w)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "warminit.Reconcile",
		trace.WithAttributes(
			attribute.String("device", w.device),
			attribute.String("window_id", w.id),
			attribute.Int("desired_ports", desired.Len()),
		))
	defer span.End()

	start := time.Now()
	plan := delta.Compute(w.store.Observed(), desired)
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.ObserveCompute(elapsed, desired.Len())
		o.metrics.RecordActions(plan)
	}

	summary := plan.Summary()
	span.AddEvent("plan computed", trace.WithAttributes(
		attribute.Int("ports", summary.Ports),
		attribute.Int("disruptive", summary.Disruptive()),
	))
	w.log.Info(ctx, "corrective plan computed",
		logging.Int("ports", summary.Ports),
		logging.Int("disruptive", summary.Disruptive()),
		logging.String("compute_time", elapsed.String()),
	)

	report := dispatch(ctx, o.executor, o.applyConcurrency, planActions(w.device, desired, plan))
	if n := len(report.Failures); n > 0 {
		if o.metrics != nil {
			o.metrics.RecordApplyFailures(n)
		}
		span.RecordError(report.Err())
		for _, f := range report.Failures {
			w.log.Warn(ctx, "corrective action failed",
				logging.Port(uint32(f.Port)),
				logging.Stringer("mac_action", f.MAC),
				logging.Stringer("serdes_action", f.Serdes),
				logging.Err(f.Err),
			)
		}
	}

	o.recordWindow(OutcomeCommitted)
	w.log.Info(ctx, "reconciliation window committed",
		logging.Int("applied", report.Applied),
		logging.Int("failed", len(report.Failures)),
	)

	return &Outcome{
		WindowID: w.id,
		Device:   w.device,
		OpenedAt: w.openedAt,
		ClosedAt: o.clock.Now(),
		Observed: w.store.Observed(),
		Desired:  desired,
		Plan:     plan,
		Report:   report,
	}, nil
}

// Abort discards the desired snapshot without computing anything and
// returns the device to idle.
func (w *Window) Abort(ctx context.Context, reason string) error {
	return w.abort(ctx, OutcomeAborted, reason)
}

func (w *Window) abort(ctx context.Context, outcome, reason string) error {
	o := w.orch

	o.mu.Lock()
	if o.window != w || o.state != StateReplaying {
		o.mu.Unlock()
		return fmt.Errorf("abort window %s: %w", w.id, ErrWindowClosed)
	}
	// Sealing the store makes racing provisioning calls fail instead of
	// landing in a snapshot nobody reads.
	discarded := w.store.Freeze().Len()
	o.window = nil
	o.last = w
	o.state = StateIdle
	if o.metrics != nil {
		o.metrics.SetWindowOpen(o.device, false)
	}
	o.mu.Unlock()

	w.release()
	o.recordWindow(outcome)
	w.log.Warn(ctx, "reconciliation window discarded",
		logging.String("outcome", outcome),
		logging.String("reason", reason),
		logging.Int("discarded_ports", discarded),
	)
	return nil
}

func (w *Window) renewLease() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lease != nil && w.orch.replayTimeout > 0 {
		w.lease.Reset(w.orch.replayTimeout)
	}
}

func (w *Window) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lease != nil {
		w.lease.Stop()
		w.lease = nil
	}
	if w.unwatch != nil {
		w.unwatch()
		w.unwatch = nil
	}
}
