// Package warminit runs the lock, replay, unlock protocol around a warm
// init of a device and computes the corrective actions exactly once, when
// the replayed configuration is complete.
package warminit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/warmsync/internal/delta"
	"github.com/signalsfoundry/warmsync/internal/logging"
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/warmsync/internal/warminit"

// State is the position of a device in the reconciliation protocol.
type State int

const (
	StateIdle State = iota
	// StateLocked means the observed snapshot is being captured.
	StateLocked
	// StateReplaying means provisioning calls are accumulating into Desired.
	StateReplaying
	// StateReconciling means Desired is frozen and the plan is being
	// computed and applied.
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocked:
		return "locked"
	case StateReplaying:
		return "replaying"
	case StateReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Window outcomes reported to MetricsRecorder.RecordWindow.
const (
	OutcomeCommitted     = "committed"
	OutcomeAborted       = "aborted"
	OutcomeExpired       = "expired"
	OutcomeCancelled     = "cancelled"
	OutcomeCaptureFailed = "capture_failed"
)

// MetricsRecorder receives reconciliation measurements. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	SetWindowOpen(device string, open bool)
	RecordWindow(outcome string)
	ObserveCompute(d time.Duration, desiredPorts int)
	RecordActions(result delta.Result)
	RecordApplyFailures(n int)
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNoop(l) }
}

// WithClock replaces the wall clock used for window timestamps and leases.
func WithClock(c timectrl.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithReplayTimeout aborts a window when no provisioning call arrives for d.
// Zero disables the lease.
func WithReplayTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.replayTimeout = d
		}
	}
}

// WithApplyConcurrency bounds how many ports the executor works on at once.
func WithApplyConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.applyConcurrency = n
		}
	}
}

// Orchestrator serialises reconciliation windows for one device. At most
// one window is open at a time; a second Begin fails fast.
type Orchestrator struct {
	device   string
	reader   HardwareReader
	executor Executor

	clock            timectrl.Clock
	log              logging.Logger
	metrics          MetricsRecorder
	replayTimeout    time.Duration
	applyConcurrency int

	mu     sync.Mutex
	state  State
	window *Window
	// last is the most recently closed window, kept so late calls against
	// it can be told the window is closed rather than unknown.
	last *Window
}

// NewOrchestrator wires an orchestrator for device. executor may be nil, in
// which case windows compute their plan without applying it.
func NewOrchestrator(device string, reader HardwareReader, executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		device:           device,
		reader:           reader,
		executor:         executor,
		clock:            timectrl.Real(),
		log:              logging.Noop(),
		applyConcurrency: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.log = o.log.With(logging.Device(device))
	return o
}

// Device returns the device this orchestrator serialises.
func (o *Orchestrator) Device() string { return o.device }

// State returns the current protocol state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status is a point-in-time description of an orchestrator.
type Status struct {
	Device        string
	State         State
	WindowID      string
	OpenedAt      time.Time
	ObservedPorts int
	DesiredPorts  int
}

// Status reports the current state and, if a window is open, its details.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{Device: o.device, State: o.state}
	if w := o.window; w != nil {
		st.WindowID = w.id
		st.OpenedAt = w.openedAt
		st.ObservedPorts = w.store.Observed().Len()
		st.DesiredPorts = w.store.DesiredLen()
	}
	return st
}

// Current returns the open window, or nil.
func (o *Orchestrator) Current() *Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.window
}

// lookup returns the open or most recently closed window with id.
func (o *Orchestrator) lookup(id string) *Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range []*Window{o.window, o.last} {
		if w != nil && w.id == id {
			return w
		}
	}
	return nil
}

// Begin locks the device, captures the observed snapshot and opens a
// replay window. The window stays bound to ctx: if ctx is cancelled before
// End, the window is aborted and its desired snapshot discarded.
func (o *Orchestrator) Begin(ctx context.Context) (*Window, error) {
	return o.BeginScoped(ctx, ctx)
}

// BeginScoped is Begin with the capture bounded by ctx and the window bound
// to scope, so a short-lived request can open a window that outlives it.
func (o *Orchestrator) BeginScoped(ctx, scope context.Context) (*Window, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if scope == nil {
		scope = ctx
	}

	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: device %s is %s", ErrAlreadyInProgress, o.device, state)
	}
	o.state = StateLocked
	o.mu.Unlock()

	observed, err := o.capture(ctx)
	if err != nil {
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
		o.recordWindow(OutcomeCaptureFailed)
		o.log.Warn(ctx, "observed state capture failed", logging.Err(err))
		return nil, fmt.Errorf("%w: device %s: %w", ErrCaptureFailed, o.device, err)
	}

	w := &Window{
		id:       uuid.NewString(),
		device:   o.device,
		openedAt: o.clock.Now(),
		orch:     o,
		store:    snapshot.NewStore(observed),
	}
	w.log = o.log.With(logging.Window(w.id))

	o.mu.Lock()
	o.state = StateReplaying
	o.window = w
	if o.metrics != nil {
		o.metrics.SetWindowOpen(o.device, true)
	}
	o.mu.Unlock()

	w.mu.Lock()
	if o.replayTimeout > 0 {
		w.lease = o.clock.AfterFunc(o.replayTimeout, func() {
			_ = w.abort(context.Background(), OutcomeExpired, "replay lease expired")
		})
	}
	if scope.Done() != nil {
		w.unwatch = context.AfterFunc(scope, func() {
			_ = w.abort(context.Background(), OutcomeCancelled, "window context cancelled")
		})
	}
	w.mu.Unlock()

	w.log.Info(ctx, "reconciliation window opened",
		logging.Int("observed_ports", observed.Len()),
	)
	return w, nil
}

func (o *Orchestrator) capture(ctx context.Context) (snapshot.Snapshot, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "warminit.Capture",
		trace.WithAttributes(attribute.String("device", o.device)))
	defer span.End()

	if o.reader == nil {
		return snapshot.Empty(), fmt.Errorf("no hardware reader configured")
	}
	observed, err := o.reader.ReadObserved(ctx, o.device)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return snapshot.Snapshot{}, err
	}
	span.SetAttributes(attribute.Int("observed_ports", observed.Len()))
	return observed, nil
}

// close returns the orchestrator to idle once w has been reconciled.
func (o *Orchestrator) close(w *Window) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.window != w {
		return
	}
	o.window = nil
	o.last = w
	o.state = StateIdle
	if o.metrics != nil {
		o.metrics.SetWindowOpen(o.device, false)
	}
}

func (o *Orchestrator) recordWindow(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordWindow(outcome)
	}
}
