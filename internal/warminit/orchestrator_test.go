package warminit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/warmsync/internal/delta"
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/model"
	"github.com/signalsfoundry/warmsync/timectrl"
)

func port(speed model.Speed, enabled bool) model.PortRecord {
	return model.PortRecord{
		Identity: model.PortIdentity{Speed: speed, FEC: model.FECRS528},
		Admin:    model.AdminConfig{Enabled: enabled, RxMTU: 9216, TxMTU: 9216},
		Serdes: model.SerdesConfig{
			LaneCount: 1,
			Lanes:     []model.LaneConfig{{LaneMap: 1}},
		},
	}
}

func staticReader(records map[model.PortKey]model.PortRecord) HardwareReader {
	snap := snapshot.New(records)
	return HardwareReaderFunc(func(context.Context, string) (snapshot.Snapshot, error) {
		return snap, nil
	})
}

type recordingExecutor struct {
	mu      sync.Mutex
	actions []Action
	fail    map[model.PortKey]error
}

func (e *recordingExecutor) Apply(_ context.Context, a Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = append(e.actions, a)
	return e.fail[a.Port]
}

func (e *recordingExecutor) calls() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Action(nil), e.actions...)
}

type fakeMetrics struct {
	mu        sync.Mutex
	open      map[string]bool
	outcomes  map[string]int
	computes  int
	actions   int
	failures  int
	lastPorts int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{open: map[string]bool{}, outcomes: map[string]int{}}
}

func (m *fakeMetrics) SetWindowOpen(device string, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[device] = open
}

func (m *fakeMetrics) RecordWindow(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *fakeMetrics) ObserveCompute(_ time.Duration, desiredPorts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computes++
	m.lastPorts = desiredPorts
}

func (m *fakeMetrics) RecordActions(result delta.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions += len(result)
}

func (m *fakeMetrics) RecordApplyFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures += n
}

func TestWindowReconcilesReplayedConfig(t *testing.T) {
	reader := staticReader(map[model.PortKey]model.PortRecord{
		1: port(model.Speed10G, true),
		2: port(model.Speed10G, true),
		3: port(model.Speed10G, true),
	})
	exec := &recordingExecutor{}
	metrics := newFakeMetrics()
	orch := NewOrchestrator("leaf-1", reader, exec, WithMetricsRecorder(metrics))

	w, err := orch.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if orch.State() != StateReplaying {
		t.Fatalf("state = %v, want replaying", orch.State())
	}
	if w.Observed().Len() != 3 {
		t.Fatalf("observed len = %d, want 3", w.Observed().Len())
	}

	// Port 1 unchanged, port 2 omitted, port 3 re-speeded, port 4 new.
	mustUpsert(t, w, 1, port(model.Speed10G, true))
	mustUpsert(t, w, 3, port(model.Speed10G, false))
	mustUpsert(t, w, 3, port(model.Speed25G, true))
	mustUpsert(t, w, 4, port(model.Speed10G, true))

	if len(exec.calls()) != 0 {
		t.Fatalf("executor called before End")
	}
	if metrics.computes != 0 {
		t.Fatalf("plan computed during replay")
	}

	out, err := w.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if orch.State() != StateIdle {
		t.Fatalf("state after End = %v, want idle", orch.State())
	}

	want := map[model.PortKey]delta.PortActions{
		1: {MAC: model.ActionNone, Serdes: model.ActionNone},
		2: {MAC: model.ActionDelete, Serdes: model.ActionNone},
		3: {MAC: model.ActionDeleteThenAddThenEnable, Serdes: model.ActionNone},
		4: {MAC: model.ActionAddThenEnable, Serdes: model.ActionNone},
	}
	for k, a := range want {
		if out.Plan[k] != a {
			t.Fatalf("plan[%d] = %+v, want %+v", k, out.Plan[k], a)
		}
	}

	calls := exec.calls()
	if len(calls) != 4 {
		t.Fatalf("executor calls = %d, want 4", len(calls))
	}
	for i, c := range calls {
		if c.Port != model.PortKey(i+1) {
			t.Fatalf("call %d for port %d; want ascending order", i, c.Port)
		}
		if c.Device != "leaf-1" {
			t.Fatalf("call device = %q", c.Device)
		}
	}
	if calls[1].Desired != nil {
		t.Fatalf("deleted port should carry no desired record")
	}
	if calls[2].Desired == nil || calls[2].Desired.Identity.Speed != model.Speed25G {
		t.Fatalf("port 3 should carry the final replayed record: %+v", calls[2].Desired)
	}

	if out.Report.Applied != 4 || len(out.Report.Failures) != 0 || out.Report.Err() != nil {
		t.Fatalf("report = %+v", out.Report)
	}
	if metrics.computes != 1 || metrics.lastPorts != 3 || metrics.actions != 4 {
		t.Fatalf("metrics = %+v", metrics)
	}
	if metrics.outcomes[OutcomeCommitted] != 1 || metrics.open["leaf-1"] {
		t.Fatalf("window metrics = %+v", metrics)
	}
}

func mustUpsert(t *testing.T, w *Window, key model.PortKey, rec model.PortRecord) {
	t.Helper()
	if err := w.Upsert(key, rec); err != nil {
		t.Fatalf("Upsert(%d): %v", key, err)
	}
}

func TestBeginFailsFastWhileWindowOpen(t *testing.T) {
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil)
	w, err := orch.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := orch.Begin(context.Background()); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("second Begin err = %v, want ErrAlreadyInProgress", err)
	}

	if _, err := w.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := orch.Begin(context.Background()); err != nil {
		t.Fatalf("Begin after End: %v", err)
	}
}

func TestBeginFailsFastDuringCapture(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	reader := HardwareReaderFunc(func(context.Context, string) (snapshot.Snapshot, error) {
		close(entered)
		<-release
		return snapshot.Empty(), nil
	})
	orch := NewOrchestrator("leaf-1", reader, nil)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Begin(context.Background())
		done <- err
	}()
	<-entered

	if orch.State() != StateLocked {
		t.Fatalf("state during capture = %v, want locked", orch.State())
	}
	if _, err := orch.Begin(context.Background()); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("Begin during capture err = %v, want ErrAlreadyInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Begin: %v", err)
	}
}

func TestConcurrentBeginOnlyOneWins(t *testing.T) {
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil)
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
		busy atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.Begin(context.Background())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyInProgress):
				busy.Add(1)
			default:
				t.Errorf("unexpected Begin error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || busy.Load() != 19 {
		t.Fatalf("wins=%d busy=%d, want 1/19", wins.Load(), busy.Load())
	}
}

func TestProvisioningAfterEndIsRejected(t *testing.T) {
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil)
	w, _ := orch.Begin(context.Background())
	if _, err := w.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}

	if err := w.Upsert(1, port(model.Speed10G, true)); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Upsert after End err = %v, want ErrWindowClosed", err)
	}
	if err := w.Remove(1); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Remove after End err = %v, want ErrWindowClosed", err)
	}
	if _, err := w.End(context.Background()); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("second End err = %v, want ErrWindowClosed", err)
	}
	if err := w.Abort(context.Background(), "late"); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Abort after End err = %v, want ErrWindowClosed", err)
	}
}

func TestStaleWindowCannotTouchNewWindow(t *testing.T) {
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil)
	old, _ := orch.Begin(context.Background())
	_ = old.Abort(context.Background(), "restart")

	fresh, err := orch.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := old.Upsert(1, port(model.Speed10G, true)); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("stale Upsert err = %v, want ErrWindowClosed", err)
	}
	if _, err := old.End(context.Background()); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("stale End err = %v, want ErrWindowClosed", err)
	}
	if fresh.Desired().Len() != 0 {
		t.Fatalf("stale window leaked into the new one")
	}
}

func TestAbortDiscardsDesired(t *testing.T) {
	exec := &recordingExecutor{}
	metrics := newFakeMetrics()
	orch := NewOrchestrator("leaf-1", staticReader(map[model.PortKey]model.PortRecord{
		1: port(model.Speed10G, true),
	}), exec, WithMetricsRecorder(metrics))

	w, _ := orch.Begin(context.Background())
	mustUpsert(t, w, 2, port(model.Speed10G, true))
	if err := w.Abort(context.Background(), "client gave up"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if orch.State() != StateIdle {
		t.Fatalf("state after Abort = %v", orch.State())
	}
	if len(exec.calls()) != 0 || metrics.computes != 0 {
		t.Fatalf("aborted window must not compute or apply")
	}
	if metrics.outcomes[OutcomeAborted] != 1 {
		t.Fatalf("outcomes = %v", metrics.outcomes)
	}

	w2, err := orch.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin after Abort: %v", err)
	}
	if w2.Desired().Len() != 0 {
		t.Fatalf("new window inherited desired state")
	}
}

func TestCancelledContextAbortsWindow(t *testing.T) {
	exec := &recordingExecutor{}
	orch := NewOrchestrator("leaf-1", staticReader(nil), exec)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := orch.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	mustUpsert(t, w, 1, port(model.Speed10G, true))
	cancel()

	waitFor(t, func() bool { return orch.State() == StateIdle })
	if err := w.Upsert(2, port(model.Speed10G, true)); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Upsert after cancel err = %v, want ErrWindowClosed", err)
	}
	if _, err := w.End(context.Background()); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("End after cancel err = %v, want ErrWindowClosed", err)
	}
	if len(exec.calls()) != 0 {
		t.Fatalf("cancelled window applied actions")
	}
}

func TestBeginScopedSeparatesCaptureFromWindow(t *testing.T) {
	type ctxKey struct{}
	var captured context.Context
	reader := HardwareReaderFunc(func(ctx context.Context, _ string) (snapshot.Snapshot, error) {
		captured = ctx
		return snapshot.Empty(), nil
	})
	orch := NewOrchestrator("leaf-1", reader, &recordingExecutor{})

	reqCtx, cancelReq := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "request"))
	scope, cancelScope := context.WithCancel(context.Background())
	defer cancelScope()

	w, err := orch.BeginScoped(reqCtx, scope)
	if err != nil {
		t.Fatalf("BeginScoped: %v", err)
	}
	if captured == nil || captured.Value(ctxKey{}) != "request" {
		t.Fatalf("capture did not run on the request context")
	}

	cancelReq()
	time.Sleep(10 * time.Millisecond)
	if orch.State() != StateReplaying {
		t.Fatalf("request cancellation closed the window: %v", orch.State())
	}
	mustUpsert(t, w, 1, port(model.Speed10G, true))

	cancelScope()
	waitFor(t, func() bool { return orch.State() == StateIdle })
	if err := w.Upsert(2, port(model.Speed10G, true)); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Upsert after scope cancel err = %v, want ErrWindowClosed", err)
	}
}

func TestBeginScopedCaptureHonoursRequestDeadline(t *testing.T) {
	reader := HardwareReaderFunc(func(ctx context.Context, _ string) (snapshot.Snapshot, error) {
		<-ctx.Done()
		return snapshot.Snapshot{}, ctx.Err()
	})
	orch := NewOrchestrator("leaf-1", reader, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := orch.BeginScoped(ctx, context.Background())
	if !errors.Is(err, ErrCaptureFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("BeginScoped err = %v, want capture failure on deadline", err)
	}
	if orch.State() != StateIdle {
		t.Fatalf("state = %v, want idle", orch.State())
	}
}

func TestReplayLeaseExpires(t *testing.T) {
	clock := timectrl.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	metrics := newFakeMetrics()
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil,
		WithClock(clock),
		WithReplayTimeout(10*time.Second),
		WithMetricsRecorder(metrics),
	)

	w, _ := orch.Begin(context.Background())
	clock.Advance(8 * time.Second)
	mustUpsert(t, w, 1, port(model.Speed10G, true)) // renews the lease
	clock.Advance(8 * time.Second)
	if orch.State() != StateReplaying {
		t.Fatalf("lease expired despite renewal")
	}

	clock.Advance(3 * time.Second)
	if orch.State() != StateIdle {
		t.Fatalf("state after lease expiry = %v, want idle", orch.State())
	}
	if metrics.outcomes[OutcomeExpired] != 1 {
		t.Fatalf("outcomes = %v", metrics.outcomes)
	}
	if err := w.Upsert(2, port(model.Speed10G, true)); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Upsert after expiry err = %v", err)
	}
}

func TestEndStopsLease(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil, WithClock(clock), WithReplayTimeout(time.Second))
	w, _ := orch.Begin(context.Background())
	if clock.Pending() != 1 {
		t.Fatalf("lease not armed")
	}
	if _, err := w.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if clock.Pending() != 0 {
		t.Fatalf("lease still pending after End")
	}
}

func TestCaptureFailureReturnsToIdle(t *testing.T) {
	boom := errors.New("asic readback timeout")
	metrics := newFakeMetrics()
	orch := NewOrchestrator("leaf-1", HardwareReaderFunc(func(context.Context, string) (snapshot.Snapshot, error) {
		return snapshot.Snapshot{}, boom
	}), nil, WithMetricsRecorder(metrics))

	_, err := orch.Begin(context.Background())
	if !errors.Is(err, ErrCaptureFailed) || !errors.Is(err, boom) {
		t.Fatalf("Begin err = %v, want ErrCaptureFailed wrapping reader error", err)
	}
	if orch.State() != StateIdle {
		t.Fatalf("state after failed capture = %v", orch.State())
	}
	if metrics.outcomes[OutcomeCaptureFailed] != 1 {
		t.Fatalf("outcomes = %v", metrics.outcomes)
	}
}

func TestApplyFailuresAreReportedNotRetried(t *testing.T) {
	exec := &recordingExecutor{fail: map[model.PortKey]error{
		2: errors.New("flap rejected"),
	}}
	metrics := newFakeMetrics()
	orch := NewOrchestrator("leaf-1", staticReader(map[model.PortKey]model.PortRecord{
		1: port(model.Speed10G, true),
		2: port(model.Speed10G, true),
	}), exec, WithMetricsRecorder(metrics))

	w, _ := orch.Begin(context.Background())
	mustUpsert(t, w, 1, port(model.Speed10G, true))
	mtu := port(model.Speed10G, true)
	mtu.Admin.RxMTU = 1500
	mustUpsert(t, w, 2, mtu)

	out, err := w.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(exec.calls()) != 2 {
		t.Fatalf("executor calls = %d, want exactly one per port", len(exec.calls()))
	}
	if out.Report.Applied != 1 || len(out.Report.Failures) != 1 {
		t.Fatalf("report = %+v", out.Report)
	}
	f := out.Report.Failures[0]
	if f.Port != 2 || f.MAC != model.ActionFlap || f.Serdes != model.ActionFlap {
		t.Fatalf("failure = %+v", f)
	}
	if out.Report.Err() == nil {
		t.Fatalf("Report.Err() = nil with failures")
	}
	if metrics.failures != 1 {
		t.Fatalf("apply failure metric = %d", metrics.failures)
	}
}

func TestApplyConcurrencyLimit(t *testing.T) {
	records := map[model.PortKey]model.PortRecord{}
	for k := model.PortKey(0); k < 32; k++ {
		records[k] = port(model.Speed10G, true)
	}

	var inFlight, peak atomic.Int32
	exec := ExecutorFunc(func(context.Context, Action) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	orch := NewOrchestrator("leaf-1", staticReader(nil), exec, WithApplyConcurrency(4))
	w, _ := orch.Begin(context.Background())
	for k, rec := range records {
		mustUpsert(t, w, k, rec)
	}
	out, err := w.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Report.Applied != 32 {
		t.Fatalf("applied = %d, want 32", out.Report.Applied)
	}
	if peak.Load() > 4 {
		t.Fatalf("peak concurrency = %d, want <= 4", peak.Load())
	}
}

func TestConcurrentProvisioningCalls(t *testing.T) {
	orch := NewOrchestrator("leaf-1", staticReader(nil), nil)
	w, _ := orch.Begin(context.Background())

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				key := model.PortKey(c*25 + i)
				if err := w.Upsert(key, port(model.Speed25G, true)); err != nil {
					t.Errorf("Upsert(%d): %v", key, err)
				}
			}
		}(c)
	}
	wg.Wait()

	out, err := w.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(out.Plan) != 200 {
		t.Fatalf("plan size = %d, want 200", len(out.Plan))
	}
	for k, a := range out.Plan {
		if a.MAC != model.ActionAddThenEnable {
			t.Fatalf("port %d action %v", k, a.MAC)
		}
	}
}

func TestStatus(t *testing.T) {
	clock := timectrl.NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	orch := NewOrchestrator("leaf-9", staticReader(map[model.PortKey]model.PortRecord{
		1: port(model.Speed10G, true),
	}), nil, WithClock(clock))

	if st := orch.Status(); st.State != StateIdle || st.WindowID != "" {
		t.Fatalf("idle status = %+v", st)
	}
	w, _ := orch.Begin(context.Background())
	mustUpsert(t, w, 1, port(model.Speed10G, true))
	mustUpsert(t, w, 2, port(model.Speed10G, true))

	st := orch.Status()
	if st.State != StateReplaying || st.WindowID != w.ID() || st.ObservedPorts != 1 || st.DesiredPorts != 2 {
		t.Fatalf("replaying status = %+v", st)
	}
	if !st.OpenedAt.Equal(clock.Now()) {
		t.Fatalf("OpenedAt = %v, want %v", st.OpenedAt, clock.Now())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:        "idle",
		StateLocked:      "locked",
		StateReplaying:   "replaying",
		StateReconciling: "reconciling",
		State(9):         "state(9)",
	} {
		if got := fmt.Sprint(s); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
