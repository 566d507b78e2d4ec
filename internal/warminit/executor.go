package warminit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/warmsync/internal/delta"
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/model"
	"golang.org/x/sync/errgroup"
)

// HardwareReader captures the ports currently programmed on a device. It is
// called once per window, at lock time, and its output is trusted as is.
type HardwareReader interface {
	ReadObserved(ctx context.Context, device string) (snapshot.Snapshot, error)
}

// HardwareReaderFunc adapts a function to HardwareReader.
type HardwareReaderFunc func(ctx context.Context, device string) (snapshot.Snapshot, error)

// ReadObserved calls f.
func (f HardwareReaderFunc) ReadObserved(ctx context.Context, device string) (snapshot.Snapshot, error) {
	return f(ctx, device)
}

// Action is the finalized corrective work for one port.
type Action struct {
	Device string
	Port   model.PortKey
	MAC    model.CorrectiveAction
	Serdes model.CorrectiveAction
	// Desired is the replayed configuration of the port, nil when the port
	// is being deleted.
	Desired *model.PortRecord
}

// Executor carries out corrective actions. Apply is called once per port
// after the plan is computed; a returned error is reported, not retried.
type Executor interface {
	Apply(ctx context.Context, action Action) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action Action) error

// Apply calls f.
func (f ExecutorFunc) Apply(ctx context.Context, action Action) error {
	return f(ctx, action)
}

// ApplyFailure records a port whose corrective action could not be applied.
type ApplyFailure struct {
	Port   model.PortKey
	MAC    model.CorrectiveAction
	Serdes model.CorrectiveAction
	Err    error
}

// ApplyReport summarises how the executor handled a plan.
type ApplyReport struct {
	Applied  int
	Failures []ApplyFailure
}

// Err joins every failure into one error, or returns nil.
func (r ApplyReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("port %d (%s/%s): %w", f.Port, f.MAC, f.Serdes, f.Err))
	}
	return errors.Join(errs...)
}

// planActions turns a computed result into executor actions in port order.
func planActions(device string, desired snapshot.Snapshot, result delta.Result) []Action {
	plan := result.Actions()
	out := make([]Action, 0, len(plan))
	for _, p := range plan {
		a := Action{Device: device, Port: p.Port, MAC: p.MAC, Serdes: p.Serdes}
		if rec, ok := desired.Get(p.Port); ok {
			a.Desired = &rec
		}
		out = append(out, a)
	}
	return out
}

// dispatch hands every action to exec, at most limit at a time. With a
// limit of one, actions are applied sequentially in port order. A failing
// port does not stop the others.
func dispatch(ctx context.Context, exec Executor, limit int, actions []Action) ApplyReport {
	var report ApplyReport
	if exec == nil {
		return report
	}
	if limit < 1 {
		limit = 1
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(limit)
	for _, a := range actions {
		g.Go(func() error {
			err := exec.Apply(ctx, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, ApplyFailure{Port: a.Port, MAC: a.MAC, Serdes: a.Serdes, Err: err})
				return nil
			}
			report.Applied++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Port < report.Failures[j].Port })
	return report
}
