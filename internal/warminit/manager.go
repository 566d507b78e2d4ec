package warminit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Manager owns one Orchestrator per device, so windows on different
// devices proceed independently while each device stays serialised.
type Manager struct {
	reader   HardwareReader
	executor Executor
	opts     []Option

	mu      sync.Mutex
	devices map[string]*Orchestrator
}

// NewManager builds a manager whose orchestrators share reader, executor
// and opts.
func NewManager(reader HardwareReader, executor Executor, opts ...Option) *Manager {
	return &Manager{
		reader:   reader,
		executor: executor,
		opts:     opts,
		devices:  make(map[string]*Orchestrator),
	}
}

// Orchestrator returns the orchestrator for device, creating it on first use.
func (m *Manager) Orchestrator(device string) *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.devices[device]
	if !ok {
		o = NewOrchestrator(device, m.reader, m.executor, m.opts...)
		m.devices[device] = o
	}
	return o
}

// Begin opens a window on device.
func (m *Manager) Begin(ctx context.Context, device string) (*Window, error) {
	return m.Orchestrator(device).Begin(ctx)
}

// BeginScoped opens a window on device whose capture is bounded by ctx and
// whose lifetime is bound to scope.
func (m *Manager) BeginScoped(ctx, scope context.Context, device string) (*Window, error) {
	return m.Orchestrator(device).BeginScoped(ctx, scope)
}

// Window finds the window with the given ID. Besides open windows, the most
// recently closed window of each device is found too; calls on it fail with
// ErrWindowClosed.
func (m *Manager) Window(id string) (*Window, error) {
	m.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(m.devices))
	for _, o := range m.devices {
		orchs = append(orchs, o)
	}
	m.mu.Unlock()

	for _, o := range orchs {
		if w := o.lookup(id); w != nil {
			return w, nil
		}
	}
	return nil, fmt.Errorf("window %q: %w", id, ErrWindowNotFound)
}

// Status reports the state of device. Unknown devices are idle.
func (m *Manager) Status(device string) Status {
	m.mu.Lock()
	o, ok := m.devices[device]
	m.mu.Unlock()
	if !ok {
		return Status{Device: device, State: StateIdle}
	}
	return o.Status()
}

// Devices lists every device that has had an orchestrator, sorted.
func (m *Manager) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.devices))
	for d := range m.devices {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// AbortAll discards every open window, e.g. on shutdown.
func (m *Manager) AbortAll(ctx context.Context, reason string) int {
	aborted := 0
	for _, d := range m.Devices() {
		if w := m.Orchestrator(d).Current(); w != nil {
			if err := w.Abort(ctx, reason); err == nil {
				aborted++
			}
		}
	}
	return aborted
}
