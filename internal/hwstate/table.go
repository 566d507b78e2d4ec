// Package hwstate is an in-memory stand-in for the port tables programmed in
// switch hardware. It answers the warm-init readback and carries out
// corrective actions so a daemon can be exercised without an ASIC.
package hwstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/warmsync/internal/logging"
	"github.com/signalsfoundry/warmsync/internal/portconfig"
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/internal/warminit"
	"github.com/signalsfoundry/warmsync/model"
)

var (
	// ErrDeviceNotFound indicates a readback for a device the table does not know.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrMissingDesired indicates an action that needs the desired record
	// arrived without one.
	ErrMissingDesired = errors.New("corrective action carries no desired record")
	// ErrPortNotProgrammed indicates an in-place action on a port that is absent.
	ErrPortNotProgrammed = errors.New("port not programmed")
)

var (
	_ warminit.HardwareReader = (*Table)(nil)
	_ warminit.Executor       = (*Table)(nil)
)

// Op is one hardware operation performed by Apply.
type Op struct {
	Device string
	Port   model.PortKey
	Layer  string
	Action model.CorrectiveAction
}

// Table holds the programmed ports of every simulated device.
type Table struct {
	// mu guards devices, faults and history.
	mu sync.RWMutex

	// devices maps a device name to its programmed ports.
	devices map[string]map[model.PortKey]model.PortRecord

	// faults are injected Apply failures keyed by device and port.
	faults map[string]map[model.PortKey]error

	// history records every operation Apply performed, in order.
	history []Op

	// strict makes ReadObserved fail for unknown devices instead of
	// reporting an empty table.
	strict bool

	log logging.Logger
}

// Option customises a Table.
type Option func(*Table)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Table) { t.log = logging.OrNoop(l) }
}

// WithStrictDevices makes readbacks of unknown devices fail.
func WithStrictDevices() Option {
	return func(t *Table) { t.strict = true }
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		devices: make(map[string]map[model.PortKey]model.PortRecord),
		faults:  make(map[string]map[model.PortKey]error),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Program replaces the ports of device with snap, as a cold boot would.
func (t *Table) Program(device string, snap snapshot.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[device] = snap.Records()
}

// LoadDocument programs the device named in doc.
func (t *Table) LoadDocument(doc portconfig.Document) error {
	if doc.Device == "" {
		return fmt.Errorf("%w: device name is required", portconfig.ErrInvalidDocument)
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return err
	}
	t.Program(doc.Device, snap)
	return nil
}

// LoadFile reads a port document and programs its device.
func (t *Table) LoadFile(path string) error {
	doc, err := portconfig.Load(path)
	if err != nil {
		return err
	}
	return t.LoadDocument(doc)
}

// Devices lists the programmed devices, sorted.
func (t *Table) Devices() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.devices))
	for d := range t.devices {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ReadObserved returns a snapshot of the ports programmed on device.
func (t *Table) ReadObserved(ctx context.Context, device string) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ports, ok := t.devices[device]
	if !ok && t.strict {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
	}
	return snapshot.New(ports), nil
}

// Document renders the ports programmed on device. It fails like
// ReadObserved for devices a strict table does not know.
func (t *Table) Document(device string) (portconfig.Document, error) {
	snap, err := t.ReadObserved(context.Background(), device)
	if err != nil {
		return portconfig.Document{}, err
	}
	return portconfig.FromSnapshot(device, snap), nil
}

// InjectFault makes the next Apply for device/port fail with err. A nil err
// clears the fault.
func (t *Table) InjectFault(device string, port model.PortKey, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.faults[device], port)
		return
	}
	if t.faults[device] == nil {
		t.faults[device] = make(map[model.PortKey]error)
	}
	t.faults[device][port] = err
}

// History returns the operations applied so far.
func (t *Table) History() []Op {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Op(nil), t.history...)
}

// Apply carries out the MAC action and then the serdes action of a.
// After a successful Apply the port matches a.Desired on every layer the
// actions touched.
func (t *Table) Apply(ctx context.Context, a warminit.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err, ok := t.faults[a.Device][a.Port]; ok {
		delete(t.faults[a.Device], a.Port)
		return fmt.Errorf("port %d: %w", a.Port, err)
	}

	ports := t.devices[a.Device]
	if ports == nil {
		ports = make(map[model.PortKey]model.PortRecord)
		t.devices[a.Device] = ports
	}

	if err := t.applyMAC(ports, a); err != nil {
		return err
	}
	if err := t.applySerdes(ports, a); err != nil {
		return err
	}
	if a.MAC != model.ActionNone || a.Serdes != model.ActionNone {
		t.log.Debug(ctx, "corrective action applied",
			logging.Device(a.Device),
			logging.Port(uint32(a.Port)),
			logging.Stringer("mac_action", a.MAC),
			logging.Stringer("serdes_action", a.Serdes),
		)
	}
	return nil
}

func (t *Table) applyMAC(ports map[model.PortKey]model.PortRecord, a warminit.Action) error {
	cur, present := ports[a.Port]
	switch a.MAC {
	case model.ActionNone:
		return nil
	case model.ActionDelete:
		delete(ports, a.Port)
	case model.ActionAdd, model.ActionAddThenEnable, model.ActionDeleteThenAdd, model.ActionDeleteThenAddThenEnable:
		if a.Desired == nil {
			return fmt.Errorf("port %d %s: %w", a.Port, a.MAC, ErrMissingDesired)
		}
		rec := a.Desired.Clone()
		// A freshly created port comes up disabled unless the action enables it.
		if a.MAC == model.ActionAdd || a.MAC == model.ActionDeleteThenAdd {
			rec.Admin.Enabled = false
		}
		ports[a.Port] = rec
	case model.ActionEnable, model.ActionDisable:
		if !present {
			return fmt.Errorf("port %d %s: %w", a.Port, a.MAC, ErrPortNotProgrammed)
		}
		cur.Admin.Enabled = a.MAC == model.ActionEnable
		ports[a.Port] = cur
	case model.ActionFlap:
		if !present {
			return fmt.Errorf("port %d %s: %w", a.Port, a.MAC, ErrPortNotProgrammed)
		}
		if a.Desired == nil {
			return fmt.Errorf("port %d %s: %w", a.Port, a.MAC, ErrMissingDesired)
		}
		cur.Admin = a.Desired.Admin
		ports[a.Port] = cur
	default:
		return fmt.Errorf("port %d: unsupported mac action %s", a.Port, a.MAC)
	}
	t.history = append(t.history, Op{Device: a.Device, Port: a.Port, Layer: "mac", Action: a.MAC})
	return nil
}

func (t *Table) applySerdes(ports map[model.PortKey]model.PortRecord, a warminit.Action) error {
	switch a.Serdes {
	case model.ActionNone:
		return nil
	case model.ActionFlap:
		cur, present := ports[a.Port]
		if !present {
			return fmt.Errorf("port %d serdes %s: %w", a.Port, a.Serdes, ErrPortNotProgrammed)
		}
		if a.Desired == nil {
			return fmt.Errorf("port %d serdes %s: %w", a.Port, a.Serdes, ErrMissingDesired)
		}
		cur.Serdes = a.Desired.Serdes.Clone()
		ports[a.Port] = cur
	default:
		return fmt.Errorf("port %d: unsupported serdes action %s", a.Port, a.Serdes)
	}
	t.history = append(t.history, Op{Device: a.Device, Port: a.Port, Layer: "serdes", Action: a.Serdes})
	return nil
}
