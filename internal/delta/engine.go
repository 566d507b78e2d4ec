// Package delta computes the corrective actions that converge a device's
// observed port state onto the desired state replayed after a warm init.
//
// Compute is a pure function: it performs no I/O, keeps no state between
// calls and never fails. Records are taken as given; validation belongs to
// whoever builds the snapshots.
package delta

import (
	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/model"
)

// PortActions is the pair of corrective actions produced for one port.
type PortActions struct {
	MAC    model.CorrectiveAction
	Serdes model.CorrectiveAction
}

// IsNone reports whether neither layer needs a corrective action.
func (p PortActions) IsNone() bool {
	return p.MAC == model.ActionNone && p.Serdes == model.ActionNone
}

// Compute returns one PortActions for every key present in observed or
// desired. Work is linear in the number of distinct keys.
func Compute(observed, desired snapshot.Snapshot) Result {
	keys := snapshot.Union(observed, desired)
	out := make(Result, len(keys))
	for _, key := range keys {
		obs, des := snapshot.Pair(observed, desired, key)
		if actions, ok := Decide(obs, des); ok {
			out[key] = actions
		}
	}
	return out
}

// Decide computes the action pair for a single port. A nil record means the
// port is absent from that snapshot. The boolean is false only when both
// records are nil, in which case nothing is emitted for the key.
func Decide(obs, des *model.PortRecord) (PortActions, bool) {
	switch {
	case obs == nil && des == nil:
		return PortActions{}, false
	case des == nil:
		// Not re-provisioned by the replay: tear it down.
		return PortActions{MAC: model.ActionDelete, Serdes: model.ActionNone}, true
	case obs == nil:
		// No prior serdes state exists to compare against.
		return PortActions{MAC: addAction(des.Admin.Enabled), Serdes: model.ActionNone}, true
	}

	mac := macAction(obs, des)
	serdes := model.ActionNone
	if mac == model.ActionFlap || !obs.Serdes.Equal(des.Serdes) {
		serdes = model.ActionFlap
	}
	return PortActions{MAC: mac, Serdes: serdes}, true
}

// macAction applies the port-level rules in precedence order; the first
// match wins.
func macAction(obs, des *model.PortRecord) model.CorrectiveAction {
	switch {
	case obs.Identity != des.Identity:
		if des.Admin.Enabled {
			return model.ActionDeleteThenAddThenEnable
		}
		return model.ActionDeleteThenAdd
	case !obs.Admin.MTUEqual(des.Admin):
		return model.ActionFlap
	case obs.Admin.Enabled != des.Admin.Enabled:
		if des.Admin.Enabled {
			return model.ActionEnable
		}
		return model.ActionDisable
	default:
		return model.ActionNone
	}
}

func addAction(enabled bool) model.CorrectiveAction {
	if enabled {
		return model.ActionAddThenEnable
	}
	return model.ActionAdd
}
