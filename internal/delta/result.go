package delta

import (
	"sort"

	"github.com/signalsfoundry/warmsync/model"
)

// Layer names the part of a port a corrective action applies to.
type Layer string

const (
	LayerMAC    Layer = "mac"
	LayerSerdes Layer = "serdes"
)

// Result maps every reconciled port to its corrective actions.
type Result map[model.PortKey]PortActions

// PortPlan is one entry of an ordered plan.
type PortPlan struct {
	Port model.PortKey
	PortActions
}

// Keys returns the ports in ascending order.
func (r Result) Keys() []model.PortKey {
	keys := make([]model.PortKey, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Actions returns the plan ordered by port.
func (r Result) Actions() []PortPlan {
	out := make([]PortPlan, 0, len(r))
	for _, k := range r.Keys() {
		out = append(out, PortPlan{Port: k, PortActions: r[k]})
	}
	return out
}

// Converged reports whether no port needs a corrective action.
func (r Result) Converged() bool {
	for _, a := range r {
		if !a.IsNone() {
			return false
		}
	}
	return true
}

// Summary counts the actions of a result per layer.
type Summary struct {
	Ports     int
	Unchanged int
	MAC       map[model.CorrectiveAction]int
	Serdes    map[model.CorrectiveAction]int
}

// Summary tallies r.
func (r Result) Summary() Summary {
	s := Summary{
		Ports:  len(r),
		MAC:    make(map[model.CorrectiveAction]int),
		Serdes: make(map[model.CorrectiveAction]int),
	}
	for _, a := range r {
		s.MAC[a.MAC]++
		s.Serdes[a.Serdes]++
		if a.IsNone() {
			s.Unchanged++
		}
	}
	return s
}

// Disruptive returns how many ports need an action on at least one layer.
func (s Summary) Disruptive() int {
	return s.Ports - s.Unchanged
}
