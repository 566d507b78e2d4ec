// Package portconfig reads port documents and turns them into validated
// port records. It is the only place raw provisioning input is checked; the
// delta engine trusts what it is given.
package portconfig

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/warmsync/model"
)

var ErrInvalidPort = errors.New("invalid port spec")

const (
	// DefaultMTU is applied when a spec leaves an MTU unset.
	DefaultMTU uint32 = 9100
	MinMTU     uint32 = 68
	MaxMTU     uint32 = 16383
	// MaxLanes bounds the serdes lanes a single port can bind.
	MaxLanes = 8
)

// LaneSpec is the wire form of one serdes lane.
type LaneSpec struct {
	TxInvert bool   `yaml:"tx_invert,omitempty" json:"tx_invert,omitempty"`
	RxInvert bool   `yaml:"rx_invert,omitempty" json:"rx_invert,omitempty"`
	LaneMap  uint32 `yaml:"lane_map" json:"lane_map"`
}

// PortSpec is the wire form of one port as replayed by a provisioning
// client or written in a port document.
type PortSpec struct {
	Port    uint32            `yaml:"port" json:"port"`
	Speed   string            `yaml:"speed" json:"speed"`
	FEC     string            `yaml:"fec,omitempty" json:"fec,omitempty"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
	RxMTU   uint32            `yaml:"rx_mtu,omitempty" json:"rx_mtu,omitempty"`
	TxMTU   uint32            `yaml:"tx_mtu,omitempty" json:"tx_mtu,omitempty"`
	Autoneg string            `yaml:"autoneg,omitempty" json:"autoneg,omitempty"`
	Lanes   []LaneSpec        `yaml:"lanes,omitempty" json:"lanes,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Key returns the port key the spec addresses.
func (s PortSpec) Key() model.PortKey { return model.PortKey(s.Port) }

// Record validates s and normalises it into a port record. Unset MTUs take
// DefaultMTU; the lane count is the number of lanes listed.
func (s PortSpec) Record() (model.PortRecord, error) {
	speed, err := model.ParseSpeed(s.Speed)
	if err != nil {
		return model.PortRecord{}, fmt.Errorf("%w: port %d: %v", ErrInvalidPort, s.Port, err)
	}
	fec, err := model.ParseFECType(s.FEC)
	if err != nil {
		return model.PortRecord{}, fmt.Errorf("%w: port %d: %v", ErrInvalidPort, s.Port, err)
	}
	autoneg, err := model.ParseAutonegMode(s.Autoneg)
	if err != nil {
		return model.PortRecord{}, fmt.Errorf("%w: port %d: %v", ErrInvalidPort, s.Port, err)
	}

	rx, err := normaliseMTU(s.Port, "rx_mtu", s.RxMTU)
	if err != nil {
		return model.PortRecord{}, err
	}
	tx, err := normaliseMTU(s.Port, "tx_mtu", s.TxMTU)
	if err != nil {
		return model.PortRecord{}, err
	}

	if len(s.Lanes) > MaxLanes {
		return model.PortRecord{}, fmt.Errorf("%w: port %d: %d lanes exceeds %d", ErrInvalidPort, s.Port, len(s.Lanes), MaxLanes)
	}
	lanes := make([]model.LaneConfig, 0, len(s.Lanes))
	seen := make(map[uint32]struct{}, len(s.Lanes))
	for i, l := range s.Lanes {
		if _, dup := seen[l.LaneMap]; dup {
			return model.PortRecord{}, fmt.Errorf("%w: port %d: lane[%d] reuses lane_map %d", ErrInvalidPort, s.Port, i, l.LaneMap)
		}
		seen[l.LaneMap] = struct{}{}
		lanes = append(lanes, model.LaneConfig{
			TxInversion: l.TxInvert,
			RxInversion: l.RxInvert,
			LaneMap:     l.LaneMap,
		})
	}

	var labels map[string]string
	if len(s.Labels) > 0 {
		labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			if strings.TrimSpace(k) == "" {
				return model.PortRecord{}, fmt.Errorf("%w: port %d: empty label key", ErrInvalidPort, s.Port)
			}
			labels[k] = v
		}
	}

	return model.PortRecord{
		Identity: model.PortIdentity{Speed: speed, FEC: fec},
		Admin: model.AdminConfig{
			Enabled: s.Enabled,
			RxMTU:   rx,
			TxMTU:   tx,
			Autoneg: autoneg,
		},
		Serdes: model.SerdesConfig{LaneCount: len(lanes), Lanes: lanes},
		Labels: labels,
	}, nil
}

func normaliseMTU(port uint32, field string, v uint32) (uint32, error) {
	if v == 0 {
		return DefaultMTU, nil
	}
	if v < MinMTU || v > MaxMTU {
		return 0, fmt.Errorf("%w: port %d: %s %d outside [%d, %d]", ErrInvalidPort, port, field, v, MinMTU, MaxMTU)
	}
	return v, nil
}

// FromRecord renders a record back into its wire form.
func FromRecord(key model.PortKey, rec model.PortRecord) PortSpec {
	spec := PortSpec{
		Port:    uint32(key),
		Speed:   rec.Identity.Speed.String(),
		Enabled: rec.Admin.Enabled,
		RxMTU:   rec.Admin.RxMTU,
		TxMTU:   rec.Admin.TxMTU,
	}
	if rec.Identity.FEC != model.FECNone {
		spec.FEC = rec.Identity.FEC.String()
	}
	if rec.Admin.Autoneg != model.AutonegDefault {
		spec.Autoneg = rec.Admin.Autoneg.String()
	}
	for _, l := range rec.Serdes.Lanes {
		spec.Lanes = append(spec.Lanes, LaneSpec{TxInvert: l.TxInversion, RxInvert: l.RxInversion, LaneMap: l.LaneMap})
	}
	if len(rec.Labels) > 0 {
		spec.Labels = make(map[string]string, len(rec.Labels))
		for k, v := range rec.Labels {
			spec.Labels[k] = v
		}
	}
	return spec
}

// SortSpecs orders specs by port key.
func SortSpecs(specs []PortSpec) {
	sort.Slice(specs, func(i, j int) bool { return specs[i].Port < specs[j].Port })
}
