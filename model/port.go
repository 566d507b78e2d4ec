package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PortKey identifies a physical port on a device. Keys are stable across
// control-plane restarts and are never recycled within one reconciliation.
type PortKey uint32

func (k PortKey) String() string {
	return strconv.FormatUint(uint64(k), 10)
}

// Speed is the negotiated port speed in Mb/s.
type Speed uint32

const (
	SpeedUnknown Speed = 0
	Speed1G      Speed = 1000
	Speed10G     Speed = 10000
	Speed25G     Speed = 25000
	Speed40G     Speed = 40000
	Speed50G     Speed = 50000
	Speed100G    Speed = 100000
	Speed200G    Speed = 200000
	Speed400G    Speed = 400000
)

func (s Speed) String() string {
	switch {
	case s == SpeedUnknown:
		return "unknown"
	case s%1000 == 0:
		return strconv.FormatUint(uint64(s/1000), 10) + "G"
	default:
		return strconv.FormatUint(uint64(s), 10) + "M"
	}
}

// ParseSpeed accepts "25G", "25g", "100M" or a bare Mb/s value.
func ParseSpeed(raw string) (Speed, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return SpeedUnknown, fmt.Errorf("empty speed")
	}
	mult := uint64(1)
	switch {
	case strings.HasSuffix(v, "G"):
		mult = 1000
		v = strings.TrimSuffix(v, "G")
	case strings.HasSuffix(v, "M"):
		v = strings.TrimSuffix(v, "M")
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return SpeedUnknown, fmt.Errorf("invalid speed %q", raw)
	}
	// n fits 32 bits, so the product cannot overflow uint64.
	if n*mult > math.MaxUint32 {
		return SpeedUnknown, fmt.Errorf("speed %q out of range", raw)
	}
	return Speed(n * mult), nil
}

// FECType is the forward error correction mode negotiated on a port.
type FECType int

const (
	FECNone FECType = iota
	FECFireCode
	FECRS528
	FECRS544
)

var fecNames = map[FECType]string{
	FECNone:     "none",
	FECFireCode: "fc",
	FECRS528:    "rs528",
	FECRS544:    "rs544",
}

func (f FECType) String() string {
	if name, ok := fecNames[f]; ok {
		return name
	}
	return fmt.Sprintf("fec(%d)", int(f))
}

// ParseFECType maps a FEC name onto FECType. An empty string means FECNone.
func ParseFECType(raw string) (FECType, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return FECNone, nil
	}
	for fec, name := range fecNames {
		if name == v {
			return fec, nil
		}
	}
	switch v {
	case "firecode", "base-r":
		return FECFireCode, nil
	case "rs":
		return FECRS528, nil
	}
	return FECNone, fmt.Errorf("unknown fec type %q", raw)
}

// AutonegMode is the auto-negotiation setting requested for a port.
type AutonegMode int

const (
	AutonegDefault AutonegMode = iota
	AutonegOff
	AutonegOn
)

func (m AutonegMode) String() string {
	switch m {
	case AutonegDefault:
		return "default"
	case AutonegOff:
		return "off"
	case AutonegOn:
		return "on"
	default:
		return fmt.Sprintf("autoneg(%d)", int(m))
	}
}

// ParseAutonegMode maps "default", "on" or "off" onto AutonegMode.
func ParseAutonegMode(raw string) (AutonegMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return AutonegDefault, nil
	case "off", "disabled", "false":
		return AutonegOff, nil
	case "on", "enabled", "true":
		return AutonegOn, nil
	default:
		return AutonegDefault, fmt.Errorf("unknown autoneg mode %q", raw)
	}
}

// PortIdentity is what the device physically negotiates. It cannot be
// changed in place: a different identity means the port object has to be
// recreated in hardware.
type PortIdentity struct {
	Speed Speed
	FEC   FECType
}

// AdminConfig holds the administrative settings of a port.
type AdminConfig struct {
	Enabled bool
	RxMTU   uint32
	TxMTU   uint32
	Autoneg AutonegMode
}

// MTUEqual reports whether both receive and transmit MTUs match.
func (a AdminConfig) MTUEqual(other AdminConfig) bool {
	return a.RxMTU == other.RxMTU && a.TxMTU == other.TxMTU
}

// LaneConfig is the calibration of a single serdes lane.
type LaneConfig struct {
	TxInversion bool
	RxInversion bool
	LaneMap     uint32
}

// SerdesConfig holds the physical-layer calibration of the lanes attached
// to a port.
type SerdesConfig struct {
	LaneCount int
	Lanes     []LaneConfig
}

// Equal compares lane count and every per-lane parameter. A nil and an
// empty lane list are equal.
func (s SerdesConfig) Equal(other SerdesConfig) bool {
	if s.LaneCount != other.LaneCount || len(s.Lanes) != len(other.Lanes) {
		return false
	}
	for i := range s.Lanes {
		if s.Lanes[i] != other.Lanes[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no memory with s.
func (s SerdesConfig) Clone() SerdesConfig {
	out := SerdesConfig{LaneCount: s.LaneCount}
	if len(s.Lanes) > 0 {
		out.Lanes = append([]LaneConfig(nil), s.Lanes...)
	}
	return out
}

// PortRecord is the full configuration of one provisioned port.
//
// Labels carry administrative annotations (descriptions, owner tags). They
// travel with the record but take no part in reconciliation.
type PortRecord struct {
	Identity PortIdentity
	Admin    AdminConfig
	Serdes   SerdesConfig
	Labels   map[string]string
}

// Equal compares every reconciled attribute; Labels are ignored.
func (r PortRecord) Equal(other PortRecord) bool {
	return r.Identity == other.Identity &&
		r.Admin == other.Admin &&
		r.Serdes.Equal(other.Serdes)
}

// Clone returns a deep copy of r.
func (r PortRecord) Clone() PortRecord {
	out := PortRecord{
		Identity: r.Identity,
		Admin:    r.Admin,
		Serdes:   r.Serdes.Clone(),
	}
	if len(r.Labels) > 0 {
		out.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			out.Labels[k] = v
		}
	}
	return out
}
