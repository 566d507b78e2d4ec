package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/warmsync/internal/portconfig"
	"github.com/signalsfoundry/warmsync/internal/warminit"
	"github.com/signalsfoundry/warmsync/model"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest marks a request payload that could not be decoded.
var ErrInvalidRequest = errors.New("invalid request")

// BeginRequest opens a window on Device.
type BeginRequest struct {
	Device string `json:"device" yaml:"device"`
}

// WindowInfo describes a freshly opened window.
type WindowInfo struct {
	WindowID      string    `json:"window_id" yaml:"window_id"`
	Device        string    `json:"device" yaml:"device"`
	OpenedAt      time.Time `json:"opened_at" yaml:"opened_at"`
	ObservedPorts int       `json:"observed_ports" yaml:"observed_ports"`
}

// UpsertRequest replays the configuration of one port.
type UpsertRequest struct {
	WindowID string              `json:"window_id" yaml:"window_id"`
	Port     portconfig.PortSpec `json:"port" yaml:"port"`
}

// RemoveRequest withdraws a port from the replayed configuration.
type RemoveRequest struct {
	WindowID string `json:"window_id" yaml:"window_id"`
	Port     uint32 `json:"port" yaml:"port"`
}

// EndRequest closes the replay and reconciles.
type EndRequest struct {
	WindowID string `json:"window_id" yaml:"window_id"`
}

// AbortRequest discards a window.
type AbortRequest struct {
	WindowID string `json:"window_id" yaml:"window_id"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// StatusRequest asks for the state of Device.
type StatusRequest struct {
	Device string `json:"device" yaml:"device"`
}

// StatusReply is the wire form of warminit.Status.
type StatusReply struct {
	Device        string     `json:"device" yaml:"device"`
	State         string     `json:"state" yaml:"state"`
	WindowID      string     `json:"window_id,omitempty" yaml:"window_id,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty" yaml:"opened_at,omitempty"`
	ObservedPorts int        `json:"observed_ports" yaml:"observed_ports"`
	DesiredPorts  int        `json:"desired_ports" yaml:"desired_ports"`
}

// PlannedAction is one port's corrective action pair.
type PlannedAction struct {
	Port   uint32                 `json:"port" yaml:"port"`
	MAC    model.CorrectiveAction `json:"mac" yaml:"mac"`
	Serdes model.CorrectiveAction `json:"serdes" yaml:"serdes"`
}

// FailedAction is a planned action the executor rejected.
type FailedAction struct {
	PlannedAction `yaml:",inline"`
	Error         string `json:"error" yaml:"error"`
}

// EndReply summarises a committed window.
type EndReply struct {
	WindowID   string          `json:"window_id" yaml:"window_id"`
	Device     string          `json:"device" yaml:"device"`
	Ports      int             `json:"ports" yaml:"ports"`
	Disruptive int             `json:"disruptive" yaml:"disruptive"`
	Applied    int             `json:"applied" yaml:"applied"`
	Actions    []PlannedAction `json:"actions" yaml:"actions"`
	Failures   []FailedAction  `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Failed reports how many ports the executor could not converge.
func (r EndReply) Failed() int { return len(r.Failures) }

func statusReply(st warminit.Status) StatusReply {
	reply := StatusReply{
		Device:        st.Device,
		State:         st.State.String(),
		WindowID:      st.WindowID,
		ObservedPorts: st.ObservedPorts,
		DesiredPorts:  st.DesiredPorts,
	}
	if !st.OpenedAt.IsZero() {
		opened := st.OpenedAt
		reply.OpenedAt = &opened
	}
	return reply
}

func endReply(out *warminit.Outcome) EndReply {
	summary := out.Plan.Summary()
	reply := EndReply{
		WindowID:   out.WindowID,
		Device:     out.Device,
		Ports:      summary.Ports,
		Disruptive: summary.Disruptive(),
		Applied:    out.Report.Applied,
		Actions:    make([]PlannedAction, 0, len(out.Plan)),
	}
	for _, p := range out.Plan.Actions() {
		reply.Actions = append(reply.Actions, PlannedAction{Port: uint32(p.Port), MAC: p.MAC, Serdes: p.Serdes})
	}
	for _, f := range out.Report.Failures {
		reply.Failures = append(reply.Failures, FailedAction{
			PlannedAction: PlannedAction{Port: uint32(f.Port), MAC: f.MAC, Serdes: f.Serdes},
			Error:         f.Err.Error(),
		})
	}
	return reply
}

// encodeStruct renders v as a protobuf Struct via its JSON form.
func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return st, nil
}

// decodeStruct fills v from st. Unknown fields are rejected.
func decodeStruct(st *structpb.Struct, v any) error {
	if st == nil {
		st = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
