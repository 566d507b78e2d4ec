package model

import (
	"fmt"
	"strings"
)

// CorrectiveAction is the operation needed to converge one layer of a port
// from its observed state to its desired state. Values are ordered by how
// disruptive they are to traffic.
type CorrectiveAction int

const (
	ActionNone CorrectiveAction = iota
	ActionEnable
	ActionDisable
	ActionFlap
	ActionAdd
	ActionAddThenEnable
	ActionDelete
	ActionDeleteThenAdd
	ActionDeleteThenAddThenEnable
)

var actionNames = [...]string{
	ActionNone:                    "None",
	ActionEnable:                  "Enable",
	ActionDisable:                 "Disable",
	ActionFlap:                    "Flap",
	ActionAdd:                     "Add",
	ActionAddThenEnable:           "AddThenEnable",
	ActionDelete:                  "Delete",
	ActionDeleteThenAdd:           "DeleteThenAdd",
	ActionDeleteThenAddThenEnable: "DeleteThenAddThenEnable",
}

// AllActions lists every corrective action in order of disruptiveness.
func AllActions() []CorrectiveAction {
	out := make([]CorrectiveAction, 0, len(actionNames))
	for a := range actionNames {
		out = append(out, CorrectiveAction(a))
	}
	return out
}

func (a CorrectiveAction) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return fmt.Sprintf("CorrectiveAction(%d)", int(a))
}

// Valid reports whether a is one of the declared actions.
func (a CorrectiveAction) Valid() bool {
	return a >= ActionNone && int(a) < len(actionNames)
}

// MoreDisruptiveThan reports whether a ranks above other.
func (a CorrectiveAction) MoreDisruptiveThan(other CorrectiveAction) bool {
	return a > other
}

// RecreatesPort reports whether the action destroys or creates the port
// object in hardware.
func (a CorrectiveAction) RecreatesPort() bool {
	switch a {
	case ActionAdd, ActionAddThenEnable, ActionDelete, ActionDeleteThenAdd, ActionDeleteThenAddThenEnable:
		return true
	default:
		return false
	}
}

// ParseCorrectiveAction is the inverse of String. Matching ignores case and
// the separators "_" and "-".
func ParseCorrectiveAction(raw string) (CorrectiveAction, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(raw))
	for i, name := range actionNames {
		if strings.ToLower(name) == norm {
			return CorrectiveAction(i), nil
		}
	}
	return ActionNone, fmt.Errorf("unknown corrective action %q", raw)
}

// MarshalText encodes the action by name.
func (a CorrectiveAction) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid corrective action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes an action name.
func (a *CorrectiveAction) UnmarshalText(text []byte) error {
	parsed, err := ParseCorrectiveAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
