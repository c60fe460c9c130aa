package amstate

import (
	"github.com/function61/amon/pkg/amdomain"
)

const (
	MaintenanceModelVersion = 1
	AlarmModelVersion       = 1
	MaxNotesLength          = 255
)

type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"
	ScopeProbes   ScopeKind = "probes"
	ScopeMachines ScopeKind = "machines"
)

// Maintenance window. Exactly one of All, Probes or Machines is set.
type Maintenance struct {
	V        int      `json:"-"`
	User     string   `json:"user"`
	Id       int64    `json:"id"`
	Start    int64    `json:"start"` // epoch ms
	End      int64    `json:"end"`   // epoch ms
	Notes    string   `json:"notes,omitempty"`
	All      bool     `json:"all,omitempty"`
	Probes   []string `json:"probes,omitempty"`
	Machines []string `json:"machines,omitempty"`
}

func (m *Maintenance) Key() string {
	return MaintenanceKey(m.User, m.Id)
}

func (m *Maintenance) Scope() ScopeKind {
	switch {
	case m.All:
		return ScopeAll
	case len(m.Probes) > 0:
		return ScopeProbes
	default:
		return ScopeMachines
	}
}

// Input for creating a maintenance window, in un-resolved form.
type MaintenanceParams struct {
	User     string
	Start    string // "now", epoch ms or a date
	End      string // "N[mhd]" (relative to now), epoch ms or a date
	Notes    string
	All      bool
	Probes   string // comma-separated probe UUIDs
	Machines string // comma-separated machine UUIDs
}

// Alarm is an ongoing (or closed) problem for a (user, monitor) pair. Id is zero until
// first saved.
type Alarm struct {
	V                     int     `json:"-"`
	User                  string  `json:"user"`
	Id                    int64   `json:"id"`
	Monitor               string  `json:"monitor"`
	Closed                bool    `json:"closed"`
	TimeOpened            int64   `json:"timeOpened"`
	TimeClosed            *int64  `json:"timeClosed"`
	TimeLastEvent         *int64  `json:"timeLastEvent"`
	TimeExpiry            *int64  `json:"timeExpiry"` // reserved
	SuppressNotifications bool    `json:"suppressNotifications"`
	NumNotifications      int64   `json:"numNotifications"`
	Faults                []Fault `json:"faults"`
	MaintFaults           []Fault `json:"maintFaults"`
}

func (a *Alarm) Key() string {
	return AlarmKey(a.User, a.Id)
}

func (a *Alarm) HasFaults() bool {
	return len(a.Faults) > 0 || len(a.MaintFaults) > 0
}

// Fault is a probe (or machine) currently in failed state within an alarm
type Fault struct {
	Type  string         `json:"type"`
	Probe string         `json:"probe,omitempty"`
	Event amdomain.Event `json:"event"`
}

func NewFault(event amdomain.Event) Fault {
	return Fault{
		Type:  amdomain.EventTypeProbe,
		Probe: event.ProbeUuid,
		Event: event,
	}
}

// entry in the global maintenancesByEnd index
type IndexEntry struct {
	Key  string `json:"key"`
	User string `json:"user"`
	Id   int64  `json:"id"`
	End  int64  `json:"end"`
}

type AlarmFilter struct {
	Monitor string // empty = any
	Closed  *bool  // nil = any
}
