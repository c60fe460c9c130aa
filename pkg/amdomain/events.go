// Structure of data flowing into the master from relays & agents
package amdomain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	EventTypeProbe = "probe"
)

// Event is produced by a probe (through agent -> relay -> master). Immutable once received.
type Event struct {
	Uuid      string    `json:"uuid,omitempty"`
	V         int       `json:"v,omitempty"`
	Type      string    `json:"type,omitempty"`
	User      string    `json:"user"`
	ProbeUuid string    `json:"probeUuid,omitempty"` // not all events have a probe
	Machine   string    `json:"machine,omitempty"`   // not all events have a machine
	Clear     bool      `json:"clear"`               // true => fault resolved
	Time      int64     `json:"time"`                // epoch ms
	Data      EventData `json:"data"`
}

type EventData struct {
	Message string          `json:"message"`
	Value   interface{}     `json:"value,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *Event) Validate() error {
	if !IsUuid(e.User) {
		return fmt.Errorf("invalid event: \"user\" (UUID) is required: %q", e.User)
	}
	if e.Time <= 0 {
		return errors.New("invalid event: \"time\" (epoch ms) is required")
	}
	if e.ProbeUuid != "" && !IsUuid(e.ProbeUuid) {
		return fmt.Errorf("invalid event: \"probeUuid\" is not a UUID: %q", e.ProbeUuid)
	}
	if e.Machine != "" && !IsUuid(e.Machine) {
		return fmt.Errorf("invalid event: \"machine\" is not a UUID: %q", e.Machine)
	}

	return nil
}

// subject of a fault, i.e. the thing whose state the event is about
func (e *Event) FaultKey() string {
	if e.ProbeUuid != "" {
		return e.ProbeUuid
	}

	return e.Machine
}

// IsUuid accepts only the canonical lowercase 8-4-4-4-12 form
func IsUuid(input string) bool {
	parsed, err := uuid.Parse(input)
	if err != nil {
		return false
	}

	return parsed.String() == input
}
