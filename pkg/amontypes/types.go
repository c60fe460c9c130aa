// Wire types of the master's REST API, shared by the server and the client
package amontypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/amon/pkg/csvrow"
)

const (
	ErrCodeInvalidArgument  = "InvalidArgument"
	ErrCodeResourceNotFound = "ResourceNotFound"
	ErrCodeGone             = "Gone"
	ErrCodeInternal         = "InternalError"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	AlarmActionClose      = "close"
	AlarmActionReopen     = "reopen"
	AlarmActionSuppress   = "suppress"
	AlarmActionUnsuppress = "unsuppress"
)

// TimeSpec is "start"/"end" of a maintenance window. accepts a JSON number (epoch ms) or a
// string ("now", "1h", date)
type TimeSpec string

func (t *TimeSpec) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`"`)) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*t = TimeSpec(str)
		return nil
	}

	if string(data) == "null" {
		*t = ""
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("time must be a number or a string: %s", data)
	}
	if _, err := strconv.ParseInt(num.String(), 10, 64); err != nil {
		return fmt.Errorf("time must be an integer: %s", data)
	}

	*t = TimeSpec(num.String())
	return nil
}

// UuidList accepts a comma-separated string or a JSON array of strings. stored in
// comma-separated form.
type UuidList string

func (u *UuidList) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`[`)) {
		items := []string{}
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*u = UuidList(csvrow.Serialize(csvrow.WithoutEmpties(items)))
		return nil
	}

	if string(data) == "null" {
		*u = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("expecting a string or an array of strings: %s", data)
	}
	*u = UuidList(str)
	return nil
}

type CreateMaintenanceRequest struct {
	Start    TimeSpec `json:"start"`
	End      TimeSpec `json:"end"`
	Notes    string   `json:"notes,omitempty"`
	All      bool     `json:"all,omitempty"`
	Probes   UuidList `json:"probes,omitempty"`
	Machines UuidList `json:"machines,omitempty"`
}

func (c CreateMaintenanceRequest) Params(user string) amstate.MaintenanceParams {
	return amstate.MaintenanceParams{
		User:     user,
		Start:    string(c.Start),
		End:      string(c.End),
		Notes:    c.Notes,
		All:      c.All,
		Probes:   string(c.Probes),
		Machines: string(c.Machines),
	}
}
