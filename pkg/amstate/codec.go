package amstate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/csvrow"
)

// redis hashes store everything as strings. these translate between our entities and
// the hash fields.

func encodeMaintenance(m *Maintenance) map[string]interface{} {
	fields := map[string]interface{}{
		"v":     MaintenanceModelVersion,
		"user":  m.User,
		"id":    m.Id,
		"start": m.Start,
		"end":   m.End,
	}

	if m.Notes != "" {
		fields["notes"] = m.Notes
	}
	if m.All {
		fields["all"] = "true"
	}
	if len(m.Probes) > 0 {
		fields["probes"] = csvrow.Serialize(m.Probes)
	}
	if len(m.Machines) > 0 {
		fields["machines"] = csvrow.Serialize(m.Machines)
	}

	return fields
}

func decodeMaintenance(fields map[string]string) (*Maintenance, error) {
	if len(fields) == 0 {
		return nil, errors.New("no data")
	}

	user := fields["user"]
	if !amdomain.IsUuid(user) {
		return nil, fmt.Errorf(`invalid "user": %q`, user)
	}

	id, err := positiveIntField(fields, "id")
	if err != nil {
		return nil, err
	}
	start, err := positiveIntField(fields, "start")
	if err != nil {
		return nil, err
	}
	end, err := positiveIntField(fields, "end")
	if err != nil {
		return nil, err
	}

	all, err := boolField(fields, "all", false)
	if err != nil {
		return nil, err
	}

	probes, err := uuidListField(fields, "probes")
	if err != nil {
		return nil, err
	}
	machines, err := uuidListField(fields, "machines")
	if err != nil {
		return nil, err
	}

	m := &Maintenance{
		V:        MaintenanceModelVersion,
		User:     user,
		Id:       id,
		Start:    start,
		End:      end,
		Notes:    fields["notes"],
		All:      all,
		Probes:   probes,
		Machines: machines,
	}

	if err := validateScope(m.All, len(m.Probes) > 0, len(m.Machines) > 0); err != nil {
		return nil, err
	}

	return m, nil
}

// returns the fields to set and the fields to remove (nulls are not stored)
func encodeAlarm(a *Alarm) (map[string]interface{}, []string) {
	fields := map[string]interface{}{
		"v":                     AlarmModelVersion,
		"user":                  a.User,
		"id":                    a.Id,
		"monitor":               a.Monitor,
		"closed":                strconv.FormatBool(a.Closed),
		"timeOpened":            a.TimeOpened,
		"suppressNotifications": strconv.FormatBool(a.SuppressNotifications),
		"numNotifications":      a.NumNotifications,
	}
	nulls := []string{}

	optional := func(name string, value *int64) {
		if value != nil {
			fields[name] = *value
		} else {
			nulls = append(nulls, name)
		}
	}

	optional("timeClosed", a.TimeClosed)
	optional("timeLastEvent", a.TimeLastEvent)
	optional("timeExpiry", a.TimeExpiry)

	return fields, nulls
}

func decodeAlarm(fields map[string]string) (*Alarm, error) {
	if len(fields) == 0 {
		return nil, errors.New("no data")
	}

	user := fields["user"]
	if !amdomain.IsUuid(user) {
		return nil, fmt.Errorf(`invalid "user": %q`, user)
	}

	id, err := positiveIntField(fields, "id")
	if err != nil {
		return nil, err
	}

	closed, err := boolField(fields, "closed", false)
	if err != nil {
		return nil, err
	}
	suppress, err := boolField(fields, "suppressNotifications", false)
	if err != nil {
		return nil, err
	}

	timeOpened, err := optionalIntField(fields, "timeOpened")
	if err != nil {
		return nil, err
	}
	timeClosed, err := optionalIntField(fields, "timeClosed")
	if err != nil {
		return nil, err
	}
	timeLastEvent, err := optionalIntField(fields, "timeLastEvent")
	if err != nil {
		return nil, err
	}
	timeExpiry, err := optionalIntField(fields, "timeExpiry")
	if err != nil {
		return nil, err
	}
	numNotifications, err := optionalIntField(fields, "numNotifications")
	if err != nil {
		return nil, err
	}

	a := &Alarm{
		V:                     AlarmModelVersion,
		User:                  user,
		Id:                    id,
		Monitor:               fields["monitor"],
		Closed:                closed,
		TimeClosed:            timeClosed,
		TimeLastEvent:         timeLastEvent,
		TimeExpiry:            timeExpiry,
		SuppressNotifications: suppress,
		Faults:                []Fault{},
		MaintFaults:           []Fault{},
	}
	if timeOpened != nil {
		a.TimeOpened = *timeOpened
	}
	if numNotifications != nil {
		a.NumNotifications = *numNotifications
	}

	return a, nil
}

// only "true" and "false" are accepted. absence yields the default.
func boolField(fields map[string]string, name string, defaultValue bool) (bool, error) {
	value, found := fields[name]
	if !found {
		return defaultValue, nil
	}

	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf(`invalid value for "%s": %q`, name, value)
	}
}

func positiveIntField(fields map[string]string, name string) (int64, error) {
	value := fields[name]

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil || num <= 0 {
		return 0, fmt.Errorf(`invalid "%s": %q`, name, value)
	}

	return num, nil
}

func optionalIntField(fields map[string]string, name string) (*int64, error) {
	value, found := fields[name]
	if !found || value == "" {
		return nil, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf(`invalid "%s": %q`, name, value)
	}

	return &num, nil
}

func uuidListField(fields map[string]string, name string) ([]string, error) {
	value := fields[name]
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	items, err := csvrow.Parse(value)
	if err != nil {
		return nil, fmt.Errorf(`invalid "%s": %v`, name, err)
	}

	return csvrow.WithoutEmpties(items), nil
}
