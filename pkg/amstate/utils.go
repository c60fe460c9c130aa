package amstate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/function61/amon/pkg/amdomain"
)

// IsInMaintenance tells if the event is covered by the maintenance window. window bounds
// are exclusive: events exactly at start or end are not covered.
func IsInMaintenance(m Maintenance, event amdomain.Event) bool {
	if event.Time <= m.Start || m.End <= event.Time {
		return false
	}

	switch {
	case m.All:
		return true
	case len(m.Probes) > 0 && event.ProbeUuid != "":
		return containsString(m.Probes, event.ProbeUuid)
	case len(m.Machines) > 0 && event.Machine != "":
		return containsString(m.Machines, event.Machine)
	default:
		return false
	}
}

// returns first match
func FindMaintenanceForEvent(maintenances []Maintenance, event amdomain.Event) *Maintenance {
	for _, m := range maintenances {
		if IsInMaintenance(m, event) {
			return &m
		}
	}

	return nil
}

func FindFault(faults []Fault, faultKey string) *Fault {
	for _, fault := range faults {
		if fault.Event.FaultKey() == faultKey {
			return &fault
		}
	}

	return nil
}

const (
	AlarmStateAll    = "all"
	AlarmStateOpen   = "open"
	AlarmStateClosed = "closed"
	AlarmStateRecent = "recent" // open + closed within the last hour
)

// FilterAlarmsByState picks alarms for the list API's "state" parameter
func FilterAlarmsByState(alarms []Alarm, state string, now time.Time) ([]Alarm, error) {
	recentCutoff := now.Add(-1 * time.Hour).UnixNano() / int64(time.Millisecond)

	var include func(Alarm) bool
	switch state {
	case AlarmStateAll:
		return alarms, nil
	case AlarmStateOpen:
		include = func(a Alarm) bool { return !a.Closed }
	case AlarmStateClosed:
		include = func(a Alarm) bool { return a.Closed }
	case "", AlarmStateRecent:
		include = func(a Alarm) bool {
			return !a.Closed || (a.TimeClosed != nil && *a.TimeClosed >= recentCutoff)
		}
	default:
		return nil, validationErr(
			`"state" must be one of "%s", "%s", "%s" or "%s": %q`,
			AlarmStateRecent,
			AlarmStateOpen,
			AlarmStateClosed,
			AlarmStateAll,
			state)
	}

	filtered := []Alarm{}
	for _, alarm := range alarms {
		if include(alarm) {
			filtered = append(filtered, alarm)
		}
	}

	return filtered, nil
}

func EpochMs(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// "now" | absolute time
func ResolveStart(start string, now time.Time) (int64, error) {
	if start == "now" {
		return EpochMs(now), nil
	}

	t, ok := parseAbsoluteTime(start)
	if !ok {
		return 0, validationErr(`invalid "start": "%s"`, start)
	}

	return t, nil
}

var endPattern = regexp.MustCompile(`^([1-9]\d*)([mhd])$`)

// "N[mhd]" (relative to now) | absolute time
func ResolveEnd(end string, now time.Time) (int64, error) {
	if match := endPattern.FindStringSubmatch(end); match != nil {
		num, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, validationErr(`invalid "end": "%s"`, end)
		}

		unit := map[string]time.Duration{
			"m": time.Minute,
			"h": time.Hour,
			"d": 24 * time.Hour,
		}[match[2]]

		return EpochMs(now) + num*int64(unit/time.Millisecond), nil
	}

	t, ok := parseAbsoluteTime(end)
	if !ok {
		return 0, validationErr(`invalid "end": "%s"`, end)
	}

	return t, nil
}

var absoluteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// epoch ms or one of the supported date formats
func parseAbsoluteTime(spec string) (int64, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, false
	}

	if ms, err := strconv.ParseInt(spec, 10, 64); err == nil {
		return ms, true
	}

	for _, layout := range absoluteTimeLayouts {
		if t, err := time.Parse(layout, spec); err == nil {
			return EpochMs(t), true
		}
	}

	return 0, false
}

func validateScope(all bool, hasProbes bool, hasMachines bool) error {
	numScopes := 0
	for _, set := range []bool{all, hasProbes, hasMachines} {
		if set {
			numScopes++
		}
	}

	if numScopes != 1 {
		return fmt.Errorf(
			`only one of "all" (%v), "probes" (%v) or "machines" (%v) may be specified`,
			all,
			hasProbes,
			hasMachines)
	}

	return nil
}

func containsString(items []string, item string) bool {
	for _, candidate := range items {
		if candidate == item {
			return true
		}
	}

	return false
}
