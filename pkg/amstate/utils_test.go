package amstate

import (
	"testing"
	"time"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/gokit/assert"
)

func TestIsInMaintenance(t *testing.T) {
	const (
		machine  = "f5cb8a44-8b5d-4c88-a1e7-32b9b07b5f0e"
		machine2 = "0e4c9a6a-4f2a-4c6c-9b51-1bb0a7b0d2c3"
	)

	all := Maintenance{Start: 1000, End: 2000, All: true}
	probes := Maintenance{Start: 1000, End: 2000, Probes: []string{testProbe}}
	machines := Maintenance{Start: 1000, End: 2000, Machines: []string{machine}}

	probeEvent := func(ts int64, probe string) amdomain.Event {
		return amdomain.Event{User: testUser, ProbeUuid: probe, Time: ts}
	}
	machineEvent := func(ts int64, m string) amdomain.Event {
		return amdomain.Event{User: testUser, Machine: m, Time: ts}
	}

	tcs := []struct {
		name   string
		m      Maintenance
		event  amdomain.Event
		expect bool
	}{
		{"at start", all, probeEvent(1000, testProbe), false},
		{"just after start", all, probeEvent(1001, testProbe), true},
		{"just before end", all, probeEvent(1999, testProbe), true},
		{"at end", all, probeEvent(2000, testProbe), false},
		{"probe matches", probes, probeEvent(1500, testProbe), true},
		{"other probe", probes, probeEvent(1500, testProbe2), false},
		{"probe window, machine event", probes, machineEvent(1500, machine), false},
		{"machine matches", machines, machineEvent(1500, machine), true},
		{"other machine", machines, machineEvent(1500, machine2), false},
		{"machine window, no machine", machines, probeEvent(1500, testProbe), false},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Assert(t, IsInMaintenance(tc.m, tc.event) == tc.expect)
		})
	}
}

func TestFindMaintenanceForEvent(t *testing.T) {
	maintenances := []Maintenance{
		{Id: 1, Start: 1000, End: 2000, Probes: []string{testProbe2}},
		{Id: 2, Start: 1000, End: 2000, All: true},
		{Id: 3, Start: 1000, End: 2000, Probes: []string{testProbe}},
	}

	found := FindMaintenanceForEvent(maintenances, amdomain.Event{ProbeUuid: testProbe, Time: 1500})
	assert.Assert(t, found.Id == 2)

	assert.Assert(t, FindMaintenanceForEvent(maintenances, amdomain.Event{ProbeUuid: testProbe, Time: 2500}) == nil)
	assert.Assert(t, FindMaintenanceForEvent(nil, amdomain.Event{ProbeUuid: testProbe, Time: 1500}) == nil)
}

func TestResolveEnd(t *testing.T) {
	now := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		input  string
		expect time.Time
	}{
		{"5m", now.Add(5 * time.Minute)},
		{"2h", now.Add(2 * time.Hour)},
		{"1d", now.Add(24 * time.Hour)},
		{"2020-03-04", time.Date(2020, 3, 4, 0, 0, 0, 0, time.UTC)},
	} {
		end, err := ResolveEnd(tc.input, now)
		assert.Ok(t, err)
		assert.Assert(t, end == EpochMs(tc.expect))
	}

	for _, invalid := range []string{"05m", "1w", "-1h", "soon"} {
		_, err := ResolveEnd(invalid, now)
		assert.EqualString(t, err.Error(), `invalid "end": "`+invalid+`"`)
	}
}

func TestFilterAlarmsByState(t *testing.T) {
	now := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	recently := EpochMs(now.Add(-10 * time.Minute))
	longAgo := EpochMs(now.Add(-2 * time.Hour))

	alarms := []Alarm{
		{Id: 1},
		{Id: 2, Closed: true, TimeClosed: &recently},
		{Id: 3, Closed: true, TimeClosed: &longAgo},
	}

	ids := func(state string) []int64 {
		filtered, err := FilterAlarmsByState(alarms, state, now)
		assert.Ok(t, err)

		result := []int64{}
		for _, a := range filtered {
			result = append(result, a.Id)
		}
		return result
	}

	assert.Assert(t, len(ids("recent")) == 2)
	assert.Assert(t, len(ids("")) == 2)
	assert.Assert(t, len(ids("open")) == 1)
	assert.Assert(t, len(ids("closed")) == 2)
	assert.Assert(t, len(ids("all")) == 3)

	_, err := FilterAlarmsByState(alarms, "bogus", now)
	assert.Assert(t, IsValidationError(err))
}
