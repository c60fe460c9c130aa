// Turns probe events into alarms, correlates them with maintenance windows and decides
// who gets notified
package amengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/function61/amon/pkg/amdirectory"
	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/ammetrics"
	"github.com/function61/amon/pkg/amnotify"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/logex"
)

type Engine struct {
	store      *amstate.Store
	directory  amdirectory.Directory
	notifier   amnotify.Notifier
	datacenter string
	logl       *logex.Leveled

	monitorLocksMu sync.Mutex
	monitorLocks   map[string]*monitorLock
}

type monitorLock struct {
	mu   sync.Mutex
	refs int // guarded by Engine.monitorLocksMu
}

func New(
	store *amstate.Store,
	directory amdirectory.Directory,
	notifier amnotify.Notifier,
	datacenter string,
	logger *log.Logger,
) *Engine {
	return &Engine{
		store:        store,
		directory:    directory,
		notifier:     notifier,
		datacenter:   datacenter,
		logl:         logex.Levels(logger),
		monitorLocks: map[string]*monitorLock{},
	}
}

type HandleEventOptions struct {
	User    amdomain.User
	Event   amdomain.Event
	Monitor amdomain.Monitor
}

// ProcessEvents processes each event even if some fail. errors are joined.
func (e *Engine) ProcessEvents(ctx context.Context, events []amdomain.Event) error {
	errs := []error{}
	for _, event := range events {
		if err := e.ProcessEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ProcessEvent resolves the event's probe (and group) to a monitor, finds the open alarm
// for it (opening a new one if needed) and handles the event on that alarm
func (e *Engine) ProcessEvent(ctx context.Context, event amdomain.Event) error {
	if err := event.Validate(); err != nil {
		e.countEvent(ammetrics.ResultError)
		return amstate.NewValidationError("%s", err.Error())
	}

	if event.ProbeUuid == "" {
		e.countEvent(ammetrics.ResultError)
		return amstate.NewValidationError(`invalid event: "probeUuid" is required`)
	}

	user, probe, group, err := e.resolve(ctx, event)
	if err != nil {
		e.countEvent(ammetrics.ResultError)
		return err
	}

	monitor := amdomain.MonitorFor(*probe, group)

	// find-or-create must not interleave for the same monitor, or we'd open duplicate alarms
	unlock := e.lockMonitor(user.Uuid + ":" + monitor.Key)
	defer unlock()

	alarm, err := e.openAlarmFor(ctx, user.Uuid, monitor.Key)
	if err != nil {
		e.countEvent(ammetrics.ResultError)
		return err
	}

	if alarm == nil {
		if event.Clear {
			e.logl.Debug.Printf("dropping clear event for %s: no open alarm for monitor %s", probe.Uuid, monitor.Key)
			e.countEvent(ammetrics.ResultDropped)
			return nil
		}

		alarm, err = amstate.NewAlarm(user.Uuid, monitor.Key, amstate.EpochMs(e.store.Now()))
		if err != nil {
			e.countEvent(ammetrics.ResultError)
			return err
		}
	}

	if err := e.HandleEvent(ctx, alarm, HandleEventOptions{
		User:    *user,
		Event:   event,
		Monitor: monitor,
	}); err != nil {
		e.countEvent(ammetrics.ResultError)
		return err
	}

	if event.Clear {
		e.countEvent(ammetrics.ResultClear)
	} else {
		e.countEvent(ammetrics.ResultFault)
	}

	return nil
}

// HandleEvent updates alarm's state with the event and notifies, unless the event is
// covered by a maintenance window or notifications are suppressed. notification
// failures are only logged. persistence errors are returned.
func (e *Engine) HandleEvent(ctx context.Context, alarm *amstate.Alarm, opts HandleEventOptions) error {
	event := opts.Event

	if alarm.User != event.User || opts.User.Uuid != event.User {
		return amstate.NewValidationError(
			"event user %s does not match alarm user %s",
			event.User,
			alarm.User)
	}

	alarm.TimeLastEvent = &event.Time

	inMaintenance := false
	maintenances, err := e.store.ListMaintenances(ctx, event.User)
	if err != nil {
		// treated as not in maintenance
		e.logl.Error.Printf("HandleEvent: listing maintenances: %v", err)
	} else if m := amstate.FindMaintenanceForEvent(maintenances, event); m != nil {
		e.logl.Debug.Printf("event for %s is in maintenance %s", event.FaultKey(), m.Key())
		inMaintenance = true
	}

	var persistErr error
	if alarm.Id == 0 {
		if err := e.store.SaveAlarm(ctx, alarm); err != nil {
			return err // no id => nowhere to record faults
		}

		ammetrics.AlarmsOpenedTotal.Inc()
		e.logl.Info.Printf("opened alarm %s for monitor %s", alarm.Key(), alarm.Monitor)
	} else {
		persistErr = e.store.SetAlarmLastEvent(ctx, alarm, event.Time)
	}

	if event.Clear {
		if err := e.store.RemoveFault(ctx, alarm, event.FaultKey()); err != nil && persistErr == nil {
			persistErr = err
		}

		if !alarm.HasFaults() {
			e.logl.Info.Printf("closing alarm %s: all faults cleared", alarm.Key())

			if err := e.store.CloseAlarm(ctx, alarm, event.Time); err != nil && persistErr == nil {
				persistErr = err
			}
		}
	} else {
		if err := e.store.PutFault(ctx, alarm, amstate.NewFault(event), inMaintenance); err != nil && persistErr == nil {
			persistErr = err
		}
	}

	switch {
	case inMaintenance:
		ammetrics.MaintenanceSuppressedTotal.Inc()
	case alarm.SuppressNotifications:
		e.logl.Debug.Printf("alarm %s: notifications suppressed", alarm.Key())
	default:
		e.Notify(ctx, alarm, opts.User, event, opts.Monitor)
	}

	if persistErr != nil {
		return fmt.Errorf("HandleEvent %s: %w", alarm.Key(), persistErr)
	}

	return nil
}

// Notify sends to each of the monitor's contacts. contacts whose address can't be
// resolved are skipped. returns count of successful notifications.
func (e *Engine) Notify(
	ctx context.Context,
	alarm *amstate.Alarm,
	user amdomain.User,
	event amdomain.Event,
	monitor amdomain.Monitor,
) int {
	sent := 0

	for _, urn := range monitor.Contacts {
		contact, err := amdomain.ResolveContact(urn, user)
		if err != nil {
			e.logl.Error.Printf("alarm %s: %v", alarm.Key(), err)
			continue
		}

		if contact.Address == "" {
			e.logl.Info.Printf(
				"alarm %s: skipping contact %q: user %s has no %q field",
				alarm.Key(),
				urn,
				user.Login,
				contact.Medium)
			ammetrics.NotificationsTotal.WithLabelValues(contact.Medium, ammetrics.ResultSkipped).Inc()
			continue
		}

		if err := e.notifier.Notify(ctx, amnotify.Notification{
			Alarm:      *alarm,
			User:       user,
			Event:      event,
			Monitor:    monitor,
			Contact:    *contact,
			Datacenter: e.datacenter,
		}); err != nil {
			e.logl.Error.Printf("alarm %s: notify %q: %v", alarm.Key(), urn, err)
			continue
		}

		sent++
	}

	if sent > 0 {
		if err := e.store.IncrAlarmNotifications(ctx, alarm); err != nil {
			e.logl.Error.Printf("alarm %s: IncrAlarmNotifications: %v", alarm.Key(), err)
		}
	}

	return sent
}

// HandleMaintenanceEnd runs after a window was removed. faults that no remaining window
// covers are moved back to regular faults and the alarm notifies once about them.
func (e *Engine) HandleMaintenanceEnd(ctx context.Context, ended *amstate.Maintenance) error {
	closed := false
	openAlarms, err := e.store.FilterAlarms(ctx, ended.User, amstate.AlarmFilter{Closed: &closed})
	if err != nil {
		return err
	}

	remaining, err := e.store.ListMaintenances(ctx, ended.User)
	if err != nil {
		return err
	}

	user, err := e.directory.User(ctx, ended.User)
	if err != nil {
		return err
	}

	for _, alarm := range openAlarms {
		if len(alarm.MaintFaults) == 0 {
			continue
		}

		if err := e.endMaintenanceForAlarm(ctx, ended, alarm.Id, alarm.Monitor, remaining, user); err != nil {
			return err
		}
	}

	return nil
}

// runs under the monitor's lock, so events for the same monitor don't interleave with
// the move. the alarm is re-read after taking the lock.
func (e *Engine) endMaintenanceForAlarm(
	ctx context.Context,
	ended *amstate.Maintenance,
	alarmId int64,
	monitorKey string,
	remaining []amstate.Maintenance,
	user *amdomain.User,
) error {
	unlock := e.lockMonitor(ended.User + ":" + monitorKey)
	defer unlock()

	alarm, err := e.store.GetAlarm(ctx, ended.User, alarmId)
	if err != nil {
		return err
	}
	if alarm == nil || alarm.Closed {
		return nil
	}

	now := amstate.EpochMs(e.store.Now())

	var lastMoved *amstate.Fault
	for _, fault := range append([]amstate.Fault{}, alarm.MaintFaults...) {
		probe := fault.Event
		probe.Time = now
		if amstate.FindMaintenanceForEvent(remaining, probe) != nil {
			continue // still covered by another window
		}

		if err := e.store.PutFault(ctx, alarm, fault, false); err != nil {
			return err
		}

		fault := fault
		lastMoved = &fault
	}

	if lastMoved == nil {
		return nil
	}

	e.logl.Info.Printf("alarm %s: maintenance %s ended with faults outstanding", alarm.Key(), ended.Key())

	if user == nil {
		e.logl.Error.Printf("alarm %s: user %s not found; not notifying", alarm.Key(), ended.User)
		return nil
	}

	if alarm.SuppressNotifications {
		return nil
	}

	monitor, err := e.monitorFor(ctx, *user, alarm.Monitor)
	if err != nil {
		return err
	}

	e.Notify(ctx, alarm, *user, lastMoved.Event, monitor)

	return nil
}

// newest open alarm for the monitor, or nil
func (e *Engine) openAlarmFor(ctx context.Context, user string, monitorKey string) (*amstate.Alarm, error) {
	closed := false
	alarms, err := e.store.FilterAlarms(ctx, user, amstate.AlarmFilter{
		Monitor: monitorKey,
		Closed:  &closed,
	})
	if err != nil {
		return nil, err
	}

	if len(alarms) == 0 {
		return nil, nil
	}

	return &alarms[len(alarms)-1], nil
}

func (e *Engine) resolve(
	ctx context.Context,
	event amdomain.Event,
) (*amdomain.User, *amdomain.Probe, *amdomain.ProbeGroup, error) {
	user, err := e.directory.User(ctx, event.User)
	if err != nil {
		return nil, nil, nil, err
	}
	if user == nil {
		return nil, nil, nil, amstate.NewValidationError("invalid event: unknown user %s", event.User)
	}

	probe, err := e.directory.Probe(ctx, event.User, event.ProbeUuid)
	if err != nil {
		return nil, nil, nil, err
	}
	if probe == nil {
		return nil, nil, nil, amstate.NewValidationError("invalid event: unknown probe %s", event.ProbeUuid)
	}

	var group *amdomain.ProbeGroup
	if probe.Group != "" {
		group, err = e.directory.ProbeGroup(ctx, event.User, probe.Group)
		if err != nil {
			return nil, nil, nil, err
		}
		if group == nil {
			e.logl.Error.Printf("probe %s: group %s not found; treating as ungrouped", probe.Uuid, probe.Group)
		}
	}

	return user, probe, group, nil
}

// alarms only store the monitor key, which is either a probe group or a probe
func (e *Engine) monitorFor(ctx context.Context, user amdomain.User, key string) (amdomain.Monitor, error) {
	group, err := e.directory.ProbeGroup(ctx, user.Uuid, key)
	if err != nil {
		return amdomain.Monitor{}, err
	}
	if group != nil {
		return amdomain.MonitorFor(amdomain.Probe{}, group), nil
	}

	probe, err := e.directory.Probe(ctx, user.Uuid, key)
	if err != nil {
		return amdomain.Monitor{}, err
	}
	if probe != nil {
		return amdomain.MonitorFor(*probe, nil), nil
	}

	return amdomain.Monitor{Key: key, Name: key}, nil
}

// entries live only while someone holds or waits for the lock, so the map is bounded by
// the number of monitors with events in flight
func (e *Engine) lockMonitor(key string) func() {
	e.monitorLocksMu.Lock()
	lock, found := e.monitorLocks[key]
	if !found {
		lock = &monitorLock{}
		e.monitorLocks[key] = lock
	}
	lock.refs++
	e.monitorLocksMu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		e.monitorLocksMu.Lock()
		defer e.monitorLocksMu.Unlock()

		lock.refs--
		if lock.refs == 0 {
			delete(e.monitorLocks, key)
		}
	}
}

func (e *Engine) countEvent(result string) {
	ammetrics.EventsTotal.WithLabelValues(result).Inc()
}
