// Delivers alarm notifications to a contact via a medium-specific plugin
package amnotify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/ammetrics"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/logex"
)

// Notification is one message to one contact about one event of an alarm
type Notification struct {
	Alarm      amstate.Alarm
	User       amdomain.User
	Event      amdomain.Event
	Monitor    amdomain.Monitor
	Contact    amdomain.Contact
	Datacenter string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Plugin interface {
	Notifier
	Name() string
	AcceptsMedium(medium string) bool
}

var ErrNoPlugin = errors.New("no notification plugin for medium")

// Dispatcher routes to the first plugin that accepts the contact's medium
type Dispatcher struct {
	plugins []Plugin
	logl    *logex.Leveled
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(logger *log.Logger, plugins ...Plugin) *Dispatcher {
	return &Dispatcher{
		plugins: plugins,
		logl:    logex.Levels(logger),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	plugin := d.pluginFor(n.Contact.Medium)
	if plugin == nil {
		ammetrics.NotificationsTotal.WithLabelValues(n.Contact.Medium, ammetrics.ResultSkipped).Inc()
		return fmt.Errorf("%w: %q", ErrNoPlugin, n.Contact.Medium)
	}

	d.logl.Debug.Printf(
		"alarm %s: notifying %s via %s",
		n.Alarm.Key(),
		n.Contact.Urn,
		plugin.Name())

	if err := plugin.Notify(ctx, n); err != nil {
		ammetrics.NotificationsTotal.WithLabelValues(plugin.Name(), ammetrics.ResultError).Inc()
		return fmt.Errorf("%s: %w", plugin.Name(), err)
	}

	ammetrics.NotificationsTotal.WithLabelValues(plugin.Name(), ammetrics.ResultOk).Inc()

	return nil
}

func (d *Dispatcher) pluginFor(medium string) Plugin {
	for _, plugin := range d.plugins {
		if plugin.AcceptsMedium(medium) {
			return plugin
		}
	}

	return nil
}

func mediumHasSuffix(medium string, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(medium), suffix)
}

// Title looks like `Alarm 3 in us-east-1 (opened, probe web1 http fault)`
func Title(n Notification) string {
	var state string
	switch {
	case n.Alarm.Closed:
		state = "closed"
	case n.Event.Clear:
		state = fmt.Sprintf("open, fault %s cleared", n.Monitor.Name)
	case len(n.Alarm.Faults) <= 1:
		state = fmt.Sprintf("opened, probe %s fault", n.Monitor.Name)
	default:
		state = fmt.Sprintf("open, new probe %s fault (numFaults=%d)", n.Monitor.Name, len(n.Alarm.Faults))
	}

	return fmt.Sprintf("Alarm %d in %s (%s)", n.Alarm.Id, n.Datacenter, state)
}

// plain-text body shared by the email & SMS plugins
func Body(n Notification) string {
	lines := []string{n.Event.Data.Message}

	verb := "faulted"
	if n.Event.Clear {
		verb = "cleared"
	}

	where := ""
	if n.Event.Machine != "" {
		where = " on machine " + n.Event.Machine
	}

	lines = append(lines, fmt.Sprintf(
		"Monitor %s %s%s at %s.",
		n.Monitor.Name,
		verb,
		where,
		eventTime(n.Event).Format(time.RFC3339)))

	if len(n.Event.Data.Details) > 0 {
		lines = append(lines, "", string(n.Event.Data.Details))
	}

	if len(n.Alarm.Faults) > 1 || len(n.Alarm.MaintFaults) > 0 {
		lines = append(lines, "", "Current alarm faults:")
		for _, fault := range n.Alarm.Faults {
			lines = append(lines, "- "+describeFault(fault, ""))
		}
		for _, fault := range n.Alarm.MaintFaults {
			lines = append(lines, "- "+describeFault(fault, " (maint)"))
		}
	}

	return strings.Join(lines, "\n")
}

func describeFault(fault amstate.Fault, suffix string) string {
	return fmt.Sprintf(
		"%s (%s) at %s%s",
		fault.Event.Data.Message,
		fault.Event.FaultKey(),
		eventTime(fault.Event).Format(time.RFC3339),
		suffix)
}

func eventTime(ev amdomain.Event) time.Time {
	return time.Unix(0, ev.Time*int64(time.Millisecond)).UTC()
}
