package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/function61/amon/pkg/amontypes"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/ossignal"
	"github.com/scylladb/termtables"
	"github.com/spf13/cobra"
)

func alarmEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarm",
		Short: "Manage alarms",
	}

	state := amstate.AlarmStateRecent
	monitor := ""

	ls := &cobra.Command{
		Use:   "ls [user]",
		Short: "List user's alarms",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(alarmList(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				args[0],
				state,
				monitor))
		},
	}
	ls.Flags().StringVarP(&state, "state", "s", state, "recent|open|closed|all")
	ls.Flags().StringVarP(&monitor, "monitor", "m", monitor, "Only alarms of this monitor (probe or probe group UUID)")
	cmd.AddCommand(ls)

	for _, action := range []string{
		amontypes.AlarmActionClose,
		amontypes.AlarmActionReopen,
		amontypes.AlarmActionSuppress,
		amontypes.AlarmActionUnsuppress,
	} {
		action := action

		cmd.AddCommand(&cobra.Command{
			Use:   action + " [user] [id]",
			Short: "Alarm action: " + action,
			Args:  cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				exitIfError(alarmAction(
					ossignal.InterruptOrTerminateBackgroundCtx(nil),
					args[0],
					args[1],
					action))
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [user] [id]",
		Short: "Delete an alarm",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(alarmDelete(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				args[0],
				args[1]))
		},
	})

	return cmd
}

func alarmList(ctx context.Context, user string, state string, monitor string) error {
	a, err := getApp(nil)
	if err != nil {
		return err
	}

	alarms, err := a.store.FilterAlarms(ctx, user, amstate.AlarmFilter{Monitor: monitor})
	if err != nil {
		return err
	}

	alarms, err = amstate.FilterAlarmsByState(alarms, state, time.Now())
	if err != nil {
		return err
	}

	view := termtables.CreateTable()
	view.AddHeaders("Id", "Monitor", "Opened", "Closed", "Faults", "Maint faults", "Notifications")

	for _, alarm := range alarms {
		closed := ""
		if alarm.TimeClosed != nil {
			closed = epochMsToTime(*alarm.TimeClosed).Format(time.RFC3339)
		}

		notifications := strconv.FormatInt(alarm.NumNotifications, 10)
		if alarm.SuppressNotifications {
			notifications += " (suppressed)"
		}

		view.AddRow(
			alarm.Id,
			alarm.Monitor,
			epochMsToTime(alarm.TimeOpened).Format(time.RFC3339),
			closed,
			len(alarm.Faults),
			len(alarm.MaintFaults),
			notifications)
	}

	fmt.Println(view.Render())

	return nil
}

func alarmAction(ctx context.Context, user string, idStr string, action string) error {
	a, alarm, err := getAppAndAlarm(ctx, user, idStr)
	if err != nil {
		return err
	}

	switch action {
	case amontypes.AlarmActionClose:
		return a.store.CloseAlarm(ctx, alarm, amstate.EpochMs(time.Now()))
	case amontypes.AlarmActionReopen:
		return a.store.ReopenAlarm(ctx, alarm)
	case amontypes.AlarmActionSuppress:
		return a.store.SetAlarmSuppressed(ctx, alarm, true)
	case amontypes.AlarmActionUnsuppress:
		return a.store.SetAlarmSuppressed(ctx, alarm, false)
	default:
		return fmt.Errorf("%q is not a valid action", action)
	}
}

func alarmDelete(ctx context.Context, user string, idStr string) error {
	a, alarm, err := getAppAndAlarm(ctx, user, idStr)
	if err != nil {
		return err
	}

	return a.store.DeleteAlarm(ctx, alarm.User, alarm.Id)
}

func getAppAndAlarm(ctx context.Context, user string, idStr string) (*app, *amstate.Alarm, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, nil, err
	}

	a, err := getApp(nil)
	if err != nil {
		return nil, nil, err
	}

	alarm, err := a.store.GetAlarm(ctx, user, id)
	if err != nil {
		return nil, nil, err
	}
	if alarm == nil {
		return nil, nil, fmt.Errorf("alarm %d not found", id)
	}

	return a, alarm, nil
}
