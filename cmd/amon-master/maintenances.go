package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/stringutils"
	"github.com/scylladb/termtables"
	"github.com/spf13/cobra"
)

func maintenanceEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "maint",
		Aliases: []string{"maintenance"},
		Short:   "Manage maintenance windows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [user]",
		Short: "List user's maintenance windows",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(maintenanceList(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls-all",
		Short: "List all users' maintenance windows",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(maintenanceList(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				""))
		},
	})

	params := amstate.MaintenanceParams{}

	mk := &cobra.Command{
		Use:   "mk [user] [start] [end]",
		Short: "Create a maintenance window (start: now|epoch ms|date, end: N[mhd]|epoch ms|date)",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			params.User = args[0]
			params.Start = args[1]
			params.End = args[2]

			exitIfError(maintenanceCreate(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				params))
		},
	}
	mk.Flags().BoolVarP(&params.All, "all", "", params.All, "All of user's probes")
	mk.Flags().StringVarP(&params.Probes, "probes", "", params.Probes, "Comma-separated probe UUIDs")
	mk.Flags().StringVarP(&params.Machines, "machines", "", params.Machines, "Comma-separated machine UUIDs")
	mk.Flags().StringVarP(&params.Notes, "notes", "n", params.Notes, "Notes")
	cmd.AddCommand(mk)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [user] [id]",
		Short: "Delete (end) a maintenance window",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(maintenanceDelete(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				args[0],
				args[1]))
		},
	})

	return cmd
}

// empty user => all users
func maintenanceList(ctx context.Context, user string) error {
	a, err := getApp(nil)
	if err != nil {
		return err
	}

	var maintenances []amstate.Maintenance
	if user == "" {
		maintenances, err = a.store.ListAllMaintenances(ctx)
	} else {
		maintenances, err = a.store.ListMaintenances(ctx, user)
	}
	if err != nil {
		return err
	}

	view := termtables.CreateTable()
	view.AddHeaders("User", "Id", "Start", "End", "Scope", "Notes")

	for _, m := range maintenances {
		view.AddRow(
			m.User,
			m.Id,
			epochMsToTime(m.Start).Format(time.RFC3339),
			epochMsToTime(m.End).Format(time.RFC3339),
			describeScope(m),
			stringutils.Truncate(m.Notes, 40))
	}

	fmt.Println(view.Render())

	return nil
}

func maintenanceCreate(ctx context.Context, params amstate.MaintenanceParams) error {
	a, err := getApp(nil)
	if err != nil {
		return err
	}

	m, err := a.store.CreateMaintenance(ctx, params)
	if err != nil {
		return err
	}

	fmt.Printf("created maintenance window %d (ends %s)\n", m.Id, epochMsToTime(m.End).Format(time.RFC3339))

	return nil
}

func maintenanceDelete(ctx context.Context, user string, idStr string) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return err
	}

	a, err := getApp(nil)
	if err != nil {
		return err
	}

	m, err := a.store.GetMaintenance(ctx, user, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("maintenance window %d not found", id)
	}

	return a.store.DeleteMaintenance(ctx, m)
}

func describeScope(m amstate.Maintenance) string {
	switch m.Scope() {
	case amstate.ScopeAll:
		return "all"
	case amstate.ScopeProbes:
		return "probes: " + strings.Join(m.Probes, ", ")
	default:
		return "machines: " + strings.Join(m.Machines, ", ")
	}
}

func epochMsToTime(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
