package main

import (
	"context"
	"io"
	"os"

	"github.com/function61/amon/pkg/amonclient"
	"github.com/function61/gokit/ossignal"
	"github.com/spf13/cobra"
)

func eventEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Send events to a master (like a relay would)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "send [file]",
		Short: "Send event(s) as JSON (object or array) from file, or stdin if file is \"-\"",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(eventSend(
				ossignal.InterruptOrTerminateBackgroundCtx(nil),
				args[0]))
		},
	})

	return cmd
}

func eventSend(ctx context.Context, path string) error {
	masterUrl := envOrDefault("AMON_MASTER_URL", "http://localhost:8080")

	var input io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		input = file
	}

	raw, err := io.ReadAll(input)
	if err != nil {
		return err
	}

	events, err := parseEvents(raw)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := event.Validate(); err != nil {
			return err
		}
	}

	return amonclient.New(masterUrl).SendEvents(ctx, events...)
}
