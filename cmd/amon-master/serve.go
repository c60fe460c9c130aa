package main

import (
	"context"
	"log"
	"net/http"

	"github.com/function61/gokit/httputils"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/taskrunner"
	"github.com/spf13/cobra"
)

func serveEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start REST API & maintenance expiry reaper",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := logex.StandardLogger()

			exitIfError(serve(
				ossignal.InterruptOrTerminateBackgroundCtx(logger),
				logger))
		},
	}
}

func serve(ctx context.Context, logger *log.Logger) error {
	a, err := getApp(logger)
	if err != nil {
		return err
	}

	if err := a.store.Ping(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    a.conf.Listen,
		Handler: newRestApi(a),
	}

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("listener "+srv.Addr, func(_ context.Context, _ string) error {
		return httputils.RemoveGracefulServerClosedError(srv.ListenAndServe())
	})

	tasks.Start("listenershutdowner", httputils.ServerShutdownTask(srv))

	tasks.Start("reaper", func(ctx context.Context, _ string) error {
		return a.reaper.Run(ctx)
	})

	return tasks.Wait()
}
