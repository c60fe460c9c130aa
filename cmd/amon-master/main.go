package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/function61/amon/pkg/amdirectory"
	"github.com/function61/amon/pkg/amengine"
	"github.com/function61/amon/pkg/amnotify"
	"github.com/function61/amon/pkg/amreaper"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/envvar"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

func main() {
	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Amon master: alarms & maintenance windows",
		Version: dynversion.Version,
	}

	app.AddCommand(serveEntry())

	app.AddCommand(maintenanceEntry())

	app.AddCommand(alarmEntry())

	app.AddCommand(eventEntry())

	app.AddCommand(&cobra.Command{
		Use:   "reap",
		Short: "Delete maintenance windows that have ended",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			logger := logex.StandardLogger()

			exitIfError(reapOnce(
				ossignal.InterruptOrTerminateBackgroundCtx(logger),
				time.Now(),
				logger))
		},
	})

	app.AddCommand(&cobra.Command{
		Use:    "lambda",
		Hidden: true,
		Run: func(*cobra.Command, []string) {
			lambdaHandler()
		},
	})

	exitIfError(app.Execute())
}

type config struct {
	RedisAddr     string
	RedisDb       int
	Listen        string
	DirectoryPath string
	Datacenter    string
	AwsRegion     string
	EmailFrom     string // empty => email notifications disabled
}

func configFromEnv() (*config, error) {
	directoryPath, err := envvar.Required("AMON_DIRECTORY")
	if err != nil {
		return nil, err
	}

	redisDb, err := strconv.Atoi(envOrDefault("AMON_REDIS_DB", "1"))
	if err != nil {
		return nil, fmt.Errorf("AMON_REDIS_DB: %w", err)
	}

	return &config{
		RedisAddr:     envOrDefault("AMON_REDIS_ADDR", "127.0.0.1:6379"),
		RedisDb:       redisDb,
		Listen:        envOrDefault("AMON_LISTEN", ":8080"),
		DirectoryPath: directoryPath,
		Datacenter:    envOrDefault("AMON_DATACENTER", "coal"),
		AwsRegion:     envOrDefault("AWS_REGION", "us-east-1"),
		EmailFrom:     os.Getenv("AMON_EMAIL_FROM"),
	}, nil
}

type app struct {
	conf      *config
	store     *amstate.Store
	engine    *amengine.Engine
	reaper    *amreaper.Reaper
	directory amdirectory.Directory
	logger    *log.Logger
}

func getApp(logger *log.Logger) (*app, error) {
	conf, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	directory, err := amdirectory.LoadStatic(conf.DirectoryPath)
	if err != nil {
		return nil, err
	}

	awsSession, err := session.NewSession(aws.NewConfig().WithRegion(conf.AwsRegion))
	if err != nil {
		return nil, err
	}

	plugins := []amnotify.Plugin{
		amnotify.NewWebhook(),
		amnotify.NewSms(sns.New(awsSession)),
	}
	if conf.EmailFrom != "" {
		plugins = append(plugins, amnotify.NewEmail(ses.New(awsSession), conf.EmailFrom))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: conf.RedisAddr,
		DB:   conf.RedisDb,
	})

	return newApp(
		conf,
		redisClient,
		directory,
		amnotify.NewDispatcher(prefixed("notify", logger), plugins...),
		logger), nil
}

// separate from getApp so tests can swap the collaborators
func newApp(
	conf *config,
	redisClient *redis.Client,
	directory amdirectory.Directory,
	notifier amnotify.Notifier,
	logger *log.Logger,
) *app {
	store := amstate.New(redisClient, prefixed("store", logger))
	engine := amengine.New(store, directory, notifier, conf.Datacenter, prefixed("engine", logger))
	reaper := amreaper.New(store, prefixed("reaper", logger))

	store.OnMaintenanceEnd(engine.HandleMaintenanceEnd)
	store.OnMaintenanceChange(reaper.Reschedule)

	return &app{
		conf:      conf,
		store:     store,
		engine:    engine,
		reaper:    reaper,
		directory: directory,
		logger:    logger,
	}
}

func reapOnce(ctx context.Context, now time.Time, logger *log.Logger) error {
	a, err := getApp(logger)
	if err != nil {
		return err
	}

	reaped, err := a.reaper.ReapExpired(ctx, now)
	if err != nil {
		return err
	}

	fmt.Printf("reaped %d maintenance window(s)\n", reaped)

	return nil
}

func prefixed(prefix string, logger *log.Logger) *log.Logger {
	if logger == nil {
		return nil
	}

	return logex.Prefix(prefix, logger)
}

func envOrDefault(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func exitIfError(err error) {
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
