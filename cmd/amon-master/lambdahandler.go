package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/amon/pkg/lambdautils"
	"github.com/function61/gokit/logex"
)

// no long-lived process in Lambda, so the reaper can't keep a timer. instead a CloudWatch
// schedule invokes us periodically to sweep ended windows.
func lambdaHandler() {
	logger := logex.StandardLogger()

	a, appErr := getApp(logger)

	var restApi http.Handler
	if appErr != nil {
		restApi = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, appErr.Error(), http.StatusInternalServerError)
		})
	} else {
		restApi = newRestApi(a)
	}

	handler := func(ctx context.Context, polymorphicEvent interface{}) ([]byte, error) {
		if _, isApiGateway := polymorphicEvent.(*events.APIGatewayProxyRequest); !isApiGateway && appErr != nil {
			return nil, appErr
		}

		switch event := polymorphicEvent.(type) {
		case *events.CloudWatchEvent:
			return nil, handleCloudwatchScheduledEvent(ctx, a, event.Time)
		case *events.SNSEvent:
			return nil, handleSnsIngest(ctx, a, *event)
		case *events.APIGatewayProxyRequest:
			return lambdautils.ServeApiGatewayProxyRequestUsingHttpHandler(
				ctx,
				event,
				restApi)
		default:
			return nil, errors.New("cannot identify type of request")
		}
	}

	lambda.StartHandler(lambdautils.NewMultiEventTypeHandler(handler))
}

func handleCloudwatchScheduledEvent(ctx context.Context, a *app, now time.Time) error {
	_, err := a.reaper.ReapExpired(ctx, now)
	return err
}

// each SNS message carries one event or an array of events, as in POST /events.
//
// a failed invocation makes Lambda redeliver the whole batch, so only errors a retry can
// fix (storage) are returned. invalid events are logged and dropped, or the valid events
// of the batch would be processed (and notified) again on every retry.
func handleSnsIngest(ctx context.Context, a *app, snsEvent events.SNSEvent) error {
	logl := logex.Levels(a.logger)

	all := []amdomain.Event{}

	for _, record := range snsEvent.Records {
		parsed, err := parseEvents([]byte(record.SNS.Message))
		if err != nil {
			logl.Error.Printf("SNS message %s: %v", record.SNS.MessageID, err)
			continue
		}

		all = append(all, parsed...)
	}

	retryable := []error{}
	for _, event := range all {
		if err := a.engine.ProcessEvent(ctx, event); err != nil {
			if amstate.IsValidationError(err) {
				logl.Error.Printf("dropping event: %v", err)
				continue
			}

			retryable = append(retryable, err)
		}
	}

	return errors.Join(retryable...)
}
