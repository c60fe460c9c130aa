package lambdautils

// The master is deployed as one Lambda function with three triggers:
//
//	API Gateway            -> REST API (events from relays, maintenances, alarms)
//	SNS                    -> events published by relays that can't reach the API
//	CloudWatch schedule    -> sweep of ended maintenance windows
//
// Lambda hands us raw JSON without saying which trigger it came from, so we sniff a few
// fields that are unique to each payload shape. See https://stackoverflow.com/a/52572943

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

var errUnknownTrigger = errors.New("cannot identify type of request")

// TriggerHandlerFn receives one of *events.APIGatewayProxyRequest, *events.SNSEvent or
// *events.CloudWatchEvent
type TriggerHandlerFn func(ctx context.Context, trigger interface{}) ([]byte, error)

type multiTriggerHandler struct {
	fn TriggerHandlerFn
}

func NewMultiEventTypeHandler(fn TriggerHandlerFn) lambda.Handler {
	return &multiTriggerHandler{fn}
}

func (m *multiTriggerHandler) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	trigger, err := decodeTrigger(payload)
	if err != nil {
		return nil, err
	}

	return m.fn(ctx, trigger)
}

// just the fields that tell the payload shapes apart
type triggerFingerprint struct {
	HttpMethod string `json:"httpMethod"`  // API Gateway
	DetailType string `json:"detail-type"` // CloudWatch ("Scheduled Event")
	Records    []struct {
		EventSource string `json:"EventSource"` // SNS: "aws:sns" (note the casing)
	} `json:"Records"`
}

func (f *triggerFingerprint) newTarget() (interface{}, error) {
	switch {
	case f.HttpMethod != "":
		return &events.APIGatewayProxyRequest{}, nil
	case f.DetailType == "Scheduled Event":
		return &events.CloudWatchEvent{}, nil
	case len(f.Records) > 0 && f.Records[0].EventSource == "aws:sns":
		return &events.SNSEvent{}, nil
	default:
		return nil, errUnknownTrigger
	}
}

func decodeTrigger(payload []byte) (interface{}, error) {
	fingerprint := &triggerFingerprint{}
	if err := json.Unmarshal(payload, fingerprint); err != nil {
		return nil, err
	}

	target, err := fingerprint.newTarget()
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("trigger unmarshal: %w", err)
	}

	return target, nil
}
