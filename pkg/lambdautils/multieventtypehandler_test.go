package lambdautils

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/function61/gokit/assert"
)

func TestDecodeTrigger(t *testing.T) {
	identify := func(input string) interface{} {
		trigger, err := decodeTrigger([]byte(input))
		assert.Ok(t, err)
		return trigger
	}

	apiGw, ok := identify(`{"httpMethod": "GET", "path": "/ping"}`).(*events.APIGatewayProxyRequest)
	assert.Assert(t, ok)
	assert.EqualString(t, apiGw.Path, "/ping")

	_, ok = identify(`{"detail-type": "Scheduled Event", "time": "2020-03-01T12:00:00Z"}`).(*events.CloudWatchEvent)
	assert.Assert(t, ok)

	sns, ok := identify(`{"Records": [{"EventSource": "aws:sns", "Sns": {"Message": "{}"}}]}`).(*events.SNSEvent)
	assert.Assert(t, ok)
	assert.EqualString(t, sns.Records[0].SNS.Message, "{}")

	_, err := decodeTrigger([]byte(`{"Records": []}`))
	assert.EqualString(t, err.Error(), "cannot identify type of request")

	_, err = decodeTrigger([]byte(`{"Records": [{"EventSource": "aws:sqs"}]}`))
	assert.Assert(t, err == errUnknownTrigger)
}

func TestInvokeDispatchesDecodedTrigger(t *testing.T) {
	handler := NewMultiEventTypeHandler(func(_ context.Context, trigger interface{}) ([]byte, error) {
		_, isSchedule := trigger.(*events.CloudWatchEvent)
		assert.Assert(t, isSchedule)
		return []byte("swept"), nil
	})

	out, err := handler.Invoke(context.Background(), []byte(`{"detail-type": "Scheduled Event"}`))
	assert.Ok(t, err)
	assert.EqualString(t, string(out), "swept")
}

func TestServeApiGatewayProxyRequest(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(r.URL.Path))
	})

	respJson, err := ServeApiGatewayProxyRequestUsingHttpHandler(
		context.Background(),
		&events.APIGatewayProxyRequest{
			HTTPMethod: http.MethodPost,
			Path:       "/events",
		},
		handler)
	assert.Ok(t, err)

	resp := events.APIGatewayProxyResponse{}
	assert.Ok(t, json.Unmarshal(respJson, &resp))
	assert.Assert(t, resp.StatusCode == http.StatusAccepted)
	assert.EqualString(t, resp.Body, "/events")
}
