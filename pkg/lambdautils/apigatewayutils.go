package lambdautils

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/apex/gateway"
	"github.com/aws/aws-lambda-go/events"
)

// serves the REST API's http.Handler (gin router) from an API Gateway proxy request
func ServeApiGatewayProxyRequestUsingHttpHandler(
	ctx context.Context,
	proxyRequest *events.APIGatewayProxyRequest,
	httpHandler http.Handler,
) ([]byte, error) {
	request, err := gateway.NewRequest(ctx, *proxyRequest)
	if err != nil {
		return nil, err
	}

	response := gateway.NewResponse()

	httpHandler.ServeHTTP(response, request)

	proxyResponse := response.End()

	return json.Marshal(&proxyResponse)
}
