// Client for relays (and scripts) talking to the master's REST API
package amonclient

import (
	"context"
	"fmt"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/amontypes"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/ezhttp"
)

type Client struct {
	baseUrl string
}

func New(baseUrl string) *Client {
	return &Client{baseUrl}
}

func (c *Client) SendEvents(ctx context.Context, events ...amdomain.Event) error {
	_, err := ezhttp.Post(ctx, c.baseUrl+"/events", ezhttp.SendJson(&events))
	return err
}

func (c *Client) CreateMaintenance(
	ctx context.Context,
	user string,
	req amontypes.CreateMaintenanceRequest,
) (*amstate.Maintenance, error) {
	created := &amstate.Maintenance{}
	if _, err := ezhttp.Post(
		ctx,
		fmt.Sprintf("%s/pub/%s/maintenances", c.baseUrl, user),
		ezhttp.SendJson(&req),
		ezhttp.RespondsJson(created, true),
	); err != nil {
		return nil, err
	}

	return created, nil
}

func (c *Client) Maintenances(ctx context.Context, user string) ([]amstate.Maintenance, error) {
	maintenances := []amstate.Maintenance{}
	if _, err := ezhttp.Get(
		ctx,
		fmt.Sprintf("%s/pub/%s/maintenances", c.baseUrl, user),
		ezhttp.RespondsJson(&maintenances, true),
	); err != nil {
		return nil, err
	}

	return maintenances, nil
}
