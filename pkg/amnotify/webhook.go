package amnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/function61/gokit/ezhttp"
)

type webhookPayload struct {
	Alarm      int64           `json:"alarm"`
	Message    string          `json:"message"`
	Time       string          `json:"time"`
	Monitor    string          `json:"monitor"`
	Datacenter string          `json:"datacenter"`
	Details    json.RawMessage `json:"details"` // the whole event
}

// Webhook POSTs a JSON document to the contact's URL
type Webhook struct{}

func NewWebhook() *Webhook {
	return &Webhook{}
}

func (w *Webhook) Name() string {
	return "webhook"
}

func (w *Webhook) AcceptsMedium(medium string) bool {
	return mediumHasSuffix(medium, "webhook")
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	target, err := url.Parse(n.Contact.Address)
	if err != nil {
		return err
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return fmt.Errorf("unsupported protocol: %s", target.Scheme)
	}

	eventJson, err := json.Marshal(n.Event)
	if err != nil {
		return err
	}

	payload := webhookPayload{
		Alarm:      n.Alarm.Id,
		Message:    n.Event.Data.Message,
		Time:       eventTime(n.Event).Format(http.TimeFormat),
		Monitor:    n.Monitor.Name,
		Datacenter: n.Datacenter,
		Details:    eventJson,
	}

	_, err = ezhttp.Post(ctx, target.String(), ezhttp.SendJson(&payload))
	return err
}
