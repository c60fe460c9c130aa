package amnotify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/function61/gokit/stringutils"
)

// Email sends via SES
type Email struct {
	sesSvc sesiface.SESAPI
	from   string
}

func NewEmail(sesSvc sesiface.SESAPI, from string) *Email {
	return &Email{
		sesSvc: sesSvc,
		from:   from,
	}
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) AcceptsMedium(medium string) bool {
	return mediumHasSuffix(medium, "email")
}

func (e *Email) Notify(ctx context.Context, n Notification) error {
	_, err := e.sesSvc.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source: aws.String(e.from),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(n.Contact.Address)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{
				Data: aws.String(EmailSubject(n)),
			},
			Body: &ses.Body{
				Text: &ses.Content{
					Data: aws.String(stringutils.Truncate(Title(n)+"\n\n"+Body(n), 64*1024)),
				},
			},
		},
	})
	return err
}

// [Alarm] bob 3 in us-east-1: "webheads" monitor alarmed
func EmailSubject(n Notification) string {
	return fmt.Sprintf(
		"[Alarm] %s %d in %s: %q monitor alarmed",
		n.User.Login,
		n.Alarm.Id,
		n.Datacenter,
		n.Monitor.Name)
}
