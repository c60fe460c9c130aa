package amnotify

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/function61/gokit/stringutils"
)

const smsMaxLength = 160

// Sms sends a text message through SNS direct-to-phone publishing
type Sms struct {
	snsSvc snsiface.SNSAPI
}

func NewSms(snsSvc snsiface.SNSAPI) *Sms {
	return &Sms{snsSvc}
}

func (s *Sms) Name() string {
	return "sms"
}

func (s *Sms) AcceptsMedium(medium string) bool {
	return mediumHasSuffix(medium, "phone") || mediumHasSuffix(medium, "sms")
}

func (s *Sms) Notify(ctx context.Context, n Notification) error {
	_, err := s.snsSvc.PublishWithContext(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(n.Contact.Address),
		Message:     aws.String(SmsMessage(n)),
	})
	return err
}

func SmsMessage(n Notification) string {
	return stringutils.Truncate(Title(n)+": "+n.Event.Data.Message, smsMaxLength-3) // room for the ellipsis
}
