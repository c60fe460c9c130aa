package amdomain

// Contact URN formats:
//
//	<medium>
//	my:<medium>
//
// <medium> is the name of the field on the owning user's record that holds the address,
// and its name also selects the notification mechanism ("email", "phone", "myWebhook").

import (
	"fmt"
	"strings"
)

const (
	ContactScopeMy = "my"
)

type Contact struct {
	Urn     string
	Scope   string
	Medium  string
	Address string // empty if the user has no such field
}

func ParseContactUrn(urn string) (*Contact, error) {
	medium := strings.TrimPrefix(urn, ContactScopeMy+":")

	if medium == "" {
		return nil, fmt.Errorf("invalid contact: empty medium in %q", urn)
	}

	if strings.Contains(medium, ":") {
		return nil, fmt.Errorf("invalid contact: \":\" in medium %q", medium)
	}

	return &Contact{
		Urn:    urn,
		Scope:  ContactScopeMy,
		Medium: medium,
	}, nil
}

func ResolveContact(urn string, user User) (*Contact, error) {
	contact, err := ParseContactUrn(urn)
	if err != nil {
		return nil, err
	}

	contact.Address = user.Fields[contact.Medium]

	return contact, nil
}
