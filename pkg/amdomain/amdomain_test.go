package amdomain

import (
	"fmt"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestIsUuid(t *testing.T) {
	assert.Assert(t, IsUuid("a1f0d2c4-3b5e-4f60-8a7b-9c0d1e2f3a4b"))
	assert.Assert(t, !IsUuid("A1F0D2C4-3B5E-4F60-8A7B-9C0D1E2F3A4B"))
	assert.Assert(t, !IsUuid("{a1f0d2c4-3b5e-4f60-8a7b-9c0d1e2f3a4b}"))
	assert.Assert(t, !IsUuid("urn:uuid:a1f0d2c4-3b5e-4f60-8a7b-9c0d1e2f3a4b"))
	assert.Assert(t, !IsUuid("a1f0d2c43b5e4f608a7b9c0d1e2f3a4b"))
	assert.Assert(t, !IsUuid(""))
}

func TestParseContactUrn(t *testing.T) {
	tcs := []struct {
		input  string
		output string
	}{
		{"email", "my email"},
		{"my:email", "my email"},
		{"my:myWebhook", "my myWebhook"},
		{"user:bob:sms", `error: invalid contact: ":" in medium "user:bob:sms"`},
		{"my:", `error: invalid contact: empty medium in "my:"`},
	}

	for _, tc := range tcs {
		tc := tc // pin
		t.Run(tc.input, func(t *testing.T) {
			contact, err := ParseContactUrn(tc.input)
			if err != nil {
				assert.EqualString(t, fmt.Sprintf("error: %v", err), tc.output)
			} else {
				assert.EqualString(t, contact.Scope+" "+contact.Medium, tc.output)
			}
		})
	}
}

func TestResolveContact(t *testing.T) {
	user := User{
		Uuid:  "a1f0d2c4-3b5e-4f60-8a7b-9c0d1e2f3a4b",
		Login: "joonas",
		Fields: map[string]string{
			"email": "joonas@example.com",
		},
	}

	contact, err := ResolveContact("my:email", user)
	assert.Ok(t, err)
	assert.EqualString(t, contact.Address, "joonas@example.com")

	contact, err = ResolveContact("fooEmail", user)
	assert.Ok(t, err)
	assert.EqualString(t, contact.Address, "")
}

func TestMonitorFor(t *testing.T) {
	probe := Probe{
		Uuid:     "a1f0d2c4-3b5e-4f60-8a7b-9c0d1e2f3a4b",
		Name:     "disk usage",
		Contacts: []string{"email"},
	}

	assert.EqualString(t, MonitorFor(probe, nil).Key, probe.Uuid)
	assert.EqualString(t, MonitorFor(probe, nil).Name, "disk usage")

	group := &ProbeGroup{
		Uuid:     "0f9e8d7c-6b5a-4f3e-9d2c-1b0a9f8e7d6c",
		Name:     "All SDC Zones",
		Contacts: []string{"phone"},
	}

	assert.EqualString(t, MonitorFor(probe, group).Key, group.Uuid)
	assert.EqualString(t, MonitorFor(probe, group).Contacts[0], "phone")
}

func TestEventValidate(t *testing.T) {
	ev := Event{
		User:      "a1f0d2c4-3b5e-4f60-8a7b-9c0d1e2f3a4b",
		ProbeUuid: "0f9e8d7c-6b5a-4f3e-9d2c-1b0a9f8e7d6c",
		Time:      1350000000000,
	}
	assert.Ok(t, ev.Validate())
	assert.EqualString(t, ev.FaultKey(), ev.ProbeUuid)

	ev.User = "bob"
	assert.EqualString(t, ev.Validate().Error(), `invalid event: "user" (UUID) is required: "bob"`)
}
