// Lookups of users, probes and probe groups
package amdirectory

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/function61/amon/pkg/amdomain"
	"gopkg.in/yaml.v3"
)

// lookups return (nil, nil) when the item does not exist
type Directory interface {
	User(ctx context.Context, uuid string) (*amdomain.User, error)
	Probe(ctx context.Context, user string, uuid string) (*amdomain.Probe, error)
	ProbeGroup(ctx context.Context, user string, uuid string) (*amdomain.ProbeGroup, error)
}

type staticFile struct {
	Users       []amdomain.User       `yaml:"users"`
	ProbeGroups []amdomain.ProbeGroup `yaml:"probeGroups"`
	Probes      []amdomain.Probe      `yaml:"probes"`
}

// Static is an in-memory directory, usually loaded from a YAML file
type Static struct {
	users       map[string]amdomain.User
	probeGroups map[string]amdomain.ProbeGroup
	probes      map[string]amdomain.Probe
}

var _ Directory = (*Static)(nil)

func LoadStatic(path string) (*Static, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dir, err := ReadStatic(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return dir, nil
}

func ReadStatic(source io.Reader) (*Static, error) {
	contents := staticFile{}

	decoder := yaml.NewDecoder(source)
	decoder.KnownFields(true)
	if err := decoder.Decode(&contents); err != nil && err != io.EOF {
		return nil, err
	}

	return NewStatic(contents.Users, contents.ProbeGroups, contents.Probes)
}

func NewStatic(
	users []amdomain.User,
	probeGroups []amdomain.ProbeGroup,
	probes []amdomain.Probe,
) (*Static, error) {
	dir := &Static{
		users:       map[string]amdomain.User{},
		probeGroups: map[string]amdomain.ProbeGroup{},
		probes:      map[string]amdomain.Probe{},
	}

	for _, user := range users {
		if !amdomain.IsUuid(user.Uuid) {
			return nil, fmt.Errorf("user %q: invalid UUID", user.Uuid)
		}
		if _, dup := dir.users[user.Uuid]; dup {
			return nil, fmt.Errorf("user %s: duplicate", user.Uuid)
		}

		dir.users[user.Uuid] = user
	}

	for _, group := range probeGroups {
		if !amdomain.IsUuid(group.Uuid) {
			return nil, fmt.Errorf("probe group %q: invalid UUID", group.Uuid)
		}
		if _, found := dir.users[group.User]; !found {
			return nil, fmt.Errorf("probe group %s: unknown user %q", group.Uuid, group.User)
		}
		if err := validateContacts(group.Contacts); err != nil {
			return nil, fmt.Errorf("probe group %s: %w", group.Uuid, err)
		}

		dir.probeGroups[group.Uuid] = group
	}

	for _, probe := range probes {
		if !amdomain.IsUuid(probe.Uuid) {
			return nil, fmt.Errorf("probe %q: invalid UUID", probe.Uuid)
		}
		if _, found := dir.users[probe.User]; !found {
			return nil, fmt.Errorf("probe %s: unknown user %q", probe.Uuid, probe.User)
		}
		if probe.Machine != "" && !amdomain.IsUuid(probe.Machine) {
			return nil, fmt.Errorf("probe %s: invalid machine %q", probe.Uuid, probe.Machine)
		}
		if probe.Group != "" {
			group, found := dir.probeGroups[probe.Group]
			if !found || group.User != probe.User {
				return nil, fmt.Errorf("probe %s: unknown probe group %q", probe.Uuid, probe.Group)
			}
		}
		if err := validateContacts(probe.Contacts); err != nil {
			return nil, fmt.Errorf("probe %s: %w", probe.Uuid, err)
		}

		dir.probes[probe.Uuid] = probe
	}

	return dir, nil
}

func (s *Static) User(_ context.Context, uuid string) (*amdomain.User, error) {
	user, found := s.users[uuid]
	if !found {
		return nil, nil
	}

	return &user, nil
}

func (s *Static) Probe(_ context.Context, user string, uuid string) (*amdomain.Probe, error) {
	probe, found := s.probes[uuid]
	if !found || probe.User != user {
		return nil, nil
	}

	return &probe, nil
}

func (s *Static) ProbeGroup(_ context.Context, user string, uuid string) (*amdomain.ProbeGroup, error) {
	group, found := s.probeGroups[uuid]
	if !found || group.User != user {
		return nil, nil
	}

	return &group, nil
}

func validateContacts(urns []string) error {
	for _, urn := range urns {
		if _, err := amdomain.ParseContactUrn(urn); err != nil {
			return err
		}
	}

	return nil
}
