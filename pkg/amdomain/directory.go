package amdomain

// User is the owner of probes & maintenance windows. Fields holds the contact addresses
// (e.g. "email", "phone", "myWebhook") that contact URNs refer to.
type User struct {
	Uuid   string            `json:"uuid" yaml:"uuid"`
	Login  string            `json:"login" yaml:"login"`
	Fields map[string]string `json:"fields" yaml:"fields"`
}

type Probe struct {
	Uuid     string   `json:"uuid" yaml:"uuid"`
	User     string   `json:"user" yaml:"user"`
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type" yaml:"type"`
	Machine  string   `json:"machine,omitempty" yaml:"machine"`
	Group    string   `json:"group,omitempty" yaml:"group"`
	Contacts []string `json:"contacts" yaml:"contacts"`
}

type ProbeGroup struct {
	Uuid     string   `json:"uuid" yaml:"uuid"`
	User     string   `json:"user" yaml:"user"`
	Name     string   `json:"name" yaml:"name"`
	Contacts []string `json:"contacts" yaml:"contacts"`
}

// Monitor is the thing an alarm is opened for: a probe group, or a lone probe
type Monitor struct {
	Key      string // probe group UUID or probe UUID
	Name     string
	Contacts []string
}

// group (if any) takes precedence so all probes of a group share one alarm
func MonitorFor(probe Probe, group *ProbeGroup) Monitor {
	if group != nil {
		return Monitor{
			Key:      group.Uuid,
			Name:     group.Name,
			Contacts: group.Contacts,
		}
	}

	return Monitor{
		Key:      probe.Uuid,
		Name:     probe.Name,
		Contacts: probe.Contacts,
	}
}
