// Package compose renders a tenant's runtime topology from a Docker
// Compose-flavored YAML template. The template describes the image, mounts,
// and environment shape once; per-tenant values are substituted with
// text/template before the result is parsed into a Topology the runtime
// driver turns into an OCI container spec.
package compose

import (
	"bytes"
	"fmt"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Vars are the placeholders available to a topology template.
type Vars struct {
	TenantID          string
	Image             string
	EnvFilePath       string
	SessionVolumePath string
	StateVolumePath   string
}

// Mount is a single bind mount in the rendered topology.
type Mount struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	ReadOnly    bool   `yaml:"read_only"`
}

// Service is the (single, for this system) service block of a rendered
// topology, deliberately compose-shaped so the template reads like a
// docker-compose.yml service entry.
type Service struct {
	Image       string            `yaml:"image"`
	EnvFile     string            `yaml:"env_file"`
	Environment map[string]string `yaml:"environment"`
	Mounts      []Mount           `yaml:"mounts"`
	Command     []string          `yaml:"command,omitempty"`
}

// Topology is the parsed, tenant-specific rendering of a template.
type Topology struct {
	Version  string             `yaml:"version"`
	Services map[string]Service `yaml:"services"`
}

// DefaultTemplate is the bundled topology used when a tenant doesn't supply
// its own. It mounts the tenant's session and state volumes and points the
// bridge process at the per-tenant env file the worker materializes from
// the active ConfigRevision.
const DefaultTemplate = `
version: "1"
services:
  agent:
    image: {{ .Image }}
    env_file: {{ .EnvFilePath }}
    environment:
      NEXUSD_TENANT_ID: {{ .TenantID }}
    mounts:
      - source: {{ .SessionVolumePath }}
        destination: /data/session
        read_only: false
      - source: {{ .StateVolumePath }}
        destination: /data/state
        read_only: false
`

// Render executes tmplSource against vars and parses the result as a
// Topology.
func Render(tmplSource string, vars Vars) (*Topology, error) {
	tmpl, err := template.New("topology").Parse(tmplSource)
	if err != nil {
		return nil, fmt.Errorf("parse topology template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("render topology template: %w", err)
	}

	var topo Topology
	if err := yaml.Unmarshal(buf.Bytes(), &topo); err != nil {
		return nil, fmt.Errorf("parse rendered topology: %w", err)
	}
	if len(topo.Services) == 0 {
		return nil, fmt.Errorf("topology defines no services")
	}
	return &topo, nil
}

// PrimaryService returns the topology's one service, erroring if the
// template defined more than one — this system runs a single bridge
// process per tenant container, not a multi-service compose stack.
func (t *Topology) PrimaryService() (string, *Service, error) {
	if len(t.Services) != 1 {
		return "", nil, fmt.Errorf("topology must define exactly one service, got %d", len(t.Services))
	}
	for name, svc := range t.Services {
		svc := svc
		return name, &svc, nil
	}
	return "", nil, fmt.Errorf("unreachable")
}
