package compose

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderDefaultTemplate(t *testing.T) {
	vars := Vars{
		TenantID:          "t1",
		Image:             "nexusd/bridge:1.4.0",
		EnvFilePath:       "/data/tenants/t1/env",
		SessionVolumePath: "/data/tenants/t1/session",
		StateVolumePath:   "/data/tenants/t1/state",
	}

	topo, err := Render(DefaultTemplate, vars)
	require.NoError(t, err)

	name, svc, err := topo.PrimaryService()
	require.NoError(t, err)
	require.Equal(t, "agent", name)
	require.Equal(t, "nexusd/bridge:1.4.0", svc.Image)
	require.Equal(t, "t1", svc.Environment["NEXUSD_TENANT_ID"])
	require.Len(t, svc.Mounts, 2)
	require.Equal(t, "/data/tenants/t1/session", svc.Mounts[0].Source)
	require.Equal(t, "/data/session", svc.Mounts[0].Destination)
}

func TestRenderRejectsMultiService(t *testing.T) {
	tmpl := `
version: "1"
services:
  agent:
    image: x
  sidecar:
    image: y
`
	topo, err := Render(tmpl, Vars{})
	require.NoError(t, err)

	_, _, err = topo.PrimaryService()
	require.Error(t, err)
}

func TestRenderRejectsEmptyTopology(t *testing.T) {
	_, err := Render(`version: "1"`, Vars{})
	require.Error(t, err)
}

func TestRenderRejectsBadTemplate(t *testing.T) {
	_, err := Render(`{{ .Nope `, Vars{})
	require.Error(t, err)
}
