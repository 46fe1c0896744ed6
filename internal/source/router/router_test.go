package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

func TestExtractHostsFromHostRule(t *testing.T) {
	hosts := extractHosts("Host(`app.example.com`) && PathPrefix(`/api`)")
	assert.Equal(t, []string{"app.example.com"}, hosts)
}

func TestExtractHostsFromHostSNIMultipleLiterals(t *testing.T) {
	hosts := extractHosts("HostSNI(`app.example.com`, `alt.example.com`)")
	assert.ElementsMatch(t, []string{"app.example.com", "alt.example.com"}, hosts)
}

func TestExtractHostsSkipsDynamicRegexpPortion(t *testing.T) {
	hosts := extractHosts("HostRegexp(`^.+\\.example\\.com$`)")
	assert.Empty(t, hosts)
}

func TestExtractFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")
	content := `
http:
  routers:
    web:
      rule: "Host(` + "`app.example.com`" + `)"
    internal:
      rule: "Host(` + "`admin.example.com`" + `)"
      labels:
        skip: "true"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	e := New(Config{ConfigPath: path, DefaultTTL: 300})
	specs, err := e.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "app.example.com", specs[0].Hostname)
	assert.Equal(t, endpoint.SourceRouter, specs[0].Source)
}

func TestExtractReturnsNilForMissingFile(t *testing.T) {
	e := New(Config{ConfigPath: "/nonexistent/dynamic.yaml"})
	specs, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestExtractReturnsNilForUnconfiguredPath(t *testing.T) {
	e := New(Config{})
	specs, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, specs)
}
