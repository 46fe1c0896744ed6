package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

type staticExtractor struct {
	name  string
	specs []endpoint.DesiredSpec
}

func (s staticExtractor) Name() string { return s.name }
func (s staticExtractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	return s.specs, nil
}

func TestNormalizeHostnameLowercasesAndStripsTrailingDot(t *testing.T) {
	got, ok := NormalizeHostname("App.Example.COM.")
	require.True(t, ok)
	assert.Equal(t, "app.example.com", got)
}

func TestNormalizeHostnameRejectsInvalidNames(t *testing.T) {
	_, ok := NormalizeHostname("")
	assert.False(t, ok)

	_, ok = NormalizeHostname("not a hostname")
	assert.False(t, ok)
}

func TestUnionLaterSourceWinsOnConflictingFields(t *testing.T) {
	router := staticExtractor{name: "router", specs: []endpoint.DesiredSpec{
		{Hostname: "app.example.com", Type: endpoint.RecordTypeA, TTL: 60, Managed: true},
	}}
	ttl300 := endpoint.TTL(300)
	container := staticExtractor{name: "container-label", specs: []endpoint.DesiredSpec{
		{Hostname: "app.example.com", Type: endpoint.RecordTypeA, TTL: ttl300, Managed: true},
	}}

	merged, err := Union(context.Background(), router, container)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, endpoint.TTL(300), merged[0].TTL)
}

func TestUnionDropsSyntacticallyInvalidHostnames(t *testing.T) {
	ex := staticExtractor{name: "router", specs: []endpoint.DesiredSpec{
		{Hostname: "not a hostname", Type: endpoint.RecordTypeA},
		{Hostname: "ok.example.com", Type: endpoint.RecordTypeA},
	}}

	merged, err := Union(context.Background(), ex)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "ok.example.com", merged[0].Hostname)
}

func TestUnionStampsOriginWhenUnset(t *testing.T) {
	ex := staticExtractor{name: "router", specs: []endpoint.DesiredSpec{
		{Hostname: "app.example.com", Type: endpoint.RecordTypeA},
	}}

	merged, err := Union(context.Background(), ex)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "router", merged[0].Origin)
}

func TestUnionPropagatesExtractorError(t *testing.T) {
	_, err := Union(context.Background(), failingExtractor{})
	assert.Error(t, err)
}

type failingExtractor struct{}

func (failingExtractor) Name() string { return "failing" }
func (failingExtractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	return nil, assertErr
}

var assertErr = errAlways{}

type errAlways struct{}

func (errAlways) Error() string { return "always fails" }
