package manual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

type fakeLister struct{ hosts []string }

func (f fakeLister) ListManaged() []string { return f.hosts }

type fakeResolver struct {
	ip string
	ok bool
}

func (f fakeResolver) PublicIPv4() (string, bool) { return f.ip, f.ok }

func TestExtractReturnsNilWhenNoManagedHostnames(t *testing.T) {
	e := New(Config{}, fakeLister{}, fakeResolver{})
	specs, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestExtractProducesImplicitARecords(t *testing.T) {
	e := New(Config{DefaultTTL: 300}, fakeLister{hosts: []string{"legacy.example.com"}}, fakeResolver{ip: "203.0.113.9", ok: true})
	specs, err := e.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, endpoint.RecordTypeA, specs[0].Type)
	require.NotNil(t, specs[0].Content)
	assert.Equal(t, "203.0.113.9", *specs[0].Content)
	assert.Equal(t, endpoint.SourceManual, specs[0].Source)
}

func TestExtractLeavesContentNilWhenNoPublicIP(t *testing.T) {
	e := New(Config{}, fakeLister{hosts: []string{"legacy.example.com"}}, fakeResolver{})
	specs, err := e.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Nil(t, specs[0].Content)
}
